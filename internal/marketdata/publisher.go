package marketdata

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartPublisher pushes the cached mark of each instrument onto the bus at
// every interval until ctx is cancelled.
func StartPublisher(ctx context.Context, bus *Bus, feed *Feed, instruments []string, interval time.Duration, logger *zap.Logger) {
	if len(instruments) == 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger = logger.Named("publisher")
	logger.Info("starting quote publisher", zap.Strings("instruments", instruments), zap.Duration("interval", interval))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				publishQuotes(ctx, bus, feed, instruments, logger)
			}
		}
	}()
}

func publishQuotes(ctx context.Context, bus *Bus, feed *Feed, instruments []string, logger *zap.Logger) {
	for _, inst := range instruments {
		q, err := feed.Quote(ctx, inst, false)
		if err != nil {
			logger.Debug("quote unavailable", zap.String("instrument", inst), zap.Error(err))
			continue
		}
		bus.Publish(Event{Type: "quote", Data: q})
	}
}
