// Package notify delivers fire-and-forget account events. Delivery failures
// are logged and counted; they never reach the caller.
package notify

import (
	"context"
	"time"

	"lv-margin/internal/metrics"
	"lv-margin/internal/model"

	"github.com/alitto/pond"
	"go.uber.org/zap"
)

const (
	EventOrderExecuted      = "order_executed"
	EventOrderTriggered     = "order_triggered"
	EventOrderCancelled     = "order_cancelled"
	EventStopTriggered      = "stop_triggered"
	EventPositionLiquidated = "position_liquidated"
	EventLoanBorrowed       = "loan_borrowed"
	EventLoanRepaid         = "loan_repaid"
)

type Event struct {
	Type    string           `json:"type"`
	Account model.AccountKey `json:"account"`
	Message string           `json:"message,omitempty"`
	Data    any              `json:"data,omitempty"`
	At      time.Time        `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, evt Event)
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

type DispatcherConfig struct {
	MaxWorkers  int
	MaxCapacity int
	SendTimeout time.Duration
}

// Dispatcher fans events out to its sinks on a bounded worker pool. When the
// queue is full the event is dropped.
type Dispatcher struct {
	pool    *pond.WorkerPool
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 1000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 3 * time.Second
	}
	logger = logger.Named("notify")
	pool := pond.New(cfg.MaxWorkers, cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(time.Minute),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("notification worker panic recovered", zap.Any("panic", p))
		}),
	)
	return &Dispatcher{pool: pool, sinks: sinks, timeout: cfg.SendTimeout, logger: logger, metrics: m}
}

func (d *Dispatcher) Notify(_ context.Context, evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	for _, sink := range d.sinks {
		sink := sink
		ok := d.pool.TrySubmit(func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := sink.Send(ctx, evt); err != nil {
				d.metrics.Notification(sink.Name(), "error")
				d.logger.Warn("notification delivery failed", zap.String("sink", sink.Name()), zap.String("type", evt.Type),
					zap.String("user_id", evt.Account.UserID), zap.Error(err))
				return
			}
			d.metrics.Notification(sink.Name(), "ok")
		})
		if !ok {
			d.metrics.Notification(sink.Name(), "dropped")
			d.logger.Warn("notification queue full, dropping event", zap.String("sink", sink.Name()), zap.String("type", evt.Type))
		}
	}
}

// Stop waits for queued deliveries.
func (d *Dispatcher) Stop() {
	d.pool.StopAndWait()
}
