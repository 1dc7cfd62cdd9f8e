package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lv-margin/internal/marketdata"

	"github.com/segmentio/kafka-go"
)

// BusSink forwards events to WebSocket subscribers of the owning account.
type BusSink struct {
	bus *marketdata.Bus
}

func NewBusSink(bus *marketdata.Bus) *BusSink {
	return &BusSink{bus: bus}
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Send(_ context.Context, evt Event) error {
	s.bus.Publish(marketdata.Event{Type: evt.Type, UserID: evt.Account.UserID, Venue: evt.Account.Venue, Data: evt})
	return nil
}

// KafkaSink publishes events keyed by user so one account's events stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 2 * time.Second,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Account.UserID + "|" + evt.Account.Venue),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
		Time: evt.At,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
