package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lv-margin/internal/marketdata"
	"lv-margin/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversToEverySink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}
	d := NewDispatcher(DispatcherConfig{}, zaptest.NewLogger(t), nil, ok, failing)

	d.Notify(context.Background(), Event{Type: EventOrderExecuted, Account: model.AccountKey{UserID: "u1", Venue: "g1"}})
	d.Stop()

	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
	assert.False(t, ok.events[0].At.IsZero())
}

func TestBusSinkAddressesAccount(t *testing.T) {
	bus := marketdata.NewBus()
	sub := bus.Subscribe(marketdata.ForAccount("u1", "g1"))
	defer bus.Unsubscribe(sub)

	sink := NewBusSink(bus)
	require.NoError(t, sink.Send(context.Background(), Event{Type: EventPositionLiquidated, Account: model.AccountKey{UserID: "u1", Venue: "g1"}}))
	require.NoError(t, sink.Send(context.Background(), Event{Type: EventPositionLiquidated, Account: model.AccountKey{UserID: "u2", Venue: "g1"}}))

	select {
	case evt := <-sub:
		assert.Equal(t, EventPositionLiquidated, evt.Type)
		assert.Equal(t, "u1", evt.UserID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	assert.Len(t, sub, 0)
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	assert.NotPanics(t, func() { n.Notify(context.Background(), Event{Type: EventLoanRepaid}) })
}
