package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

type retryCall struct {
	id   string
	next time.Time
}

type stubEventOutbox struct {
	claimed []Event
	acked   []string
	retried []retryCall
}

func (s *stubEventOutbox) ClaimBatch(context.Context, int) ([]Event, error) {
	out := s.claimed
	s.claimed = nil
	return out, nil
}

func (s *stubEventOutbox) Ack(_ context.Context, id string) error {
	s.acked = append(s.acked, id)
	return nil
}

func (s *stubEventOutbox) Retry(_ context.Context, id string, _ error, next time.Time) error {
	s.retried = append(s.retried, retryCall{id: id, next: next})
	return nil
}

func TestEventDispatcher_AckSuccess(t *testing.T) {
	outbox := &stubEventOutbox{claimed: []Event{{ID: "evt_1", Name: EventDeposited}}}
	var seen []string
	dispatcher, err := NewEventDispatcher(outbox, DefaultEventDispatcherConfig(),
		EventHandlerFunc(func(_ context.Context, event Event) error {
			seen = append(seen, event.ID)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	stats, err := dispatcher.DispatchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch pending: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 || stats.Retried != 0 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(outbox.acked) != 1 || outbox.acked[0] != "evt_1" || len(seen) != 1 {
		t.Fatalf("expected ack for evt_1")
	}
}

func TestEventDispatcher_RetryWithBackoff(t *testing.T) {
	outbox := &stubEventOutbox{claimed: []Event{{ID: "evt_retry", Name: EventSettled, Attempts: 1}}}
	dispatcher, err := NewEventDispatcher(outbox, EventDispatcherConfig{
		BatchSize:      10,
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
	}, EventHandlerFunc(func(context.Context, Event) error {
		return errors.New("temporary")
	}))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dispatcher.now = func() time.Time { return fixed }

	stats, err := dispatcher.DispatchPending(context.Background(), 0)
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	if stats.Retried != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(outbox.retried) != 1 {
		t.Fatalf("expected one retry call")
	}
	if want := fixed.Add(2 * time.Second); !outbox.retried[0].next.Equal(want) {
		t.Fatalf("expected next attempt %s, got %s", want, outbox.retried[0].next)
	}
}

func TestEventDispatcher_MaxAttemptsMarkedFailed(t *testing.T) {
	outbox := &stubEventOutbox{claimed: []Event{{ID: "evt_fail", Name: EventSettled, Attempts: 2}}}
	dispatcher, err := NewEventDispatcher(outbox, EventDispatcherConfig{MaxAttempts: 3},
		EventHandlerFunc(func(context.Context, Event) error {
			return errors.New("permanent")
		}),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	stats, err := dispatcher.DispatchPending(context.Background(), 10)
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	if stats.Failed != 1 || stats.Retried != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(outbox.retried) != 1 || !outbox.retried[0].next.IsZero() {
		t.Fatalf("expected zero next attempt to mark failed")
	}
}

func TestEventDispatcher_DrainsServiceEvents(t *testing.T) {
	f := initialized(t, 60, 100)
	var names []string
	dispatcher, err := NewEventDispatcher(f.store, DefaultEventDispatcherConfig(),
		EventHandlerFunc(func(_ context.Context, event Event) error {
			names = append(names, event.Name)
			return nil
		}),
	)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	stats, err := dispatcher.DispatchPending(context.Background(), 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Delivered != 2 || len(names) != 2 {
		t.Fatalf("expected two delivered events, got %+v %v", stats, names)
	}
	again, err := dispatcher.DispatchPending(context.Background(), 0)
	if err != nil || again.Claimed != 0 {
		t.Fatalf("expected empty second pass, got %+v %v", again, err)
	}
}

func TestNewEventDispatcher_RequiresOutbox(t *testing.T) {
	if _, err := NewEventDispatcher(nil, EventDispatcherConfig{}); err == nil {
		t.Fatalf("expected missing outbox error")
	}
}
