package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestMemRecorder_CollectsInOrder(t *testing.T) {
	rec := &MemRecorder{}
	actor := uuid.New()

	rec.Record(context.Background(), Event{EventType: EventSignup, ActorUserID: &actor})
	rec.Record(context.Background(), Event{EventType: EventLogin, ActorUserID: &actor})

	events := rec.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].EventType != EventSignup || events[1].EventType != EventLogin {
		t.Errorf("events out of order: %q, %q", events[0].EventType, events[1].EventType)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be filled in")
	}
}

func TestMemRecorder_ConcurrentRecord(t *testing.T) {
	rec := &MemRecorder{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Record(context.Background(), Event{EventType: EventMessagePosted})
		}()
	}
	wg.Wait()

	if got := len(rec.Events()); got != 50 {
		t.Errorf("expected 50 events, got %d", got)
	}
}

func TestNopRecorder_DoesNothing(t *testing.T) {
	var rec NopRecorder
	// Must not panic with a zero-value event.
	rec.Record(context.Background(), Event{})
}
