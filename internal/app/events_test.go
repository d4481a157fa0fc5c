package app

import (
	"testing"

	"github.com/dkeye/Duet/internal/domain"
)

func TestEventBusFansOut(t *testing.T) {
	bus := NewEventBus()
	ch1, cancel1 := bus.Subscribe()
	ch2, cancel2 := bus.Subscribe()
	defer cancel1()
	defer cancel2()

	bus.Publish(Event{Status: &domain.Status{Category: domain.StatusConnected, Message: "in call"}})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Status == nil || ev.Status.Category != domain.StatusConnected {
				t.Fatalf("subscriber %d got unexpected event: %+v", i, ev)
			}
		default:
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestEventBusDropsForSlowSubscriber(t *testing.T) {
	bus := NewEventBus()
	_, cancel := bus.Subscribe()
	defer cancel()

	// Never blocks even when nobody drains the channel.
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Notification: &domain.Notification{Severity: domain.SeverityInfo, Message: "tick"}})
	}
}

func TestEventBusCancelStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe()
	cancel()

	bus.Publish(Event{Notification: &domain.Notification{Severity: domain.SeverityInfo, Message: "late"}})

	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to be closed after cancel")
	}
	// A second cancel must be harmless.
	cancel()
}
