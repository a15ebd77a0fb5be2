package events

import (
	"testing"
	"time"
)

func TestPublishFansOutByTopic(t *testing.T) {
	bus := NewBus()
	prices, unsubPrices := bus.Subscribe(4, EventPriceUpdated)
	defer unsubPrices()
	all, unsubAll := bus.Subscribe(4, EventPriceUpdated, EventOperationExecuted)
	defer unsubAll()

	bus.Publish(EventPriceUpdated, "Favicoin")
	bus.Publish(EventOperationExecuted, "purchase")

	if got := receive(t, prices); got.Event != EventPriceUpdated || got.Payload != "Favicoin" {
		t.Fatalf("unexpected message %+v", got)
	}
	select {
	case msg := <-prices:
		t.Fatalf("price subscriber received %s", msg.Event)
	default:
	}

	if got := receive(t, all); got.Event != EventPriceUpdated {
		t.Fatalf("unexpected first message %+v", got)
	}
	if got := receive(t, all); got.Event != EventOperationExecuted || got.PublishedAt.IsZero() {
		t.Fatalf("unexpected second message %+v", got)
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe(1, EventPriceUpdated)
	defer unsub()

	bus.Publish(EventPriceUpdated, 1)
	bus.Publish(EventPriceUpdated, 2)
	bus.Publish(EventPriceUpdated, 3)

	if bus.Dropped() != 2 {
		t.Fatalf("Dropped = %d, want 2", bus.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1, EventUserRegistered)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	bus.Publish(EventUserRegistered, "Annet")
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(EventPriceUpdated, nil)
	if bus.Dropped() != 0 {
		t.Fatal("nil bus reported drops")
	}
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}
