package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeChangeFound, Time: time.Now()})

	select {
	case e := <-ch:
		if e.Type != TypeChangeFound {
			t.Fatalf("type = %q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeCheckFinished, Time: time.Now()})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	b.Publish(Event{Type: TypeCheckStarted, Time: time.Now()})

	select {
	case _, okc := <-ch:
		if okc {
			t.Fatalf("received event after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
