package eventbus

import "testing"

func TestPublishSubscribeDeliversTypedEvent(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(1)
	defer unsubscribe()

	b.Publish(Event{Type: RunQueued, Data: map[string]any{"run_id": "r1"}})

	select {
	case e := <-ch:
		if e.Type != RunQueued {
			t.Fatalf("expected %q, got %q", RunQueued, e.Type)
		}
	default:
		t.Fatal("expected a buffered event to be immediately readable")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsubscribe := b.Subscribe(1)
	unsubscribe()

	b.Publish(Event{Type: RunFinished})

	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to be closed after unsubscribe")
	}
}
