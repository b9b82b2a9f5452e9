package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishDelivers(t *testing.T) {
	hub := NewHub()
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish(Event{Reason: "toggle", Subject: "u1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, "toggle", e.Reason)
			assert.Equal(t, "u1", e.Subject)
			assert.False(t, e.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestHub_Coalesces(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(Event{Reason: "first"})
	hub.Publish(Event{Reason: "second"})
	hub.Publish(Event{Reason: "third"})

	e := <-ch
	assert.Equal(t, "third", e.Reason)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %q", extra.Reason)
	default:
	}
}

func TestHub_Cancel(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	assert.NotPanics(t, func() { hub.Publish(Event{Reason: "after cancel"}) })
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()

	hub.Close()
	hub.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, cancel)

	late, _ := hub.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
