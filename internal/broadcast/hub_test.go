package broadcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receiveOrTimeout(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func assertNoDelivery(t *testing.T, ch chan []byte) {
	t.Helper()
	select {
	case data := <-ch:
		t.Fatalf("unexpected delivery: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubBroadcastExcludesOriginator(t *testing.T) {
	h := NewHub()
	go h.Run()

	origin := h.NewConnection(nil, 7)
	observer := h.NewConnection(nil, 7)
	h.Register(origin)
	h.Register(observer)

	h.Broadcast(7, []byte(`{"event":"message.created"}`), origin.ID)

	got := receiveOrTimeout(t, observer.Send)
	require.JSONEq(t, `{"event":"message.created"}`, string(got))
	assertNoDelivery(t, origin.Send)
}

func TestHubBroadcastScopedToSession(t *testing.T) {
	h := NewHub()
	go h.Run()

	inSession := h.NewConnection(nil, 1)
	otherSession := h.NewConnection(nil, 2)
	h.Register(inSession)
	h.Register(otherSession)

	h.Broadcast(1, []byte("payload"), "")

	require.Equal(t, "payload", string(receiveOrTimeout(t, inSession.Send)))
	assertNoDelivery(t, otherSession.Send)
}

func TestHubUnregisterRemovesObserver(t *testing.T) {
	h := NewHub()
	go h.Run()

	conn := h.NewConnection(nil, 3)
	h.Register(conn)

	deadline := time.Now().Add(time.Second)
	for h.ObserverCount(3) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(time.Millisecond)
	}

	h.Unregister(conn)
	for h.ObserverCount(3) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never unregistered")
		}
		time.Sleep(time.Millisecond)
	}

	// Send channel is closed on unregister.
	_, open := <-conn.Send
	require.False(t, open)
}
