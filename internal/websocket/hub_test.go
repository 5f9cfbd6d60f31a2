package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/timeline/internal/owner"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub, ownerID string) *Client {
	return &Client{
		hub:   hub,
		owner: ownerID,
		send:  make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub, "alice")
	c2 := mockClient(hub, "alice")
	c3 := mockClient(hub, "bob")

	hub.Register(c1)
	hub.Register(c2)
	hub.Register(c3)

	if got := hub.ClientCount("alice"); got != 2 {
		t.Fatalf("expected 2 alice clients, got %d", got)
	}
	if got := hub.TotalClients(); got != 3 {
		t.Fatalf("expected 3 clients total, got %d", got)
	}

	hub.Unregister(c1)
	if got := hub.ClientCount("alice"); got != 1 {
		t.Fatalf("expected 1 alice client after unregister, got %d", got)
	}

	hub.Unregister(c2)
	hub.Unregister(c3)
	if got := hub.TotalClients(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(nil)
	c := mockClient(hub, "alice")
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount("alice"); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcastReachesOnlyOwner(t *testing.T) {
	hub := NewHub(slog.Default())

	alice := mockClient(hub, "alice")
	bob := mockClient(hub, "bob")
	hub.Register(alice)
	hub.Register(bob)

	hub.Broadcast("alice", NewMessage("ticket", "created", "t-42", map[string]any{"lane": float64(1)}))

	select {
	case data := <-alice.send:
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Type != "ticket_created" || got.Entity != "ticket" || got.ID != "t-42" {
			t.Errorf("message = %+v", got)
		}
		if got.Extra["lane"] != float64(1) {
			t.Errorf("extra = %v", got.Extra)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}

	select {
	case data := <-bob.send:
		t.Errorf("bob received %s", data)
	default:
	}

	hub.Unregister(alice)
	hub.Unregister(bob)
}

func TestBroadcastUnknownOwner(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	hub.Broadcast("nobody", NewMessage("ticket", "deleted", "t-1", nil))
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub, "alice")
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast("alice", NewMessage("ticket", "updated", "t-1", nil))
	}

	// This should drop the message, not panic or block
	hub.Broadcast("alice", NewMessage("ticket", "dropped", "t-2", nil))

	count := 0
	for len(c.send) > 0 {
		<-c.send
		count++
	}
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}
	if hub.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", hub.Dropped())
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage("ticket", "moved", "t-5", nil)
	if msg.Type != "ticket_moved" {
		t.Errorf("expected type ticket_moved, got %s", msg.Type)
	}
	if msg.Entity != "ticket" || msg.Action != "moved" || msg.ID != "t-5" {
		t.Errorf("message = %+v", msg)
	}
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	hub := NewHub(nil)
	c1 := mockClient(hub, "alice")
	c2 := mockClient(hub, "bob")
	hub.Register(c1)
	hub.Register(c2)

	hub.Close()

	if hub.TotalClients() != 0 {
		t.Errorf("TotalClients = %d after Close", hub.TotalClients())
	}
	if _, ok := <-c1.send; ok {
		t.Error("send channel should be closed")
	}
	// Unregister after Close must not double-close.
	hub.Unregister(c2)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "alice"
			if i%2 == 0 {
				id = "bob"
			}
			c := mockClient(hub, id)
			hub.Register(c)
			hub.Broadcast(id, NewMessage("ticket", "concurrent", "", nil))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.TotalClients(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestHandleWebSocketDelivers(t *testing.T) {
	hub := NewHub(nil)
	handler := HandleWebSocket(hub, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r.WithContext(owner.WithOwner(r.Context(), r.Header.Get("X-Owner-ID"))))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{
		HTTPHeader: http.Header{"X-Owner-ID": []string{"alice"}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for hub.ClientCount("alice") == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("client never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	hub.Broadcast("alice", NewMessage("ticket", "created", "t-1", nil))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "ticket_created" || got.ID != "t-1" {
		t.Errorf("message = %+v", got)
	}
}

func TestHandleWebSocketRequiresOwner(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleWebSocket(NewHub(nil), nil, nil)(rec, httptest.NewRequest("GET", "/ws", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
