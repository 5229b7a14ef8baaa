package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"itemprice/internal/models"
)

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubPublishesCommittedPrices(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForClients(t, hub, 1)

	ref := uint(3)
	hub.Publish([]models.TrustedPrice{
		{ItemInternalID: 7, Name: "Faerie Paint Brush", Price: 300000, NoInflationRefID: &ref},
		{ItemInternalID: 8, Name: "Codestone", Price: 900},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var events []PriceEvent
	if err := conn.ReadJSON(&events); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !events[0].Inflated || events[1].Inflated || events[1].Price != 900 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)

	hub.Publish([]models.TrustedPrice{{ItemInternalID: 1, Price: 10}})
}
