package mobilesync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestWebSocketStreamsPublishedEvents(t *testing.T) {
	s, _ := newTestServer(t)
	claim := pairAndClaim(t, s)

	mux := http.NewServeMux()
	s.Routes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/mobile/v1/ws?token=" + claim.Token

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// The handler subscribes inside its own goroutine; give it a moment to
	// register before publishing, or the event could be missed.
	time.Sleep(20 * time.Millisecond)

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	s.Broker.PublishEvent("mobile.action.requested", payload)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var env EventEnvelopeV1
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.EventType != "mobile.action.requested" {
		t.Fatalf("eventType = %q", env.EventType)
	}
}

func TestWebSocketSendsGapNoticeWhenSinceIsStale(t *testing.T) {
	s, _ := newTestServer(t)
	claim := pairAndClaim(t, s)

	// Advance the sequence past what the client claims to have seen.
	s.Broker.PublishEvent("noise", nil)
	s.Broker.PublishEvent("noise", nil)

	mux := http.NewServeMux()
	s.Routes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/mobile/v1/ws?since=0&token=" + claim.Token

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var env EventEnvelopeV1
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.EventType != "sync.resnapshot_required" {
		t.Fatalf("eventType = %q, want sync.resnapshot_required", env.EventType)
	}
}
