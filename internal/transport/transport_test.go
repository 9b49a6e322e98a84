package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"replicore/internal/channel"
	"replicore/internal/logging"
)

func newTestServer(t *testing.T) (*httptest.Server, chan *WebSocket) {
	t.Helper()
	upgrader := NewUpgrader(nil, logging.NewTestLogger())
	accepted := make(chan *WebSocket, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Accept(upgrader, w, r, 0, logging.NewTestLogger(), 20*time.Millisecond)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		accepted <- ws
	}))
	t.Cleanup(server.Close)
	return server, accepted
}

func dial(t *testing.T, server *httptest.Server) *WebSocket {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	client, err := Dial(url, logging.NewTestLogger(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWebSocketRoundTripsUpdatesPayload(t *testing.T) {
	server, accepted := newTestServer(t)
	client := dial(t, server)
	srv := <-accepted

	payload := []byte{0x01, 0x02, 0x03}
	client.Send(channel.Updates, payload)

	deadline := time.After(2 * time.Second)
	for {
		if msgs := srv.Receive(channel.Updates); len(msgs) == 1 {
			if string(msgs[0]) != string(payload) {
				t.Fatalf("expected payload %v, got %v", payload, msgs[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for message")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWebSocketCompressesMutationsChannel(t *testing.T) {
	server, accepted := newTestServer(t)
	client := dial(t, server)
	srv := <-accepted

	payload := []byte(strings.Repeat("x", 64))
	client.Send(channel.Mutations, payload)

	deadline := time.After(2 * time.Second)
	for {
		if msgs := srv.Receive(channel.Mutations); len(msgs) == 1 {
			if string(msgs[0]) != string(payload) {
				t.Fatalf("expected decompressed payload to round-trip, got %v", msgs[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for message")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestWebSocketStatusTransitionsOnClose(t *testing.T) {
	server, accepted := newTestServer(t)
	client := dial(t, server)
	srv := <-accepted

	if client.Status() != channel.Connected {
		t.Fatalf("expected client connected, got %v", client.Status())
	}

	_ = client.Close()

	deadline := time.After(2 * time.Second)
	for {
		if srv.Status() == channel.Disconnected {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for server to observe disconnect")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEncodeDecodeFrameRoundTrips(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	raw := encodeFrame(channel.Updates, payload)
	ch, decoded, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if ch != channel.Updates {
		t.Fatalf("expected channel %v, got %v", channel.Updates, ch)
	}
	if string(decoded) != string(payload) {
		t.Fatalf("expected payload %v, got %v", payload, decoded)
	}
}

func TestDecodeFrameRejectsShortInput(t *testing.T) {
	if _, _, err := decodeFrame([]byte{0x00}); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestWebSocketStatsTracksThroughputAndLoss(t *testing.T) {
	server, accepted := newTestServer(t)
	client := dial(t, server)
	srv := <-accepted

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	client.Send(channel.Updates, payload)

	deadline := time.After(2 * time.Second)
	for len(srv.Receive(channel.Updates)) == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for message")
		case <-time.After(5 * time.Millisecond):
		}
	}

	clientStats := client.Stats()
	if clientStats.SentBytesPerSecond <= 0 {
		t.Fatalf("expected positive SentBytesPerSecond, got %v", clientStats.SentBytesPerSecond)
	}
	serverStats := srv.Stats()
	if serverStats.ReceivedBytesPerSecond <= 0 {
		t.Fatalf("expected positive ReceivedBytesPerSecond, got %v", serverStats.ReceivedBytesPerSecond)
	}
	if serverStats.PacketLoss != 0 {
		t.Fatalf("expected zero loss for well-formed frames, got %v", serverStats.PacketLoss)
	}
}
