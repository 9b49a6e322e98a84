// Package transport implements channel.Transport over a WebSocket
// connection.
//
// Grounded on the teacher's go-broker/main.go Client struct and its
// read-pump/write-pump goroutines (SetReadDeadline/SetPongHandler keepalive,
// writeWait/pongWaitMultiplier/pingInterval constants, the ping-ticker
// select loop), and on go-broker/internal/websockettest/dial.go for the
// client-side Dial helper. Unlike the teacher's JSON envelopes, frames here
// carry the engine's binary wire format (internal/wire), tagged with the
// logical channel (spec §4.3) they belong to, with Mutations-channel
// payloads snappy-compressed the way go-broker/internal/replay/writer.go
// compresses its event stream.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"

	"replicore/internal/channel"
	"replicore/internal/config"
	"replicore/internal/logging"
)

const (
	writeWait          = 10 * time.Second
	pongWaitMultiplier = 2
)

// frame formats, the byte following the channel tag in every wire frame.
const (
	formatRaw    byte = 0
	formatSnappy byte = 1
)

func encodeFrame(ch channel.Channel, payload []byte) []byte {
	format := formatRaw
	body := payload
	if ch == channel.Mutations && len(payload) > 0 {
		body = snappy.Encode(nil, payload)
		format = formatSnappy
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, byte(ch), format)
	out = append(out, body...)
	return out
}

func decodeFrame(raw []byte) (channel.Channel, []byte, error) {
	if len(raw) < 2 {
		return 0, nil, errors.New("transport: frame shorter than header")
	}
	ch := channel.Channel(raw[0])
	body := raw[2:]
	switch raw[1] {
	case formatRaw:
		return ch, body, nil
	case formatSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return 0, nil, fmt.Errorf("transport: snappy decode: %w", err)
		}
		return ch, decoded, nil
	default:
		return 0, nil, fmt.Errorf("transport: unknown frame format %d", raw[1])
	}
}

type outbound struct {
	ch      channel.Channel
	payload []byte
}

// Stats reports this connection's observed network characteristics,
// grounded on original_source/src/core/replicon_client.rs's rtt/
// packet_loss/sent_bps/received_bps fields on the client connection
// resource. PacketLoss is measured as the share of inbound frames dropped
// for being malformed, since a reliable WebSocket stream has no other
// observable loss signal.
type Stats struct {
	RTTMillis              float64
	PacketLoss             float64
	SentBytesPerSecond     float64
	ReceivedBytesPerSecond float64
}

type connStats struct {
	connectedAt      time.Time
	lastPingAt       time.Time
	rttMillis        float64
	bytesSent        uint64
	bytesReceived    uint64
	framesReceived   uint64
	malformedDropped uint64
}

// WebSocket is a channel.Transport backed by a single *websocket.Conn. One
// instance serves one peer connection, on either the server or client side
// of the engine.
type WebSocket struct {
	conn         *websocket.Conn
	log          *logging.Logger
	pingInterval time.Duration
	pongWait     time.Duration

	send    chan outbound
	stop    chan struct{}
	stopped sync.Once

	mu     sync.Mutex
	status channel.Status
	inbox  map[channel.Channel][][]byte

	statsMu sync.Mutex
	stats   connStats
}

// New wraps an already-established *websocket.Conn (from either
// Upgrade or Dial) as a channel.Transport and starts its read/write pumps.
// pingInterval defaults to config.DefaultPingInterval when zero.
func New(conn *websocket.Conn, log *logging.Logger, pingInterval time.Duration) *WebSocket {
	if log == nil {
		log = logging.L()
	}
	if pingInterval <= 0 {
		pingInterval = config.DefaultPingInterval
	}
	ws := &WebSocket{
		conn:         conn,
		log:          log,
		pingInterval: pingInterval,
		pongWait:     time.Duration(pongWaitMultiplier) * pingInterval,
		send:         make(chan outbound, 256),
		stop:         make(chan struct{}),
		status:       channel.Connected,
		inbox:        make(map[channel.Channel][][]byte),
	}
	ws.stats.connectedAt = time.Now()

	_ = conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	conn.SetPongHandler(func(string) error {
		ws.statsMu.Lock()
		if !ws.stats.lastPingAt.IsZero() {
			ws.stats.rttMillis = float64(time.Since(ws.stats.lastPingAt)) / float64(time.Millisecond)
		}
		ws.statsMu.Unlock()
		return conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	})

	go ws.readPump()
	go ws.writePump()
	return ws
}

// Dial connects to a WebSocket endpoint and wraps the resulting connection.
func Dial(url string, log *logging.Logger, pingInterval time.Duration) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	return New(conn, log, pingInterval), nil
}

// Receive drains and returns all messages buffered for ch since the last
// call, satisfying channel.Transport.
func (ws *WebSocket) Receive(ch channel.Channel) [][]byte {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	msgs := ws.inbox[ch]
	delete(ws.inbox, ch)
	return msgs
}

// Send enqueues payload for delivery on ch, satisfying channel.Transport.
// It is a no-op once the connection has been closed.
func (ws *WebSocket) Send(ch channel.Channel, payload []byte) {
	select {
	case ws.send <- outbound{ch: ch, payload: payload}:
	case <-ws.stop:
	}
}

// Status reports the current connection lifecycle state.
func (ws *WebSocket) Status() channel.Status {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.status
}

// Stats reports the connection's RTT, inbound frame loss, and throughput
// observed since it was established.
func (ws *WebSocket) Stats() Stats {
	ws.statsMu.Lock()
	defer ws.statsMu.Unlock()

	elapsed := time.Since(ws.stats.connectedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	var loss float64
	if total := ws.stats.framesReceived + ws.stats.malformedDropped; total > 0 {
		loss = float64(ws.stats.malformedDropped) / float64(total)
	}
	return Stats{
		RTTMillis:              ws.stats.rttMillis,
		PacketLoss:             loss,
		SentBytesPerSecond:     float64(ws.stats.bytesSent) / elapsed,
		ReceivedBytesPerSecond: float64(ws.stats.bytesReceived) / elapsed,
	}
}

// Close terminates the connection and stops both pumps.
func (ws *WebSocket) Close() error {
	ws.stopped.Do(func() { close(ws.stop) })
	return ws.conn.Close()
}

func (ws *WebSocket) setStatus(s channel.Status) {
	ws.mu.Lock()
	ws.status = s
	ws.mu.Unlock()
}

func (ws *WebSocket) readPump() {
	defer ws.Close()
	for {
		messageType, raw, err := ws.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				ws.log.Warn("transport read deadline exceeded", logging.Error(err))
			} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.log.Info("transport connection closed", logging.Error(err))
			} else {
				ws.log.Error("transport read error", logging.Error(err))
			}
			ws.setStatus(channel.Disconnected)
			return
		}
		if messageType != websocket.BinaryMessage {
			ws.log.Debug("transport dropping non-binary frame")
			continue
		}
		ch, payload, err := decodeFrame(raw)
		if err != nil {
			ws.log.Warn("transport dropping malformed frame", logging.Error(err))
			ws.statsMu.Lock()
			ws.stats.malformedDropped++
			ws.statsMu.Unlock()
			continue
		}
		ws.statsMu.Lock()
		ws.stats.framesReceived++
		ws.stats.bytesReceived += uint64(len(raw))
		ws.statsMu.Unlock()
		ws.mu.Lock()
		ws.inbox[ch] = append(ws.inbox[ch], payload)
		ws.mu.Unlock()
	}
}

func (ws *WebSocket) writePump() {
	ticker := time.NewTicker(ws.pingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.conn.Close()
	}()
	for {
		select {
		case msg := <-ws.send:
			if err := ws.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				ws.log.Error("transport failed to set write deadline", logging.Error(err))
				ws.setStatus(channel.Disconnected)
				return
			}
			frame := encodeFrame(msg.ch, msg.payload)
			if err := ws.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				ws.log.Error("transport write error", logging.Error(err))
				ws.setStatus(channel.Disconnected)
				return
			}
			ws.statsMu.Lock()
			ws.stats.bytesSent += uint64(len(frame))
			ws.statsMu.Unlock()
		case <-ticker.C:
			ws.statsMu.Lock()
			ws.stats.lastPingAt = time.Now()
			ws.statsMu.Unlock()
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ws.log.Warn("transport ping failure", logging.Error(err))
				ws.setStatus(channel.Disconnected)
				return
			}
		case <-ws.stop:
			_ = ws.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
