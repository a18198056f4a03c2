package synccore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketTransport is the stock SyncTransport: a websocket connection to
// the sync relay, identified to the relay by the pool's connection id, with
// cadence changes sent as control frames.
type WebsocketTransport struct {
	url    string
	dialer *websocket.Dialer
	log    *slog.Logger

	m    sync.Mutex
	conn *websocket.Conn
}

type syncFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id,omitempty"`
	IntervalMs   int64  `json:"interval_ms,omitempty"`
}

func NewWebsocketTransport(url string, log *slog.Logger) *WebsocketTransport {
	if log == nil {
		log = slog.Default()
	}
	return &WebsocketTransport{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    log.With("component", "transport"),
	}
}

func (t *WebsocketTransport) Open(ctx context.Context, connectionID string) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.url, err)
	}
	if err := conn.WriteJSON(syncFrame{Type: "open", ConnectionID: connectionID}); err != nil {
		conn.Close()
		return fmt.Errorf("announcing connection: %w", err)
	}
	t.m.Lock()
	t.conn = conn
	t.m.Unlock()
	return nil
}

// SetCadence tells the relay how often to exchange sync batches. Failures are
// logged only; the relay keeps the previous cadence.
func (t *WebsocketTransport) SetCadence(interval time.Duration) {
	t.m.Lock()
	defer t.m.Unlock()
	if t.conn == nil {
		return
	}
	frame := syncFrame{Type: "cadence", IntervalMs: interval.Milliseconds()}
	if err := t.conn.WriteJSON(frame); err != nil {
		t.log.Warn("cadence update failed", "err", err)
	}
}

func (t *WebsocketTransport) Close() error {
	t.m.Lock()
	conn := t.conn
	t.conn = nil
	t.m.Unlock()
	if conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		t.log.Debug("close handshake skipped", "err", err)
	}
	return conn.Close()
}
