package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RealtimeTransport is the pluggable connection to the hub. Manager owns
// exactly one at a time; a transport is single-use (Start once, Stop
// once, then discard) so Manager constructs a fresh one on every
// reconnect attempt.
type RealtimeTransport interface {
	// Start establishes the connection and blocks until it is ready or
	// ctx is cancelled / the dial fails.
	Start(ctx context.Context) error
	// Send writes a single text frame.
	Send(ctx context.Context, text string) error
	// Stop tears the connection down. Idempotent.
	Stop() error
	// Messages returns the channel of inbound frame payloads.
	Messages() <-chan []byte
	// Closed returns a channel that is closed when the transport has
	// detected a disconnect (read error, server close, ping failure).
	Closed() <-chan struct{}
}

const (
	transportPingInterval = 5 * time.Second
	transportWriteTimeout = 10 * time.Second
)

// WebSocketTransport is the default RealtimeTransport: a gorilla/websocket
// connection dialed at a URL derived from the hub's HTTP URL by mapping
// http→ws and https→wss, forwarding cookies from the hub session, and
// sending a ping frame every 5 seconds.
type WebSocketTransport struct {
	url    string
	header http.Header
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	msgCh  chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewWebSocketTransport derives the WebSocket URL from hubURL (http→ws,
// https→wss) and forwards cookies, if any, as a single Cookie header.
func NewWebSocketTransport(hubURL string, cookies []*http.Cookie, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	header := http.Header{}
	if len(cookies) > 0 {
		var b strings.Builder
		for i, c := range cookies {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(c.Name)
			b.WriteByte('=')
			b.WriteString(c.Value)
		}
		header.Set("Cookie", b.String())
	}
	return &WebSocketTransport{
		url:    wsURL(hubURL),
		header: header,
		logger: logger.With("component", "hub_transport"),
	}
}

func wsURL(hubURL string) string {
	switch {
	case strings.HasPrefix(hubURL, "https://"):
		return "wss://" + strings.TrimPrefix(hubURL, "https://")
	case strings.HasPrefix(hubURL, "http://"):
		return "ws://" + strings.TrimPrefix(hubURL, "http://")
	default:
		return hubURL
	}
}

// Start dials the WebSocket endpoint and begins the read and ping loops.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return fmt.Errorf("hub transport: dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.msgCh = make(chan []byte, 256)
	t.closed = make(chan struct{})
	t.once = sync.Once{}
	t.mu.Unlock()

	go t.readLoop(conn)
	go t.pingLoop(ctx, conn)

	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	defer t.markClosed()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Debug("hub transport: read error", "error", err)
			return
		}
		select {
		case t.msgCh <- data:
		default:
			t.logger.Warn("hub transport: message channel full, dropping frame")
		}
	}
}

func (t *WebSocketTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(transportPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Closed():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(transportWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.logger.Debug("hub transport: ping failed", "error", err)
				t.markClosed()
				return
			}
		}
	}
}

func (t *WebSocketTransport) markClosed() {
	t.mu.Lock()
	ch := t.closed
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
		t.once.Do(func() { close(ch) })
	}
}

// Send writes text as a single text frame.
func (t *WebSocketTransport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("hub transport: not connected")
	}
	conn.SetWriteDeadline(time.Now().Add(transportWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Stop closes the underlying connection. Idempotent.
func (t *WebSocketTransport) Stop() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	t.markClosed()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Messages returns the channel of inbound frame payloads.
func (t *WebSocketTransport) Messages() <-chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.msgCh
}

// Closed returns a channel closed once the transport detects disconnect.
func (t *WebSocketTransport) Closed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
