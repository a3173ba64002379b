// Package transport provides message channels a connection can run over.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"neurosdk/pkg/api"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = fmt.Errorf("transport: %w", api.ErrConnectionClosed)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Controllers run locally and send no meaningful Origin
	},
}

// WebSocket adapts a gorilla connection to api.Transport. Writes are
// serialized; one goroutine may read concurrently with writers.
type WebSocket struct {
	conn         *websocket.Conn
	mu           sync.Mutex // Serializes writes
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       chan struct{}
}

// NewWebSocket wraps an established connection. A zero writeTimeout
// disables write deadlines.
func NewWebSocket(conn *websocket.Conn, writeTimeout time.Duration) *WebSocket {
	return &WebSocket{
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

func (ws *WebSocket) ReadMessage() ([]byte, error) {
	_, data, err := ws.conn.ReadMessage()
	if err != nil {
		select {
		case <-ws.closed:
			return nil, ErrClosed
		default:
		}
		return nil, err
	}
	return data, nil
}

func (ws *WebSocket) WriteMessage(data []byte) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	select {
	case <-ws.closed:
		return ErrClosed
	default:
	}
	if ws.writeTimeout > 0 {
		_ = ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
	}
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame when possible and releases the socket.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		ws.mu.Lock()
		close(ws.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		ws.mu.Unlock()
		err = ws.conn.Close()
	})
	return err
}

// RemoteAddr reports the peer address.
func (ws *WebSocket) RemoteAddr() string {
	return ws.conn.RemoteAddr().String()
}

// DialOptions configure Dial.
type DialOptions struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// Dial connects to a controller at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts DialOptions) (*WebSocket, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := d.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocket(conn, opts.WriteTimeout), nil
}

// Dialer returns an api.Dialer for url.
func Dialer(url string, opts DialOptions) api.Dialer {
	return func(ctx context.Context) (api.Transport, error) {
		return Dial(ctx, url, opts)
	}
}

// Upgrade accepts a websocket on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request, writeTimeout time.Duration) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, writeTimeout), nil
}

// Handler upgrades every request and passes the transport to serve, which
// owns it from then on. serve runs on the request goroutine.
func Handler(serve func(t api.Transport, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Upgrade(w, r, 10*time.Second)
		if err != nil {
			slog.Error("WS Upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		serve(ws, r)
	})
}

// IsNormalClose reports whether err is a peer closing the socket cleanly.
func IsNormalClose(err error) bool {
	if errors.Is(err, ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

var _ api.Transport = (*WebSocket)(nil)
