package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Audio chunks dominate; 2MB is generous.
	maxFrameSize = 2 * 1024 * 1024

	// Buffered frames on each pump before backpressure applies.
	sendQueueSize = 64
	recvQueueSize = 64
)

// ErrTransportClosed is returned by Send after the connection has ended.
var ErrTransportClosed = errors.New("live transport is closed")

// Dialer opens websocket transports to the Gemini Live endpoint.
type Dialer struct {
	logger *zap.Logger
}

var _ repositories.TransportDialer = (*Dialer)(nil)

// NewDialer creates a Dialer.
func NewDialer(logger *zap.Logger) *Dialer {
	return &Dialer{logger: logger}
}

// Dial opens the duplex connection and starts its pumps. The API key rides
// as a query parameter, per the Live API.
func (d *Dialer) Dial(ctx context.Context, creds repositories.Credentials) (repositories.LiveTransport, error) {
	endpoint := creds.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid live endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", creds.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open live connection: %w", err)
	}

	t := &Transport{
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		recv:    make(chan []byte, recvQueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  d.logger,
	}
	go t.writePump()
	go t.readPump()

	d.logger.Info("Live connection opened", zap.String("endpoint", u.Host))
	return t, nil
}

// Transport is one live websocket connection with a single-writer send pump
// and a read pump feeding the receive channel in arrival order.
type Transport struct {
	conn *websocket.Conn

	send    chan []byte
	recv    chan []byte
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	logger *zap.Logger
}

var _ repositories.LiveTransport = (*Transport)(nil)

// Send queues an outbound frame. It never blocks longer than the context
// allows and fails once the transport is closed.
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	select {
	case t.send <- payload:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive yields inbound frames in arrival order.
func (t *Transport) Receive() <-chan []byte {
	return t.recv
}

// Done is closed once both pumps have exited.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the terminal error, nil after a clean close.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close shuts the connection down. Idempotent. It returns once both pumps
// have exited, even if the consumer stopped draining Receive.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closing)
		deadline := time.Now().Add(writeWait)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = t.conn.Close()
	})
	<-t.done
	return nil
}

func (t *Transport) setErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// readPump pumps inbound frames from the connection to the receive channel.
func (t *Transport) readPump() {
	defer func() {
		_ = t.conn.Close()
		close(t.recv)
		close(t.done)
	}()

	t.conn.SetReadLimit(maxFrameSize)
	_ = t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.setErr(err)
				t.logger.Error("Live connection read error", zap.Error(err))
			}
			return
		}
		select {
		case t.recv <- message:
		case <-t.closing:
			// Nobody is draining the receive channel anymore; a full
			// buffer must not keep Close waiting on this pump.
			return
		}
	}
}

// writePump pumps outbound frames from the send channel to the connection.
// It is the connection's only writer.
func (t *Transport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = t.conn.Close()
	}()

	for {
		select {
		case message := <-t.send:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				t.setErr(err)
				t.logger.Error("Live connection write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}
