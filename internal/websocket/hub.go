// Package websocket bridges browser clients to live voice sessions. Each
// client owns at most one session at a time: JSON control messages drive the
// session lifecycle, binary frames carry microphone audio in and model audio
// out.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wiryanata/swara/domain/entities"
	"github.com/wiryanata/swara/domain/repositories"
	"github.com/wiryanata/swara/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// connectTimeout bounds opening the upstream live connection.
	connectTimeout = 15 * time.Second

	// reconnectWindow bounds how long automatic reconnection keeps retrying.
	reconnectWindow = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ConnectOptions carries per-conversation overrides from the connect message.
type ConnectOptions struct {
	SystemPrompt string
	Voice        string
}

// SessionFactory builds one live session bound to the given relay devices.
type SessionFactory func(
	opts ConnectOptions,
	capture repositories.CaptureDevice,
	sink repositories.PlaybackSink,
	cb usecase.Callbacks,
) (*usecase.Session, error)

// Hub maintains the set of active clients.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	sessions SessionFactory

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(sessions SessionFactory, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sessions:   sessions,
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.clientID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.clientID)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.clientID))
		}
	}
}

// ClientCount returns how many clients are currently registered.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and its session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Never closed: session
	// callbacks and playback timers may still hold a reference to enqueue
	// after teardown, so the pumps end through done instead.
	send chan WriteData

	// Closed when the client's read pump exits.
	done chan struct{}

	clientID string

	logger *zap.Logger

	mutex         sync.Mutex
	session       *usecase.Session
	mic           *RemoteCapture
	lastConnect   ConnectOptions
	autoReconnect bool
	reconnecting  bool
	closed        bool
}

// HandleWebSocket handles websocket requests from the peer.
func HandleWebSocket(hub *Hub, c echo.Context, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan WriteData, 256),
		done:     make(chan struct{}),
		clientID: uuid.NewString(),
		logger:   logger,
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		c.mutex.Lock()
		c.closed = true
		session := c.session
		c.session = nil
		c.mic = nil
		c.mutex.Unlock()
		if session != nil {
			session.Disconnect()
		}
		close(c.done)

		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			// Control messages drive the session lifecycle.
			c.processMessage(message)
		case websocket.BinaryMessage:
			// Relayed microphone audio.
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the session to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage processes incoming control messages from the browser.
func (c *Client) processMessage(message []byte) {
	msg, err := ParseClientMessage(message)
	if err != nil {
		c.logger.Warn("Rejected client message", zap.Error(err))
		c.sendServerMessage(CreateErrorMessage(err.Error()))
		return
	}

	switch msg.Type {
	case MessageTypeConnect:
		c.handleConnect(msg)
	case MessageTypeSendText:
		c.handleSendText(msg)
	case MessageTypeStopAudio:
		if session := c.currentSession(); session != nil {
			session.StopAudio()
		}
	case MessageTypeDisconnect:
		c.handleDisconnect()
	}
}

// processBinaryAudioChunk forwards relayed microphone audio. Chunks arriving
// without an active session are dropped.
func (c *Client) processBinaryAudioChunk(data []byte) {
	c.mutex.Lock()
	mic := c.mic
	c.mutex.Unlock()
	if mic == nil {
		return
	}
	mic.Push(data)
}

// handleConnect opens a live session for this client.
func (c *Client) handleConnect(msg *ClientMessage) {
	opts := ConnectOptions{
		SystemPrompt: msg.SystemPrompt,
		Voice:        msg.Voice,
	}

	c.mutex.Lock()
	if c.session != nil && !c.session.State().IsTerminal() {
		c.mutex.Unlock()
		c.sendServerMessage(CreateErrorMessage("session already active"))
		return
	}
	c.lastConnect = opts
	c.autoReconnect = msg.AutoReconnect
	c.mutex.Unlock()

	if err := c.openSession(opts); err != nil {
		c.logger.Error("Failed to open session",
			zap.String("clientID", c.clientID),
			zap.Error(err))
		c.sendServerMessage(CreateErrorMessage(err.Error()))
	}
}

// openSession builds fresh relay devices, constructs a session through the
// hub's factory and connects it.
func (c *Client) openSession(opts ConnectOptions) error {
	mic := NewRemoteCapture(c.logger)
	sink := NewRemoteSink(c.enqueue, c.logger)

	cb := usecase.Callbacks{
		OnStateChange: func(state entities.SessionState) {
			c.sendServerMessage(CreateStateMessage(state.String()))
			if state == entities.SessionStateError {
				c.maybeReconnect()
			}
		},
		OnTranscript: func(text string, isInput bool) {
			c.sendServerMessage(CreateTranscriptMessage(text, isInput))
		},
		OnResponse: func(text string) {
			c.sendServerMessage(CreateResponseMessage(text))
		},
		OnError: func(message string) {
			c.sendServerMessage(CreateErrorMessage(message))
		},
	}

	session, err := c.hub.sessions(opts, mic, sink, cb)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		return err
	}

	c.mutex.Lock()
	c.session = session
	c.mic = mic
	c.mutex.Unlock()

	c.logger.Info("Session opened", zap.String("clientID", c.clientID))
	return nil
}

// handleSendText forwards a typed user turn into the conversation.
func (c *Client) handleSendText(msg *ClientMessage) {
	session := c.currentSession()
	if session == nil {
		c.sendServerMessage(CreateErrorMessage("no active session"))
		return
	}
	if err := session.SendText(msg.Text); err != nil {
		c.sendServerMessage(CreateErrorMessage(err.Error()))
	}
}

// handleDisconnect tears the session down deliberately; no reconnection.
func (c *Client) handleDisconnect() {
	c.mutex.Lock()
	session := c.session
	c.session = nil
	c.mic = nil
	c.autoReconnect = false
	c.mutex.Unlock()

	if session != nil {
		session.Disconnect()
	}
}

// maybeReconnect rebuilds the session with capped exponential backoff after
// an upstream failure. Deliberate disconnects never reconnect.
func (c *Client) maybeReconnect() {
	c.mutex.Lock()
	if c.closed || !c.autoReconnect || c.reconnecting {
		c.mutex.Unlock()
		return
	}
	c.reconnecting = true
	opts := c.lastConnect
	c.mutex.Unlock()

	go func() {
		defer func() {
			c.mutex.Lock()
			c.reconnecting = false
			c.mutex.Unlock()
		}()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxElapsedTime = reconnectWindow

		err := backoff.Retry(func() error {
			c.mutex.Lock()
			closed := c.closed
			c.mutex.Unlock()
			if closed {
				return backoff.Permanent(fmt.Errorf("client disconnected"))
			}
			return c.openSession(opts)
		}, b)
		if err != nil {
			c.logger.Error("Reconnect failed",
				zap.String("clientID", c.clientID),
				zap.Error(err))
			c.sendServerMessage(CreateErrorMessage(fmt.Sprintf("reconnect failed: %v", err)))
		}
	}()
}

func (c *Client) currentSession() *usecase.Session {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session
}

// enqueue queues one outbound frame without blocking; it reports whether the
// frame was accepted. Safe to call after teardown: late playback writes land
// in the buffer or drop, they never reach a closed channel.
func (c *Client) enqueue(data WriteData) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendServerMessage(msg *ServerMessage) {
	payload, err := marshalServerMessage(msg)
	if err != nil {
		c.logger.Error("Failed to marshal server message", zap.Error(err))
		return
	}
	if !c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload}) {
		c.logger.Warn("Dropping server message, client congested", zap.String("type", string(msg.Type)))
	}
}

func marshalServerMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}
