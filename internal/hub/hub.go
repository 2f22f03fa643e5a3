// Package hub fans events out to viewer websockets and hands their commands
// to the application. Delivery is at-most-once: a viewer that cannot keep up
// is disconnected rather than allowed to stall the others.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/supervisor"
	"github.com/john/chatmux/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Events sent to viewers
const (
	EventNewMessage   = "newMessage"
	EventStateChanged = "connectionStateChanged"
	EventAlert        = "alert"
	EventThemeList    = "themeList"
	EventThemeChange  = "themeChange"
	EventSettings     = "settings"
	EventHistory      = "history"
)

// Commands received from viewers
const (
	CmdRequestConnect    = "requestConnect"
	CmdRequestDisconnect = "requestDisconnect"
	CmdGetSettings       = "getSettings"
	CmdSaveSettings      = "saveSettings"
	CmdGetThemes         = "getThemes"
	CmdThemeChange       = "themeChange"
	CmdGetHistory        = "getHistory"
	CmdGetStates         = "getStates"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // overlays are loaded from local files and OBS browser sources
	},
}

// Event is the envelope of every outbound frame
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Command is the envelope of every inbound frame
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Alert is the payload of an alert event. Dest names the UI surface that
// should show it: chat, settings or both.
type Alert struct {
	Dest string `json:"dest"`
	Text string `json:"text"`
}

// Options wire the hub into the application
type Options struct {
	// OnConnect runs after a viewer is registered, before its commands
	OnConnect func(*Client)
	// OnCommand runs on the viewer's read goroutine, one command at a time
	OnCommand func(ctx context.Context, c *Client, cmd Command)
	Logger    *zap.Logger
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	ID string

	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// Send queues an event for this viewer only. It never blocks; the event is
// dropped when the viewer's queue is full or closed.
func (c *Client) Send(eventType string, payload any) bool {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		c.hub.logger.Error("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return false
	}
	if !c.trySend(data) {
		c.hub.logger.Warn("dropped event for slow viewer", zap.String("viewer", c.ID), zap.String("type", eventType))
		return false
	}
	return true
}

// Alert sends an alert to this viewer only
func (c *Client) Alert(dest, text string) {
	c.Send(EventAlert, Alert{Dest: dest, Text: text})
}

func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub maintains the set of active viewers and broadcasts events to them
type Hub struct {
	opts   Options
	logger *zap.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int32
}

// New creates a hub; call Run to start delivering
func New(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Hub{
		opts:       opts,
		logger:     opts.Logger.With(zap.String("component", "hub")),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run delivers broadcasts until ctx is done, then disconnects every viewer
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return nil
		case c := <-h.register:
			h.clients[c] = true
			h.updateCount()
			h.logger.Info("viewer connected", zap.String("viewer", c.ID))
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.logger.Info("viewer disconnected", zap.String("viewer", c.ID))
			}
		case data := <-h.broadcast:
			for c := range h.clients {
				if !c.trySend(data) {
					h.logger.Warn("dropping slow viewer", zap.String("viewer", c.ID))
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	c.close()
	h.updateCount()
}

func (h *Hub) updateCount() {
	h.count.Store(int32(len(h.clients)))
	telemetry.SetGauge(telemetry.Viewers, float64(len(h.clients)))
}

// Viewers returns the number of registered viewers
func (h *Hub) Viewers() int {
	return int(h.count.Load())
}

// Publish broadcasts an event to every viewer
func (h *Hub) Publish(eventType string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		h.logger.Error("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	}
}

// PublishMessage broadcasts a canonical chat message
func (h *Hub) PublishMessage(msg message.ChatMessage) {
	h.Publish(EventNewMessage, msg)
}

// PublishStateChange implements supervisor.Publisher.
func (h *Hub) PublishStateChange(states map[message.Platform]supervisor.State) {
	h.Publish(EventStateChanged, states)
}

// PublishAlert implements supervisor.Publisher.
func (h *Hub) PublishAlert(dest, text string) {
	h.Publish(EventAlert, Alert{Dest: dest, Text: text})
}

// PublishThemes broadcasts the available theme names
func (h *Hub) PublishThemes(names []string) {
	h.Publish(EventThemeList, names)
}

// PublishThemeChange broadcasts the selected theme
func (h *Hub) PublishThemeChange(name string) {
	h.Publish(EventThemeChange, name)
}

// ServeHTTP upgrades the request and serves the viewer until it leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{ID: uuid.NewString(), hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	if h.opts.OnConnect != nil {
		h.opts.OnConnect(c)
	}
	c.readPump(r.Context())
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("viewer read failed", zap.String("viewer", c.ID), zap.Error(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Type == "" {
			c.hub.logger.Warn("ignoring malformed command", zap.String("viewer", c.ID), zap.ByteString("frame", truncate(data, 200)), zap.Error(err))
			continue
		}
		if c.hub.opts.OnCommand != nil {
			c.hub.opts.OnCommand(ctx, c, cmd)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
