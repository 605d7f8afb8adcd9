package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	hiloerrors "github.com/randalmurphal/hilo/internal/errors"
	"github.com/randalmurphal/hilo/internal/events"
	"github.com/randalmurphal/hilo/internal/state"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// sendBuffer is the per-connection outbound queue length.
	sendBuffer = 256
)

// Inbound message types. Messages are JSON objects with a "type" field:
//
//	{"type":"command","command":"pause","reason":"probe swap"}
//	{"type":"status"}
//	{"type":"ping"}
const (
	msgCommand = "command"
	msgStatus  = "status"
	msgPing    = "ping"
)

// WSHandler streams run events to WebSocket clients and accepts commands.
type WSHandler struct {
	upgrader    websocket.Upgrader
	server      *Server
	connections map[*wsConnection]struct{}
	mu          sync.Mutex
	logger      *slog.Logger
}

// wsConnection tracks a single WebSocket connection.
type wsConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	runID     string
	events    <-chan events.Event
}

// NewWSHandler creates a WebSocket handler bound to a server.
func NewWSHandler(server *Server, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Bench machines sit on a lab network without browsers
			// serving foreign pages.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		server:      server,
		connections: make(map[*wsConnection]struct{}),
		logger:      logger,
	}
}

// ServeHTTP upgrades the request and subscribes the connection to the live
// run. ?run=* subscribes to every run the publisher sees.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	runID := r.URL.Query().Get("run")
	if runID == "" && h.server.run != nil {
		runID = h.server.run.RunID()
	}
	if runID == "" {
		runID = events.GlobalRunID
	}

	c := &wsConnection{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		runID:  runID,
		events: h.server.publisher.Subscribe(runID),
	}

	h.mu.Lock()
	h.connections[c] = struct{}{}
	h.mu.Unlock()

	go h.forwardEvents(c)
	go h.writePump(c)
	go h.readPump(c)
}

// CloseAll closes every open connection.
func (h *WSHandler) CloseAll() {
	h.mu.Lock()
	conns := make([]*wsConnection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.closeConnection(c)
	}
}

// ConnectionCount returns the number of open connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// forwardEvents relays published events until the subscription closes or
// the connection goes away. Events are never dropped; a slow client only
// grows its own subscription queue.
func (h *WSHandler) forwardEvents(c *wsConnection) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			msg, err := json.Marshal(map[string]any{"type": "event", "event": ev})
			if err != nil {
				h.logger.Error("failed to marshal event", "type", ev.Type, "error", err)
				continue
			}
			select {
			case c.send <- msg:
			case <-c.done:
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		h.handleMessage(c, message)
	}
}

// writePump writes queued messages and keepalive pings.
func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleMessage routes one inbound message by its "type" field.
func (h *WSHandler) handleMessage(c *wsConnection, data []byte) {
	if !gjson.ValidBytes(data) {
		h.sendError(c, "invalid message format")
		return
	}
	msg := gjson.ParseBytes(data)

	switch t := msg.Get("type").String(); t {
	case msgCommand:
		h.handleCommand(c, msg)
	case msgStatus:
		if h.server.run == nil {
			h.sendError(c, "no active run")
			return
		}
		h.sendJSON(c, map[string]any{"type": "status", "status": h.server.statusResponse()})
	case msgPing:
		h.sendJSON(c, map[string]any{"type": "pong"})
	case "":
		h.sendError(c, "message type required")
	default:
		h.sendError(c, "unknown message type: "+t)
	}
}

// handleCommand issues a command and replies once the worker has
// acknowledged it. The wait runs off the read loop so pings keep flowing.
func (h *WSHandler) handleCommand(c *wsConnection, msg gjson.Result) {
	if h.server.run == nil {
		h.sendError(c, "no active run")
		return
	}
	cmd, err := state.ParseCommand(msg.Get("command").String())
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	reason := msg.Get("reason").String()
	id := msg.Get("id").Value()

	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		resp, err := h.server.sendCommand(ctx, cmd, reason, true)
		reply := map[string]any{"type": "ack", "command": resp}
		if id != nil {
			reply["id"] = id
		}
		if err != nil {
			reply["type"] = "command_error"
			var he *hiloerrors.HiloError
			if errors.As(err, &he) {
				reply["error"] = he
			} else {
				reply["error"] = map[string]string{"what": err.Error()}
			}
		}
		h.sendJSON(c, reply)
	}()
}

// closeConnection unsubscribes and closes the connection once.
func (h *WSHandler) closeConnection(c *wsConnection) {
	c.closeOnce.Do(func() {
		h.mu.Lock()
		delete(h.connections, c)
		h.mu.Unlock()

		h.server.publisher.Unsubscribe(c.runID, c.events)
		close(c.done)
	})
}

// sendJSON queues a JSON message for a connection.
func (h *WSHandler) sendJSON(c *wsConnection, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal JSON", "error", err)
		return
	}
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// sendError sends an error message to a connection.
func (h *WSHandler) sendError(c *wsConnection, message string) {
	h.sendJSON(c, map[string]any{
		"type":  "error",
		"error": message,
	})
}
