package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// statusPollInterval drives the compatibility "subscribe" stream. Thought
// and event streams are pushed straight off the bus; only the status view
// is polled.
const statusPollInterval = 500 * time.Millisecond

// wsWriteTimeout bounds a single WebSocket send.
const wsWriteTimeout = 5 * time.Second

// wsClientMessage is the JSON structure for client → server messages.
type wsClientMessage struct {
	Type    string `json:"type"` // "subscribe", "stream_thoughts", "stream_events"
	TraceID string `json:"traceId"`
}

// wsConn serializes writes to one WebSocket client and tracks the
// subscription releases to run on disconnect.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	ctx     context.Context
	writeMu sync.Mutex

	mu       sync.Mutex
	releases []func()
}

func (w *wsConn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", w.id, "error", err)
		return
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(w.ctx, wsWriteTimeout)
	defer cancel()
	if err := w.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", w.id, "error", err)
	}
}

// track registers a release to run when the connection closes.
func (w *wsConn) track(release func()) {
	w.mu.Lock()
	w.releases = append(w.releases, release)
	w.mu.Unlock()
}

func (w *wsConn) releaseAll() {
	w.mu.Lock()
	releases := w.releases
	w.releases = nil
	w.mu.Unlock()
	for _, release := range releases {
		release()
	}
}

// wsHandler upgrades HTTP connections to WebSocket and serves the
// subscription protocol until the client disconnects. All subscriptions
// opened by a connection are released when it closes.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	w := &wsConn{
		id:   uuid.New().String(),
		conn: conn,
		ctx:  ctx,
	}
	defer w.releaseAll()
	defer conn.Close(websocket.StatusNormalClosure, "")

	w.sendJSON(map[string]string{
		"type":         "connection.established",
		"connectionId": w.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil // connection closed
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "connection_id", w.id, "error", err)
			continue
		}
		if msg.TraceID == "" {
			w.sendJSON(map[string]string{"type": "error", "message": "traceId is required"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			go s.streamStatus(w, msg.TraceID)
		case "stream_thoughts":
			s.streamThoughts(w, msg.TraceID)
		case "stream_events":
			s.streamEvents(w, msg.TraceID)
		default:
			w.sendJSON(map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

// streamStatus polls the swarm status every 500 ms and forwards snapshots
// until the status is terminal. Kept as a compatibility shim; push clients
// should use stream_events instead.
func (s *Server) streamStatus(w *wsConn, traceID string) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		status, ok := s.engine.Status(traceID)
		if !ok {
			// Evicted or never started: fall back to the persisted trace.
			if trace, err := s.traces.Get(traceID); err == nil {
				status = statusFromTrace(trace)
			} else {
				w.sendJSON(map[string]string{
					"type": "error", "message": "unknown trace", "traceId": traceID,
				})
				return
			}
		}

		w.sendJSON(map[string]any{"type": "swarm_update", "data": status})
		if status.Status.Terminal() {
			return
		}

		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// streamThoughts forwards agent thoughts for a trace until its stream
// closes or the client disconnects.
func (s *Server) streamThoughts(w *wsConn, traceID string) {
	ch, cancel := s.events.SubscribeThoughts(traceID)
	w.track(cancel)

	go func() {
		for {
			select {
			case <-w.ctx.Done():
				return
			case thought, ok := <-ch:
				if !ok {
					return
				}
				w.sendJSON(map[string]any{
					"type":        "agent_thought",
					"agentId":     thought.AgentID,
					"thoughtType": thought.Type,
					"content":     thought.Content,
					"confidence":  thought.Confidence,
					"timestamp":   thought.Timestamp,
				})
			}
		}
	}()
}

// streamEvents forwards swarm lifecycle events for a trace.
func (s *Server) streamEvents(w *wsConn, traceID string) {
	ch, cancel := s.events.SubscribeEvents(traceID)
	w.track(cancel)

	go func() {
		for {
			select {
			case <-w.ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				w.sendJSON(map[string]any{
					"type":      "swarm_event",
					"eventType": event.Type,
					"data":      event.Data,
					"timestamp": event.Timestamp,
				})
			}
		}
	}()
}
