package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	idleTimeout    = 5 * time.Minute
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origins are enforced by the CORS middleware and bearer tokens.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSMessage is both the request and the reply frame of a fill session.
// Replies echo the request ID.
type WSMessage struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// handleWebSocket serves an interactive session in which a client sends fill
// requests one at a time and receives the resulting tables.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))

		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Warn("WebSocket read failed")
			}
			return
		}

		reply := s.handleWSMessage(msg)
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(reply); err != nil {
			s.logger.WithError(err).Error("WebSocket write failed")
			return
		}
	}
}

func (s *Server) handleWSMessage(msg WSMessage) WSMessage {
	reply := WSMessage{Type: "result", ID: msg.ID}

	var (
		resp *TableResponse
		err  error
	)
	switch msg.Type {
	case "ping":
		return WSMessage{Type: "pong", ID: msg.ID}
	case "interpolate", "extrapolate_early", "extrapolate_late":
		var req PointRequest
		if err = json.Unmarshal(msg.Data, &req); err == nil {
			resp, err = s.applyPoint(msg.Type, req)
		}
	case "fill":
		var req FillRequest
		if err = json.Unmarshal(msg.Data, &req); err == nil {
			resp, err = s.applyFill(req)
		}
	default:
		return WSMessage{Type: "error", ID: msg.ID, Error: "unknown message type: " + msg.Type}
	}

	if err != nil {
		return WSMessage{Type: "error", ID: msg.ID, Error: err.Error()}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return WSMessage{Type: "error", ID: msg.ID, Error: err.Error()}
	}
	reply.Data = data
	return reply
}
