package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nbianchi/tasktalk/internal/conversation"
	"github.com/nbianchi/tasktalk/internal/orchestrator"
	"github.com/nbianchi/tasktalk/internal/reliability"
)

const (
	wsReadLimit    = 1 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type wsError struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Detail    string `json:"detail"`
	Retryable bool   `json:"retryable"`
}

// handleTurnWS runs turns over a websocket: each text frame is one turn
// request, each reply frame the completed turn. Turns on one connection run
// sequentially, so replies come back in request order.
func (s *Server) handleTurnWS(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		var req orchestrator.TurnRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if !s.writeWS(conn, wsError{Type: "error", Code: "invalid_request", Detail: "frame must be a JSON turn request", Retryable: false}) {
				return
			}
			continue
		}

		res, err := s.orchestrator.Run(r.Context(), principal, req)
		if err != nil {
			if !s.writeWS(conn, turnWSError(err)) {
				return
			}
			continue
		}
		if !s.writeWS(conn, res) {
			return
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.log.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}

func turnWSError(err error) wsError {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return wsError{Type: "error", Code: "empty_message", Detail: "message must not be empty"}
	case errors.Is(err, orchestrator.ErrMessageTooLong):
		return wsError{Type: "error", Code: "message_too_long", Detail: "message exceeds the maximum length"}
	case errors.Is(err, conversation.ErrNotFound):
		return wsError{Type: "error", Code: "conversation_not_found", Detail: "conversation not found"}
	case reliability.Transient(err):
		return wsError{Type: "error", Code: "storage_unavailable", Detail: "storage is temporarily unavailable, please retry", Retryable: true}
	default:
		return wsError{Type: "error", Code: "internal_error", Detail: "internal error"}
	}
}
