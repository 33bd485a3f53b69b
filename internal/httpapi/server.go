// Package httpapi is the HTTP and websocket surface of the service. Every
// /v1 route runs behind bearer authentication; the verified principal rides
// the request context from the middleware to the handlers.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nbianchi/tasktalk/internal/config"
	"github.com/nbianchi/tasktalk/internal/conversation"
	"github.com/nbianchi/tasktalk/internal/identity"
	"github.com/nbianchi/tasktalk/internal/observability"
	"github.com/nbianchi/tasktalk/internal/orchestrator"
	"github.com/nbianchi/tasktalk/internal/reliability"
)

type principalKey struct{}

type Server struct {
	cfg           config.Config
	verifier      identity.Verifier
	orchestrator  *orchestrator.Orchestrator
	conversations conversation.Store
	log           *zap.Logger
	upgrader      websocket.Upgrader
}

func New(cfg config.Config, verifier identity.Verifier, orch *orchestrator.Orchestrator, conversations conversation.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:           cfg,
		verifier:      verifier,
		orchestrator:  orch,
		conversations: conversations,
		log:           log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/turns", s.handleTurn)
		r.Get("/v1/turns/ws", s.handleTurnWS)
		r.Get("/v1/conversations", s.handleListConversations)
		r.Get("/v1/conversations/{id}/messages", s.handleListMessages)
		r.Delete("/v1/conversations/{id}", s.handleDeleteConversation)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// authenticate verifies the bearer token and stashes the principal in the
// request context. Every rejection is the same 401 regardless of cause.
// Websocket clients that cannot set headers may pass the token as a query
// parameter instead.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		principal, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing credentials")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	const scheme = "bearer "
	if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
		return strings.TrimSpace(header[len(scheme):])
	}
	return ""
}

func principalFrom(ctx context.Context) identity.Principal {
	p, _ := ctx.Value(principalKey{}).(identity.Principal)
	return p
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.TurnRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "request body must be a JSON turn request")
		return
	}

	res, err := s.orchestrator.Run(r.Context(), principalFrom(r.Context()), req)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	limit := intQuery(r, "limit", 50, 200)
	offset := intQuery(r, "offset", 0, 1<<30)

	convs, err := s.conversations.ListForUser(r.Context(), principal.UserID, limit, offset)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	msgs, err := s.conversations.Messages(r.Context(), id, principal.UserID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			respondError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
			return
		}
		s.respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	id := chi.URLParam(r, "id")

	deleted, err := s.conversations.Delete(r.Context(), id, principal.UserID)
	if err != nil {
		s.respondStorageError(w, err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
	case errors.Is(err, orchestrator.ErrMessageTooLong):
		respondError(w, http.StatusBadRequest, "message_too_long", "message exceeds the maximum length")
	case errors.Is(err, conversation.ErrNotFound):
		respondError(w, http.StatusNotFound, "conversation_not_found", "conversation not found")
	default:
		s.respondStorageError(w, err)
	}
}

// respondStorageError maps a storage failure to a client response without
// echoing the underlying cause.
func (s *Server) respondStorageError(w http.ResponseWriter, err error) {
	s.log.Warn("request failed", zap.Error(err))
	if reliability.Transient(err) {
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage is temporarily unavailable, please retry")
		return
	}
	respondError(w, http.StatusInternalServerError, "internal_error", "internal error")
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func intQuery(r *http.Request, name string, def, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
