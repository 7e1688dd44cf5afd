package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"apphub.local/matrix-bots/internal/apps"
	"apphub.local/matrix-bots/internal/botmanager"
	"apphub.local/matrix-bots/internal/chat"
	"apphub.local/matrix-bots/internal/conversation"
	"apphub.local/matrix-bots/internal/matrix"
)

const maxChatRequestBytes int64 = 1 << 20

type ChatService interface {
	Chat(ctx context.Context, req chat.Request) (chat.Reply, error)
}

type BotController interface {
	Sessions() []botmanager.SessionInfo
	Lookup(instanceID string) (botmanager.SessionInfo, bool)
	StartByID(ctx context.Context, appID string) error
	StopBot(instanceID string) bool
}

// Deps are the services behind the API. Nil members disable their routes.
type Deps struct {
	Chat          ChatService
	Bots          BotController
	Conversations conversation.Store
	Activity      http.Handler
	// APIToken, when set, is required as a bearer token on /api routes.
	APIToken string
}

type server struct {
	log  zerolog.Logger
	deps Deps
}

func NewServer(log zerolog.Logger, addr string, deps Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(log, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func NewHandler(log zerolog.Logger, deps Deps) http.Handler {
	s := &server{log: log.With().Str("component", "httpapi").Logger(), deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/bots/chat", s.handleChat)
		r.Get("/bots", s.handleListBots)
		r.Get("/bots/{appID}", s.handleGetBot)
		r.Post("/bots/{appID}/start", s.handleStartBot)
		r.Post("/bots/{appID}/stop", s.handleStopBot)
		r.Get("/conversations/{instanceID}/{userID}", s.handleGetConversation)
		r.Delete("/conversations/{instanceID}/{userID}", s.handleClearConversation)
		r.Get("/activity/ws", s.handleActivity)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusNotImplemented, "chat not configured")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body failed")
		return
	}
	var req chat.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err))
		return
	}

	reply, err := s.deps.Chat.Chat(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, reply)
	case errors.Is(err, chat.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apps.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error().Err(err).Str("app_id", req.AppID).Msg("chat failed")
		writeError(w, http.StatusInternalServerError, "chat failed")
	}
}

func (s *server) handleListBots(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Bots == nil {
		writeError(w, http.StatusNotImplemented, "bots not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": s.deps.Bots.Sessions()})
}

func (s *server) handleGetBot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bots == nil {
		writeError(w, http.StatusNotImplemented, "bots not configured")
		return
	}
	info, ok := s.deps.Bots.Lookup(pathParam(r, "appID"))
	if !ok {
		writeError(w, http.StatusNotFound, "bot not running")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bots == nil {
		writeError(w, http.StatusNotImplemented, "bots not configured")
		return
	}
	appID := pathParam(r, "appID")
	err := s.deps.Bots.StartByID(r.Context(), appID)
	switch {
	case err == nil:
	case errors.Is(err, apps.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, botmanager.ErrAppOffline):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, matrix.ErrMissingCredentials):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	info, ok := s.deps.Bots.Lookup(appID)
	writeJSON(w, http.StatusOK, map[string]any{"started": ok, "bot": info})
}

func (s *server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bots == nil {
		writeError(w, http.StatusNotImplemented, "bots not configured")
		return
	}
	stopped := s.deps.Bots.StopBot(pathParam(r, "appID"))
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

func (s *server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Conversations == nil {
		writeError(w, http.StatusNotImplemented, "conversations not configured")
		return
	}
	instanceID, userID := pathParam(r, "instanceID"), pathParam(r, "userID")
	turns, err := s.deps.Conversations.Read(r.Context(), instanceID, userID)
	if err != nil {
		s.log.Error().Err(err).Str("instance_id", instanceID).Msg("read conversation failed")
		writeError(w, http.StatusInternalServerError, "read conversation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instance_id": instanceID,
		"user_id":     userID,
		"turns":       turns,
	})
}

func (s *server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Conversations == nil {
		writeError(w, http.StatusNotImplemented, "conversations not configured")
		return
	}
	instanceID, userID := pathParam(r, "instanceID"), pathParam(r, "userID")
	existed, err := s.deps.Conversations.Clear(r.Context(), instanceID, userID)
	if err != nil {
		s.log.Error().Err(err).Str("instance_id", instanceID).Msg("clear conversation failed")
		writeError(w, http.StatusInternalServerError, "clear conversation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"existed": existed})
}

func (s *server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Activity == nil {
		http.Error(w, "activity stream not configured", http.StatusNotImplemented)
		return
	}
	s.deps.Activity.ServeHTTP(w, r)
}

func (s *server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.APIToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}
