// ABOUTME: Management HTTP API: status, platform control, conversations, memory, send.
// ABOUTME: Plain ServeMux with an X-API-Key middleware; all dependencies injected.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sable-bot/sable/internal/engine"
	"github.com/sable-bot/sable/internal/store"
)

// Server is the management API. It holds its dependencies explicitly; there
// is no package-level state.
type Server struct {
	engine *engine.Engine
	store  store.Store
	apiKey string
	logger *slog.Logger

	httpSrv *http.Server
}

// New creates the management API server. An empty apiKey leaves the API open,
// which is only sensible on a loopback address.
func New(addr, apiKey string, eng *engine.Engine, st store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine: eng,
		store:  st,
		apiKey: apiKey,
		logger: logger.With("component", "api"),
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can drive the
// API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /platforms", s.handlePlatforms)
	mux.HandleFunc("POST /platforms/{name}/connect", s.handlePlatformConnect)
	mux.HandleFunc("POST /platforms/{name}/disconnect", s.handlePlatformDisconnect)
	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleConversationMessages)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("GET /memory", s.handleGetMemory)
	mux.HandleFunc("POST /memory", s.handleSetMemory)
	mux.HandleFunc("POST /message", s.handleSendMessage)

	return s.requireKey(mux)
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("management API listening", "addr", s.httpSrv.Addr, "protected", s.apiKey != "")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("management API: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requireKey enforces the X-API-Key header when a key is configured.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":   "sable",
		"status": "ok",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

type platformInfo struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	out := []platformInfo{}
	for name, c := range s.engine.Connectors() {
		out = append(out, platformInfo{Name: name, Connected: c.IsConnected()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlatformConnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, ok := s.engine.Connector(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown platform "+name)
		return
	}
	if c.IsConnected() {
		writeJSON(w, http.StatusOK, platformInfo{Name: name, Connected: true})
		return
	}
	if err := c.Connect(r.Context()); err != nil {
		s.logger.Error("connect failed", "platform", name, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, platformInfo{Name: name, Connected: c.IsConnected()})
}

func (s *Server) handlePlatformDisconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	c, ok := s.engine.Connector(name)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown platform "+name)
		return
	}
	if err := c.Disconnect(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, platformInfo{Name: name, Connected: c.IsConnected()})
}

type conversationInfo struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	convs, err := s.store.ListConversations(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]conversationInfo, 0, len(convs))
	for _, c := range convs {
		out = append(out, conversationInfo{
			ID: c.ID, Platform: c.Platform, ChannelID: c.ChannelID,
			CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type messageInfo struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	history, err := s.store.RecentHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]messageInfo, 0, len(history))
	for _, m := range history {
		out = append(out, messageInfo{
			ID: m.ID, Role: m.Role, AuthorName: m.AuthorName,
			Content: m.Content, CreatedAt: m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearConversation(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type factInfo struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	platformName := r.URL.Query().Get("platform")
	if userID == "" || platformName == "" {
		writeError(w, http.StatusBadRequest, "user_id and platform query parameters are required")
		return
	}
	facts, err := s.store.GetFacts(r.Context(), userID, platformName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]factInfo, 0, len(facts))
	for _, f := range facts {
		out = append(out, factInfo{Key: f.Key, Value: f.Value, UpdatedAt: f.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type setMemoryRequest struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

func (s *Server) handleSetMemory(w http.ResponseWriter, r *http.Request) {
	var req setMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Platform == "" || req.Key == "" {
		writeError(w, http.StatusBadRequest, "user_id, platform, and key are required")
		return
	}
	fact, err := s.store.SetFact(r.Context(), req.UserID, req.Platform, req.Key, req.Value)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, factInfo{Key: fact.Key, Value: fact.Value, UpdatedAt: fact.UpdatedAt})
}

type sendMessageRequest struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Platform == "" || req.ChannelID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "platform, channel_id, and text are required")
		return
	}
	if err := s.engine.SendTo(r.Context(), req.Platform, req.ChannelID, req.Text); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
