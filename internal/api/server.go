// Package api exposes the daemon's operations to the desktop UI over HTTP
// and streams events over WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/glasswing-dev/glasswing/internal/claude"
	"github.com/glasswing-dev/glasswing/internal/eventbus"
	"github.com/glasswing-dev/glasswing/internal/workspace"
)

// Server is the HTTP API server.
type Server struct {
	conversations *claude.Service
	workspaces    *workspace.Registry
	bus           *eventbus.Bus
	logger        *slog.Logger
	mux           *chi.Mux
}

// NewServer creates the API server and its routes.
func NewServer(conversations *claude.Service, workspaces *workspace.Registry, bus *eventbus.Bus, logger *slog.Logger) *Server {
	srv := &Server{
		conversations: conversations,
		workspaces:    workspaces,
		bus:           bus,
		logger:        logger.With("component", "api"),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/ws/events", srv.handleEventsWS)

	mux.Route("/api/workspaces", func(r chi.Router) {
		r.Get("/", srv.handleListWorkspaces)
		r.Put("/{workspaceID}", srv.handlePutWorkspace)
		r.Delete("/{workspaceID}", srv.handleDeleteWorkspace)

		r.Route("/{workspaceID}/threads", func(r chi.Router) {
			r.Get("/", srv.handleListThreads)
			r.Post("/", srv.handleStartThread)
			r.Get("/{threadID}", srv.handleResumeThread)
			r.Post("/{threadID}/messages", srv.handleSendMessage)
			r.Post("/{threadID}/interrupt", srv.handleInterruptTurn)
			r.Post("/{threadID}/archive", srv.handleArchiveThread)
			r.Put("/{threadID}/name", srv.handleSetThreadName)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, http.StatusOK, map[string]any{"ok": true})
}

func writeResult(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": err.Error()},
	})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, claude.ErrWorkspaceNotFound), errors.Is(err, claude.ErrThreadNotFound),
		errors.Is(err, workspace.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, claude.ErrEmptyMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, _ *http.Request) {
	entries, err := s.workspaces.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []workspace.Entry{}
	}
	writeResult(w, http.StatusOK, entries)
}

func (s *Server) handlePutWorkspace(w http.ResponseWriter, r *http.Request) {
	var entry workspace.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry.ID = chi.URLParam(r, "workspaceID")
	if err := s.workspaces.Put(entry); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeResult(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.workspaces.Delete(chi.URLParam(r, "workspaceID")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStartThread(w http.ResponseWriter, r *http.Request) {
	result, err := s.conversations.StartThread(chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	entry, err := s.workspaces.Get(workspaceID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	result, err := s.conversations.ListThreads(workspaceID, entry.Path, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (s *Server) handleResumeThread(w http.ResponseWriter, r *http.Request) {
	result, err := s.conversations.ResumeThread(chi.URLParam(r, "workspaceID"), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text   string   `json:"text"`
		Images []string `json:"images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.conversations.SendUserMessage(
		chi.URLParam(r, "workspaceID"), chi.URLParam(r, "threadID"), body.Text, body.Images)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (s *Server) handleInterruptTurn(w http.ResponseWriter, r *http.Request) {
	result := s.conversations.InterruptTurn(chi.URLParam(r, "workspaceID"), chi.URLParam(r, "threadID"))
	writeResult(w, http.StatusOK, result)
}

func (s *Server) handleArchiveThread(w http.ResponseWriter, r *http.Request) {
	result, err := s.conversations.ArchiveThread(chi.URLParam(r, "workspaceID"), chi.URLParam(r, "threadID"))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (s *Server) handleSetThreadName(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.conversations.SetThreadName(
		chi.URLParam(r, "workspaceID"), chi.URLParam(r, "threadID"), body.Name)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeResult(w, http.StatusOK, result)
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The daemon binds to loopback; the desktop shell connects locally.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEventsWS streams bus events to a UI client. An optional workspace
// query parameter narrows app-server events to a single workspace.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	workspaceFilter := r.URL.Query().Get("workspace")
	ch := s.bus.Subscribe(eventbus.AppServer, eventbus.LogEntry)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine: surfaces client close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if workspaceFilter != "" && event.Type == eventbus.AppServer {
				var appEvent eventbus.AppServerEvent
				if err := json.Unmarshal(event.Data, &appEvent); err == nil && appEvent.WorkspaceID != workspaceFilter {
					continue
				}
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
