package claude

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/glasswing-dev/glasswing/internal/config"
	"github.com/glasswing-dev/glasswing/internal/eventbus"
	"github.com/glasswing-dev/glasswing/internal/provider"
	"github.com/glasswing-dev/glasswing/internal/workspace"
)

// Errors surfaced to callers of the public operations.
var (
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrThreadNotFound    = errors.New("thread not found")
	ErrEmptyMessage      = errors.New("empty user message")
)

// WorkspaceDirectory resolves workspace entries and their parents.
type WorkspaceDirectory interface {
	Get(id string) (workspace.Entry, error)
	Parent(entry workspace.Entry) (workspace.Entry, bool)
}

// SettingsSource supplies the current application settings.
type SettingsSource interface {
	AppSettings() config.AppSettings
}

// EventSink receives workspace-addressed UI events. It must be safe to share
// across the originating operation and the background turn task.
type EventSink interface {
	EmitAppServerEvent(event eventbus.AppServerEvent)
}

// Service implements the Claude conversation operations for all workspaces.
type Service struct {
	logger      *slog.Logger
	store       *Store
	historyRoot string
	workspaces  WorkspaceDirectory
	settings    SettingsSource
	sink        EventSink
	cancels     *cancelRegistry
}

// NewService wires the conversation core. historyRoot overrides the Claude
// CLI transcript location; empty selects ~/.claude/projects.
func NewService(store *Store, workspaces WorkspaceDirectory, settings SettingsSource, sink EventSink, historyRoot string, logger *slog.Logger) *Service {
	if historyRoot == "" {
		historyRoot = defaultHistoryRoot()
	}
	return &Service{
		logger:      logger.With("component", "claude"),
		store:       store,
		historyRoot: historyRoot,
		workspaces:  workspaces,
		settings:    settings,
		sink:        sink,
		cancels:     newCancelRegistry(),
	}
}

func (s *Service) emit(workspaceID, method string, params map[string]any) {
	s.sink.EmitAppServerEvent(eventbus.AppServerEvent{
		WorkspaceID: workspaceID,
		Message:     eventbus.Message{Method: method, Params: params},
	})
}

func (s *Service) resolveWorkspace(workspaceID string) (workspace.Entry, *workspace.Entry, config.AppSettings, error) {
	entry, err := s.workspaces.Get(workspaceID)
	if err != nil {
		return workspace.Entry{}, nil, config.AppSettings{}, ErrWorkspaceNotFound
	}
	var parent *workspace.Entry
	if p, ok := s.workspaces.Parent(entry); ok {
		parent = &p
	}
	return entry, parent, s.settings.AppSettings(), nil
}

// StartThreadResult is the acknowledgement for StartThread.
type StartThreadResult struct {
	Thread map[string]any `json:"thread"`
}

// StartThread creates an empty thread at the head of the workspace's list.
func (s *Service) StartThread(workspaceID string) (StartThreadResult, error) {
	entry, _, settings, err := s.resolveWorkspace(workspaceID)
	if err != nil {
		return StartThreadResult{}, err
	}
	if err := provider.EnsureClaude(workspaceID, entry, settings); err != nil {
		return StartThreadResult{}, err
	}

	timestamp := nowMs()
	thread := Thread{
		ID:        uuid.NewString(),
		Cwd:       entry.Path,
		CreatedAt: timestamp,
		UpdatedAt: timestamp,
	}
	s.store.WithLock(func(threads Snapshot) {
		threads[workspaceID] = append([]Thread{thread}, threads[workspaceID]...)
	})
	if err := s.store.Persist(); err != nil {
		return StartThreadResult{}, err
	}

	summary := threadSummary(&thread)
	s.emit(workspaceID, "thread/started", map[string]any{"thread": summary})
	return StartThreadResult{Thread: summary}, nil
}

// ResumeThreadResult carries the fully serialized thread.
type ResumeThreadResult struct {
	Thread map[string]any `json:"thread"`
}

// ResumeThread returns the full payload of one thread, turns included.
func (s *Service) ResumeThread(workspaceID, threadID string) (ResumeThreadResult, error) {
	var payload map[string]any
	s.store.WithLock(func(threads Snapshot) {
		for i := range threads[workspaceID] {
			if threads[workspaceID][i].ID == threadID {
				payload = threadResumePayload(&threads[workspaceID][i])
				return
			}
		}
	})
	if payload == nil {
		return ResumeThreadResult{}, ErrThreadNotFound
	}
	return ResumeThreadResult{Thread: payload}, nil
}

// ListThreadsResult is one page of thread summaries.
type ListThreadsResult struct {
	Data       []map[string]any `json:"data"`
	NextCursor *string          `json:"nextCursor"`
}

// ListThreads refreshes the workspace's threads from the CLI transcript
// directory (best-effort), then returns a page sorted by recency. cursor is a
// decimal offset; limit is clamped to [1,100] with 0 meaning the default 20.
func (s *Service) ListThreads(workspaceID, workspacePath, cursor string, limit int) (ListThreadsResult, error) {
	if _, err := importHistoryThreads(s.store, s.historyRoot, workspaceID, workspacePath); err != nil {
		s.logger.Warn("history import failed", "workspace_id", workspaceID, "error", err)
	}
	if _, err := prunePlaceholderThreads(s.store, workspaceID); err != nil {
		s.logger.Warn("placeholder prune failed", "workspace_id", workspaceID, "error", err)
	}

	offset := 0
	if parsed, err := strconv.Atoi(strings.TrimSpace(cursor)); err == nil && parsed > 0 {
		offset = parsed
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var list []Thread
	s.store.WithLock(func(threads Snapshot) {
		list = append(list, threads[workspaceID]...)
	})
	sortThreadsByUpdatedAtDesc(list)

	data := make([]map[string]any, 0, limit)
	for i := offset; i < len(list) && len(data) < limit; i++ {
		data = append(data, threadSummary(&list[i]))
	}
	var nextCursor *string
	if next := offset + len(data); next < len(list) {
		cursorValue := strconv.Itoa(next)
		nextCursor = &cursorValue
	}
	return ListThreadsResult{Data: data, NextCursor: nextCursor}, nil
}

// TurnRef identifies a turn within a thread.
type TurnRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

// SendMessageResult acknowledges an accepted user message; streaming
// continues in the background.
type SendMessageResult struct {
	Turn TurnRef `json:"turn"`
}

// SendUserMessage appends a new turn to the thread and launches the Claude
// CLI to answer it. The synchronous result only names the new turn; progress
// arrives through the event sink.
func (s *Service) SendUserMessage(workspaceID, threadID, text string, images []string) (SendMessageResult, error) {
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return SendMessageResult{}, ErrEmptyMessage
	}

	entry, parent, settings, err := s.resolveWorkspace(workspaceID)
	if err != nil {
		return SendMessageResult{}, err
	}
	runtime := provider.ResolveClaudeRuntime(entry, parent, settings)
	prompt := buildPrompt(text, images)

	turnID := "claude-turn-" + uuid.NewString()
	userItemID := "claude-user-" + uuid.NewString()
	assistantItemID := "claude-assistant-" + uuid.NewString()
	startedAt := nowMs()

	threadFound := false
	threadHadTurns := false
	s.store.WithLock(func(threads Snapshot) {
		list := threads[workspaceID]
		for i := range list {
			if list[i].ID != threadID {
				continue
			}
			threadFound = true
			threadHadTurns = len(list[i].Turns) > 0
			list[i].UpdatedAt = startedAt
			list[i].Turns = append(list[i].Turns, Turn{
				ID:        turnID,
				StartedAt: startedAt,
				Items: []Message{
					{ID: userItemID, Role: "user", Text: text},
					{ID: assistantItemID, Role: "assistant"},
				},
			})
			return
		}
	})
	if !threadFound {
		return SendMessageResult{}, ErrThreadNotFound
	}
	if err := s.store.Persist(); err != nil {
		return SendMessageResult{}, err
	}

	userContent := []map[string]any{{"type": "text", "text": text}}
	s.emit(workspaceID, "turn/started", map[string]any{
		"threadId": threadID,
		"turn":     map[string]any{"id": turnID, "threadId": threadID},
	})
	s.emit(workspaceID, "item/started", map[string]any{
		"threadId": threadID,
		"item":     map[string]any{"id": userItemID, "type": "userMessage", "content": userContent},
	})
	s.emit(workspaceID, "item/completed", map[string]any{
		"threadId": threadID,
		"item":     map[string]any{"id": userItemID, "type": "userMessage", "content": userContent},
	})
	s.emit(workspaceID, "item/started", map[string]any{
		"threadId": threadID,
		"item":     map[string]any{"id": assistantItemID, "type": "agentMessage", "text": ""},
	})

	key := cancelKey(workspaceID, threadID)
	run := &turnRun{
		service:         s,
		workspaceID:     workspaceID,
		threadID:        threadID,
		turnID:          turnID,
		assistantItemID: assistantItemID,
		key:             key,
		cancelCh:        s.cancels.arm(key),
		bin:             runtime.Bin,
		extraRaw:        runtime.Args,
		prompt:          prompt,
		session:         sessionArgs(threadID, threadHadTurns),
		cwd:             entry.Path,
	}
	go run.run()

	return SendMessageResult{Turn: TurnRef{ID: turnID, ThreadID: threadID}}, nil
}

// OkResult is a bare success acknowledgement.
type OkResult struct {
	OK bool `json:"ok"`
}

// InterruptTurn cancels the active turn on a thread, if any. Idempotent.
func (s *Service) InterruptTurn(workspaceID, threadID string) OkResult {
	s.cancels.fire(cancelKey(workspaceID, threadID))
	return OkResult{OK: true}
}

// ArchiveThread tombstones a thread id and removes the thread from the
// store. The CLI's own transcript is left untouched.
func (s *Service) ArchiveThread(workspaceID, threadID string) (OkResult, error) {
	if err := persistArchivedThreadID(s.store.Path(), workspaceID, threadID); err != nil {
		return OkResult{}, err
	}
	s.store.WithLock(func(threads Snapshot) {
		list := threads[workspaceID]
		kept := list[:0]
		for _, thread := range list {
			if thread.ID != threadID {
				kept = append(kept, thread)
			}
		}
		threads[workspaceID] = kept
	})
	if err := s.store.Persist(); err != nil {
		return OkResult{}, err
	}
	return OkResult{OK: true}, nil
}

// SetThreadNameResult reports the thread's name after the update.
type SetThreadNameResult struct {
	ThreadID   string  `json:"threadId"`
	ThreadName *string `json:"threadName"`
}

// SetThreadName renames a thread; a blank name clears it.
func (s *Service) SetThreadName(workspaceID, threadID, name string) (SetThreadNameResult, error) {
	trimmed := strings.TrimSpace(name)
	var threadName *string
	found := false
	s.store.WithLock(func(threads Snapshot) {
		list := threads[workspaceID]
		for i := range list {
			if list[i].ID != threadID {
				continue
			}
			found = true
			if trimmed == "" {
				list[i].Name = nil
			} else {
				value := trimmed
				list[i].Name = &value
			}
			list[i].UpdatedAt = nowMs()
			threadName = list[i].Name
			return
		}
	})
	if !found {
		return SetThreadNameResult{}, ErrThreadNotFound
	}
	if err := s.store.Persist(); err != nil {
		return SetThreadNameResult{}, err
	}
	return SetThreadNameResult{ThreadID: threadID, ThreadName: threadName}, nil
}

// ActiveTurnCount reports how many turns currently hold a cancel slot.
func (s *Service) ActiveTurnCount() int {
	return s.cancels.size()
}
