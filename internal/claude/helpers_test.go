package claude

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glasswing-dev/glasswing/internal/config"
	"github.com/glasswing-dev/glasswing/internal/eventbus"
	"github.com/glasswing-dev/glasswing/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeDirectory is an in-memory WorkspaceDirectory.
type fakeDirectory map[string]workspace.Entry

func (d fakeDirectory) Get(id string) (workspace.Entry, error) {
	entry, ok := d[id]
	if !ok {
		return workspace.Entry{}, errors.New("unknown workspace")
	}
	return entry, nil
}

func (d fakeDirectory) Parent(entry workspace.Entry) (workspace.Entry, bool) {
	if entry.ParentID == "" {
		return workspace.Entry{}, false
	}
	parent, ok := d[entry.ParentID]
	return parent, ok
}

type fakeSettings struct {
	settings config.AppSettings
}

func (f fakeSettings) AppSettings() config.AppSettings { return f.settings }

// eventRecorder captures emitted UI events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []eventbus.AppServerEvent
}

func (r *eventRecorder) EmitAppServerEvent(event eventbus.AppServerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) snapshot() []eventbus.AppServerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.AppServerEvent(nil), r.events...)
}

func (r *eventRecorder) methods() []string {
	var methods []string
	for _, event := range r.snapshot() {
		methods = append(methods, event.Message.Method)
	}
	return methods
}

// deltas returns the payloads of all item/agentMessage/delta events in order.
func (r *eventRecorder) deltas() []string {
	var deltas []string
	for _, event := range r.snapshot() {
		if event.Message.Method != "item/agentMessage/delta" {
			continue
		}
		params := event.Message.Params.(map[string]any)
		deltas = append(deltas, params["delta"].(string))
	}
	return deltas
}

// waitFor polls until pred over the recorded events holds, or fails the test.
func (r *eventRecorder) waitFor(t *testing.T, what string, pred func([]eventbus.AppServerEvent) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pred(r.snapshot()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; saw methods %v", what, r.methods())
}

func (r *eventRecorder) waitForMethod(t *testing.T, method string) {
	t.Helper()
	r.waitFor(t, method, func(events []eventbus.AppServerEvent) bool {
		for _, event := range events {
			if event.Message.Method == method {
				return true
			}
		}
		return false
	})
}

// assistantCompletedText returns the text of the agentMessage item/completed
// event, if one was recorded.
func (r *eventRecorder) assistantCompletedText() (string, bool) {
	for _, event := range r.snapshot() {
		if event.Message.Method != "item/completed" {
			continue
		}
		params := event.Message.Params.(map[string]any)
		item, ok := params["item"].(map[string]any)
		if !ok || item["type"] != "agentMessage" {
			continue
		}
		text, _ := item["text"].(string)
		return text, true
	}
	return "", false
}

func (r *eventRecorder) errorMessages() []string {
	var messages []string
	for _, event := range r.snapshot() {
		if event.Message.Method != "error" {
			continue
		}
		params := event.Message.Params.(map[string]any)
		if errObj, ok := params["error"].(map[string]any); ok {
			if msg, ok := errObj["message"].(string); ok {
				messages = append(messages, msg)
			}
		}
	}
	return messages
}

// newTestService builds a Service around temp storage and the given fakes.
func newTestService(t *testing.T, dir fakeDirectory, settings config.AppSettings, sink EventSink, historyRoot string) (*Service, *Store) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "claude_threads.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if historyRoot == "" {
		// Point at an empty directory so tests never read the real home.
		historyRoot = t.TempDir()
	}
	svc := NewService(store, dir, fakeSettings{settings}, sink, historyRoot, testLogger())
	return svc, store
}

// writeFakeClaude writes an executable shell script standing in for the
// Claude CLI and returns its path.
func writeFakeClaude(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake claude: %v", err)
	}
	return path
}

// seedThread installs a thread into the store under workspaceID.
func seedThread(store *Store, workspaceID string, thread Thread) {
	store.WithLock(func(threads Snapshot) {
		threads[workspaceID] = append(threads[workspaceID], thread)
	})
}
