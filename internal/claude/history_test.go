package claude

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncodeWorkspacePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/Users/dev/my project", "-Users-dev-my-project"},
		{"/a//b", "-a-b"},
		{"plain", "plain"},
		{"trailing///", "trailing"},
		{"///", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := encodeWorkspacePath(tt.in); got != tt.want {
			t.Errorf("encodeWorkspacePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEncodeWorkspacePath_Idempotent(t *testing.T) {
	inputs := []string{"/Users/dev/app", "a b c", "x__y", "/tmp/δ/ws"}
	for _, in := range inputs {
		once := encodeWorkspacePath(in)
		if twice := encodeWorkspacePath(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestExtractText(t *testing.T) {
	if text, ok := extractText("  hello  "); !ok || text != "hello" {
		t.Errorf("string content: got %q, %v", text, ok)
	}
	if _, ok := extractText("   "); ok {
		t.Error("blank string should yield nothing")
	}
	if text, ok := extractText([]any{
		map[string]any{"type": "tool_use", "text": "  "},
		map[string]any{"type": "text", "text": " first real "},
		map[string]any{"type": "text", "text": "second"},
	}); !ok || text != "first real" {
		t.Errorf("array content: got %q, %v", text, ok)
	}
	if text, ok := extractText([]any{"", " raw string "}); !ok || text != "raw string" {
		t.Errorf("string entries: got %q, %v", text, ok)
	}
	if _, ok := extractText(float64(42)); ok {
		t.Error("numeric content should yield nothing")
	}
}

func TestBuildTurnsFromHistory(t *testing.T) {
	messages := []historyMessage{
		{role: "user", text: "q1", timestampMs: 100},
		{role: "assistant", text: "a1", timestampMs: 150},
		{role: "user", text: "q2", timestampMs: 200},
		{role: "assistant", text: "a2-draft", timestampMs: 250},
		{role: "assistant", text: "a2", timestampMs: 260},
	}
	turns := buildTurnsFromHistory("T", messages)
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}

	first := turns[0]
	if first.ID != "claude-history-turn-T-0" {
		t.Errorf("turn id: %q", first.ID)
	}
	if first.StartedAt != 100 || first.CompletedAt == nil || *first.CompletedAt != 150 {
		t.Errorf("first turn times: %d / %v", first.StartedAt, first.CompletedAt)
	}
	if len(first.Items) != 2 || first.Items[0].Text != "q1" || first.Items[1].Text != "a1" {
		t.Errorf("first turn items: %+v", first.Items)
	}
	if first.Items[0].ID != "claude-history-user-T-0" || first.Items[1].ID != "claude-history-assistant-T-0" {
		t.Errorf("item ids: %+v", first.Items)
	}

	// The later assistant message wins within a turn.
	second := turns[1]
	if len(second.Items) != 2 || second.Items[1].Text != "a2" {
		t.Errorf("second turn items: %+v", second.Items)
	}
}

func TestBuildTurnsFromHistory_AssistantTimeCoercedToStart(t *testing.T) {
	turns := buildTurnsFromHistory("T", []historyMessage{
		{role: "user", text: "q", timestampMs: 500},
		{role: "assistant", text: "a", timestampMs: 100},
	})
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].CompletedAt == nil || *turns[0].CompletedAt != 500 {
		t.Errorf("completedAt should be coerced up to startedAt, got %v", turns[0].CompletedAt)
	}
}

func TestBuildTurnsFromHistory_CapsAtLimit(t *testing.T) {
	var messages []historyMessage
	for i := 0; i < maxImportedTurnsPerThread+50; i++ {
		messages = append(messages, historyMessage{role: "user", text: fmt.Sprintf("q%d", i), timestampMs: int64(i)})
	}
	turns := buildTurnsFromHistory("T", messages)
	if len(turns) != maxImportedTurnsPerThread {
		t.Fatalf("expected %d turns, got %d", maxImportedTurnsPerThread, len(turns))
	}
	// The oldest turns are dropped.
	if turns[0].Items[0].Text != "q50" {
		t.Errorf("expected oldest kept turn q50, got %q", turns[0].Items[0].Text)
	}
}

func writeTranscript(t *testing.T, dir, stem string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, stem+".jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseHistoryThreadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "sess-1",
		`{"type":"user","timestamp":"2024-05-01T10:00:00Z","cwd":"/first","message":{"content":"What is Go?"}}`,
		"",
		"not json at all",
		`{"type":"assistant","timestamp":"2024-05-01T10:00:05Z","message":{"content":[{"type":"text","text":"A language."}]}}`,
		`{"type":"summary","summary":"irrelevant"}`,
		`{"type":"user","timestamp":"2024-05-01T10:01:00Z","cwd":"/second","message":{"content":"More?"}}`,
		`{"type":"assistant","timestamp":"2024-05-01T10:01:05Z","message":{"content":"Sure."}}`,
	)

	thread, ok := parseHistoryThreadFile(path, "/fallback")
	if !ok {
		t.Fatal("expected thread")
	}
	if thread.ID != "sess-1" {
		t.Errorf("id: %q", thread.ID)
	}
	if thread.Cwd != "/second" {
		t.Errorf("cwd should be last seen, got %q", thread.Cwd)
	}
	if thread.Preview != "What is Go?" {
		t.Errorf("preview from first user text, got %q", thread.Preview)
	}
	if len(thread.Turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(thread.Turns))
	}
	wantCreated := int64(1714557600000) // 2024-05-01T10:00:00Z
	if thread.CreatedAt != wantCreated {
		t.Errorf("createdAt: got %d, want %d", thread.CreatedAt, wantCreated)
	}
	wantUpdated := int64(1714557665000) // 2024-05-01T10:01:05Z
	if thread.UpdatedAt != wantUpdated {
		t.Errorf("updatedAt: got %d, want %d", thread.UpdatedAt, wantUpdated)
	}
}

func TestParseHistoryThreadFile_Filters(t *testing.T) {
	dir := t.TempDir()

	// Assistant text before any user message is dropped; diagnostic user
	// messages are dropped; foreign sessionIds are skipped.
	path := writeTranscript(t, dir, "sess-2",
		`{"type":"assistant","message":{"content":"orphan assistant"}}`,
		`{"type":"user","sessionId":"other-session","message":{"content":"foreign"}}`,
		`{"type":"user","message":{"content":"app-server {\"id\":1,\"method\":\"initialize\",\"params\":{}}"}}`,
		`{"type":"user","sessionId":"sess-2","message":{"content":"real question"}}`,
		`{"type":"assistant","message":{"content":"real answer"}}`,
	)

	thread, ok := parseHistoryThreadFile(path, "/ws")
	if !ok {
		t.Fatal("expected thread")
	}
	if len(thread.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d: %+v", len(thread.Turns), thread.Turns)
	}
	items := thread.Turns[0].Items
	if len(items) != 2 || items[0].Text != "real question" || items[1].Text != "real answer" {
		t.Errorf("items: %+v", items)
	}
	if thread.Cwd != "/ws" {
		t.Errorf("cwd fallback: %q", thread.Cwd)
	}
}

func TestParseHistoryThreadFile_NoTurns(t *testing.T) {
	dir := t.TempDir()
	path := writeTranscript(t, dir, "sess-3",
		`{"type":"summary","summary":"nothing conversational"}`,
	)
	if _, ok := parseHistoryThreadFile(path, "/ws"); ok {
		t.Fatal("thread without turns must be rejected")
	}
}

func TestScanHistoryThreads(t *testing.T) {
	root := t.TempDir()
	workspacePath := "/Users/dev/app"
	projectDir := filepath.Join(root, encodeWorkspacePath(workspacePath))
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}

	writeTranscript(t, projectDir, "older",
		`{"type":"user","timestamp":"2024-01-01T00:00:00Z","message":{"content":"old"}}`,
	)
	writeTranscript(t, projectDir, "newer",
		`{"type":"user","timestamp":"2024-06-01T00:00:00Z","message":{"content":"new"}}`,
	)
	// Non-jsonl files are ignored.
	if err := os.WriteFile(filepath.Join(projectDir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	threads := scanHistoryThreads(root, workspacePath)
	if len(threads) != 2 {
		t.Fatalf("expected 2 threads, got %d", len(threads))
	}
	if threads[0].ID != "newer" {
		t.Errorf("threads must be sorted by recency, got %q first", threads[0].ID)
	}

	if got := scanHistoryThreads(root, "///"); got != nil {
		t.Errorf("unencodable workspace path must scan nothing, got %v", got)
	}
	if got := scanHistoryThreads(root, "/no/such/workspace"); got != nil {
		t.Errorf("missing project dir must scan nothing, got %v", got)
	}
}
