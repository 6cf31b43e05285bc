package claude

import (
	"bufio"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/glasswing-dev/glasswing/internal/stream"
)

// cancelRegistry holds at most one pending cancellation signal per
// workspace:thread pair. Arming a key that already has a signal fires the
// old one, preempting the turn it belonged to.
type cancelRegistry struct {
	mu      sync.Mutex
	entries map[string]chan struct{}
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{entries: make(map[string]chan struct{})}
}

func cancelKey(workspaceID, threadID string) string {
	return workspaceID + ":" + threadID
}

// arm installs a fresh cancellation channel for key, firing any previous one.
func (r *cancelRegistry) arm(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok {
		close(existing)
	}
	ch := make(chan struct{})
	r.entries[key] = ch
	return ch
}

// fire signals the turn registered under key, if any, and removes the entry.
func (r *cancelRegistry) fire(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok {
		close(existing)
		delete(r.entries, key)
	}
}

// release removes the entry for key, but only if it still belongs to ch. A
// preempting turn may have replaced the entry in the meantime.
func (r *cancelRegistry) release(key string, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok && existing == ch {
		delete(r.entries, key)
	}
}

func (r *cancelRegistry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// buildPrompt produces the child's prompt: trimmed text, plus a trailing list
// of attached image paths when any are given.
func buildPrompt(text string, images []string) string {
	prompt := strings.TrimSpace(text)
	var imageLines []string
	for _, path := range images {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			imageLines = append(imageLines, trimmed)
		}
	}
	if len(imageLines) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	if prompt != "" {
		b.WriteString("\n\n")
	}
	b.WriteString("Attached image paths:\n")
	for _, path := range imageLines {
		b.WriteString("- ")
		b.WriteString(path)
		b.WriteByte('\n')
	}
	return b.String()
}

// parseCLIArgs tokenizes the configured extra args with POSIX shell quoting
// rules, dropping empty tokens.
func parseCLIArgs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	tokens, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("Invalid Claude args: %w", err)
	}
	args := tokens[:0]
	for _, token := range tokens {
		if token != "" {
			args = append(args, token)
		}
	}
	return args, nil
}

// sessionArgs picks how the child reattaches to the CLI's native session:
// legacy prefixed ids strip to --session-id, a first turn on a UUID-named
// thread claims that UUID as the session id, anything else resumes by name.
func sessionArgs(threadID string, hadTurns bool) []string {
	if strings.TrimSpace(threadID) == "" {
		return nil
	}
	if suffix, ok := strings.CutPrefix(threadID, legacyThreadIDPrefix); ok {
		if _, err := uuid.Parse(suffix); err == nil {
			return []string{"--session-id", suffix}
		}
	}
	if !hadTurns {
		if _, err := uuid.Parse(threadID); err == nil {
			return []string{"--session-id", threadID}
		}
	}
	return []string{"--resume", threadID}
}

// turnRun carries everything a single supervised turn needs.
type turnRun struct {
	service *Service

	workspaceID     string
	threadID        string
	turnID          string
	assistantItemID string

	key      string
	cancelCh chan struct{}

	bin      string
	extraRaw string
	prompt   string
	session  []string
	cwd      string
}

func (t *turnRun) emitError(message string) {
	t.service.emit(t.workspaceID, "error", map[string]any{
		"threadId":  t.threadID,
		"turnId":    t.turnID,
		"error":     map[string]any{"message": message},
		"willRetry": false,
	})
}

func (t *turnRun) emitTurnCompleted() {
	t.service.emit(t.workspaceID, "turn/completed", map[string]any{
		"threadId": t.threadID,
		"turn":     map[string]any{"id": t.turnID, "threadId": t.threadID},
	})
}

func (t *turnRun) emitAssistantCompleted(text string) {
	t.service.emit(t.workspaceID, "item/completed", map[string]any{
		"threadId": t.threadID,
		"item": map[string]any{
			"id":   t.assistantItemID,
			"type": "agentMessage",
			"text": text,
		},
	})
}

// appendDelta extends the aggregated answer and emits the increment. Lines
// after the first are joined with a newline.
func (t *turnRun) appendDelta(aggregated *strings.Builder, line string) {
	delta := line
	if aggregated.Len() > 0 {
		delta = "\n" + line
	}
	aggregated.WriteString(delta)
	t.service.emit(t.workspaceID, "item/agentMessage/delta", map[string]any{
		"threadId": t.threadID,
		"itemId":   t.assistantItemID,
		"delta":    delta,
	})
}

// fail finalizes a turn that never produced a stream outcome.
func (t *turnRun) fail(message string) {
	t.emitError(message)
	t.emitTurnCompleted()
	t.service.cancels.release(t.key, t.cancelCh)
}

// run drives the child process for one turn. It is the only goroutine that
// touches the child once spawned.
func (t *turnRun) run() {
	logger := t.service.logger.With("workspace_id", t.workspaceID, "thread_id", t.threadID, "turn_id", t.turnID)

	extraArgs, err := parseCLIArgs(t.extraRaw)
	if err != nil {
		t.fail(err.Error())
		return
	}

	bin := t.bin
	if strings.TrimSpace(bin) == "" {
		bin = "claude"
	}
	args := append([]string{}, extraArgs...)
	args = append(args, "-p", t.prompt)
	// Force plain text output so UI rendering doesn't ingest structured
	// or debug streams.
	args = append(args, "--output-format", "text")
	args = append(args, t.session...)

	cmd := exec.Command(bin, args...)
	cmd.Dir = t.cwd

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.fail("Claude CLI missing stdout")
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.fail(fmt.Sprintf("Failed to start Claude CLI: %v", err))
		return
	}

	if err := cmd.Start(); err != nil {
		t.fail(fmt.Sprintf("Failed to start Claude CLI: %v", err))
		return
	}

	// Collect stderr line by line in parallel; it becomes the failure
	// message when the child exits non-zero.
	stderrCh := make(chan string, 1)
	go func() {
		var lines []string
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		stderrCh <- strings.Join(lines, "\n")
	}()

	lineCh := make(chan string, 16)
	readErrCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			readErrCh <- err
		}
		close(lineCh)
	}()

	var aggregated strings.Builder
	var pendingToken string
	havePendingToken := false
	canceled := false
	var readError string

loop:
	for {
		// Cancellation wins over buffered output.
		select {
		case <-t.cancelCh:
			canceled = true
			_ = cmd.Process.Kill()
			break loop
		default:
		}

		select {
		case <-t.cancelCh:
			canceled = true
			_ = cmd.Process.Kill()
			break loop
		case line, ok := <-lineCh:
			if !ok {
				select {
				case err := <-readErrCh:
					readError = fmt.Sprintf("Failed reading Claude output: %v", err)
				default:
				}
				break loop
			}

			normalized := strings.TrimSpace(stream.StripEscapes(line))
			if normalized == "" {
				continue
			}

			if havePendingToken {
				candidate := pendingToken + "\n" + normalized
				havePendingToken = false
				if stream.IsDiagnosticMessage(candidate) {
					// Token and payload together form a debug frame; drop both.
					continue
				}
				t.appendDelta(&aggregated, pendingToken)
			}

			if stream.IsServerToken(normalized) {
				// Might be the prefix of a debug frame; hold it until the
				// next line disambiguates.
				pendingToken = normalized
				havePendingToken = true
				continue
			}
			if stream.IsDiagnosticLine(normalized) {
				continue
			}
			t.appendDelta(&aggregated, normalized)
		}
	}

	if havePendingToken {
		// EOF or interruption: the held token was ordinary output after all.
		t.appendDelta(&aggregated, pendingToken)
	}

	// Let both readers drain to EOF before Wait closes the pipes.
	for range lineCh {
	}
	stderrOutput := <-stderrCh
	waitErr := cmd.Wait()

	text := aggregated.String()
	t.finalize(text)
	if err := t.service.store.Persist(); err != nil {
		logger.Warn("persist after turn failed", "error", err)
	}

	switch {
	case canceled:
		t.emitAssistantCompleted(text)
		t.emitTurnCompleted()
	case readError != "":
		t.emitError(readError)
		t.emitTurnCompleted()
	case waitErr == nil:
		t.emitAssistantCompleted(text)
		t.emitTurnCompleted()
	default:
		message := stderrOutput
		if strings.TrimSpace(message) == "" {
			message = "Claude CLI failed."
		}
		t.emitError(message)
		t.emitTurnCompleted()
	}

	t.service.cancels.release(t.key, t.cancelCh)
}

// finalize records the turn outcome in the store: completion time, aggregated
// assistant text, and a fresh preview when the answer is non-blank.
func (t *turnRun) finalize(assistantText string) {
	t.service.store.WithLock(func(threads Snapshot) {
		list, ok := threads[t.workspaceID]
		if !ok {
			return
		}
		var thread *Thread
		for i := range list {
			if list[i].ID == t.threadID {
				thread = &list[i]
				break
			}
		}
		if thread == nil {
			return
		}
		updatedAt := nowMs()
		thread.UpdatedAt = updatedAt
		if strings.TrimSpace(assistantText) != "" {
			thread.Preview = previewFromText(assistantText)
		}
		for i := range thread.Turns {
			if thread.Turns[i].ID != t.turnID {
				continue
			}
			completed := updatedAt
			thread.Turns[i].CompletedAt = &completed
			for j := range thread.Turns[i].Items {
				item := &thread.Turns[i].Items[j]
				if item.ID == t.assistantItemID && item.Role == "assistant" {
					item.Text = assistantText
				}
			}
			break
		}
	})
}
