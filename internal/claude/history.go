package claude

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glasswing-dev/glasswing/internal/stream"
)

const (
	claudeHistoryRoot         = ".claude/projects"
	maxImportedTurnsPerThread = 200
)

// defaultHistoryRoot is the Claude CLI's transcript directory.
func defaultHistoryRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, filepath.FromSlash(claudeHistoryRoot))
}

// encodeWorkspacePath maps a workspace path to the directory name the Claude
// CLI uses under its projects root: runs of non-alphanumerics collapse to a
// single dash, trailing dashes are trimmed.
func encodeWorkspacePath(workspacePath string) string {
	var encoded strings.Builder
	lastDash := false
	for _, ch := range workspacePath {
		isAlnum := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
		if isAlnum {
			encoded.WriteRune(ch)
			lastDash = false
		} else if !lastDash {
			encoded.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(encoded.String(), "-")
}

// projectDirForWorkspace returns the transcript directory for a workspace, or
// false when the path encodes to nothing.
func projectDirForWorkspace(historyRoot, workspacePath string) (string, bool) {
	if historyRoot == "" {
		return "", false
	}
	encoded := encodeWorkspacePath(workspacePath)
	if encoded == "" {
		return "", false
	}
	return filepath.Join(historyRoot, encoded), true
}

func parseRFC3339Ms(value string) (int64, bool) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return 0, false
	}
	return parsed.UnixMilli(), true
}

// extractText pulls display text out of a transcript record's content field,
// which is either a string or an array whose entries carry a text field or
// are plain strings.
func extractText(content any) (string, bool) {
	switch value := content.(type) {
	case string:
		trimmed := strings.TrimSpace(value)
		return trimmed, trimmed != ""
	case []any:
		for _, entry := range value {
			if obj, ok := entry.(map[string]any); ok {
				if text, ok := obj["text"].(string); ok {
					if trimmed := strings.TrimSpace(text); trimmed != "" {
						return trimmed, true
					}
				}
			}
			if text, ok := entry.(string); ok {
				if trimmed := strings.TrimSpace(text); trimmed != "" {
					return trimmed, true
				}
			}
		}
	}
	return "", false
}

func extractMessageText(record map[string]any) (string, bool) {
	message, ok := record["message"].(map[string]any)
	if !ok {
		return "", false
	}
	content, ok := message["content"]
	if !ok {
		return "", false
	}
	return extractText(content)
}

type historyMessage struct {
	role        string
	text        string
	timestampMs int64
}

func flushHistoryTurn(turns []Turn, threadID string, turnIndex int, pendingUser, pendingAssistant *historyMessage) []Turn {
	if pendingUser == nil && pendingAssistant == nil {
		return turns
	}

	var startedAt int64
	if pendingUser != nil {
		startedAt = pendingUser.timestampMs
	} else {
		startedAt = pendingAssistant.timestampMs
	}

	var completedAt *int64
	if pendingAssistant != nil {
		ts := pendingAssistant.timestampMs
		if ts < startedAt {
			ts = startedAt
		}
		completedAt = &ts
	}

	var items []Message
	if pendingUser != nil {
		items = append(items, Message{
			ID:   fmt.Sprintf("claude-history-user-%s-%d", threadID, turnIndex),
			Role: "user",
			Text: pendingUser.text,
		})
	}
	if pendingAssistant != nil {
		items = append(items, Message{
			ID:   fmt.Sprintf("claude-history-assistant-%s-%d", threadID, turnIndex),
			Role: "assistant",
			Text: pendingAssistant.text,
		})
	}

	return append(turns, Turn{
		ID:          fmt.Sprintf("claude-history-turn-%s-%d", threadID, turnIndex),
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Items:       items,
	})
}

// buildTurnsFromHistory walks the ordered transcript messages: a user message
// flushes the pending pair into a turn, an assistant message fills the pending
// assistant slot. Only the newest turns are kept.
func buildTurnsFromHistory(threadID string, messages []historyMessage) []Turn {
	var turns []Turn
	var pendingUser, pendingAssistant *historyMessage
	turnIndex := 0

	for i := range messages {
		message := messages[i]
		switch message.role {
		case "user":
			if pendingUser != nil || pendingAssistant != nil {
				turns = flushHistoryTurn(turns, threadID, turnIndex, pendingUser, pendingAssistant)
				turnIndex++
				pendingUser, pendingAssistant = nil, nil
			}
			pendingUser = &message
		case "assistant":
			pendingAssistant = &message
		}
	}
	turns = flushHistoryTurn(turns, threadID, turnIndex, pendingUser, pendingAssistant)

	if len(turns) > maxImportedTurnsPerThread {
		turns = turns[len(turns)-maxImportedTurnsPerThread:]
	}
	return turns
}

// parseHistoryThreadFile reconstructs a thread from one transcript JSONL
// file. Returns false for unreadable files and for files that yield no turns.
func parseHistoryThreadFile(path, fallbackWorkspacePath string) (Thread, bool) {
	file, err := os.Open(path)
	if err != nil {
		return Thread{}, false
	}
	defer file.Close()

	threadID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cwd := fallbackWorkspacePath
	var createdAt, updatedAt *int64
	var firstUserText, lastAssistantText string
	var messages []historyMessage
	sawUserMessage := false
	fallbackTimestampCounter := int64(0)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(trimmed), &record); err != nil {
			continue
		}

		if sessionID, ok := record["sessionId"].(string); ok {
			sessionID = strings.TrimSpace(sessionID)
			if sessionID == "" || sessionID != threadID {
				continue
			}
		}
		if recordCwd, ok := record["cwd"].(string); ok && strings.TrimSpace(recordCwd) != "" {
			cwd = recordCwd
		}

		var timestampMs int64
		parsedTimestamp := false
		if raw, ok := record["timestamp"].(string); ok {
			if ts, ok := parseRFC3339Ms(raw); ok {
				timestampMs = ts
				parsedTimestamp = true
				if createdAt == nil || ts < *createdAt {
					createdAt = &ts
				}
				if updatedAt == nil || ts > *updatedAt {
					updatedAt = &ts
				}
			}
		}
		if !parsedTimestamp {
			// Synthesize a strictly increasing timestamp so arrival order survives.
			fallbackTimestampCounter++
			base := nowMs()
			if updatedAt != nil && *updatedAt > base {
				base = *updatedAt
			}
			timestampMs = base + fallbackTimestampCounter
		}

		recordType, _ := record["type"].(string)
		switch recordType {
		case "user":
			text, ok := extractMessageText(record)
			if !ok || stream.IsDiagnosticMessage(text) {
				continue
			}
			if firstUserText == "" {
				firstUserText = text
			}
			sawUserMessage = true
			messages = append(messages, historyMessage{role: "user", text: text, timestampMs: timestampMs})
		case "assistant":
			text, ok := extractMessageText(record)
			if !ok || stream.IsDiagnosticMessage(text) {
				continue
			}
			if !sawUserMessage {
				continue
			}
			lastAssistantText = text
			messages = append(messages, historyMessage{role: "assistant", text: text, timestampMs: timestampMs})
		}
	}

	fallbackTimestamp := nowMs()
	if info, err := file.Stat(); err == nil {
		fallbackTimestamp = info.ModTime().UnixMilli()
	}
	created := fallbackTimestamp
	if createdAt != nil {
		created = *createdAt
	}
	updated := max(created, fallbackTimestamp)
	if updatedAt != nil {
		updated = *updatedAt
	}

	previewSource := firstUserText
	if previewSource == "" {
		previewSource = lastAssistantText
	}
	if previewSource == "" {
		previewSource = threadID
	}

	turns := buildTurnsFromHistory(threadID, messages)
	if len(turns) == 0 {
		return Thread{}, false
	}

	return Thread{
		ID:        threadID,
		Cwd:       cwd,
		Preview:   previewFromText(previewSource),
		CreatedAt: created,
		UpdatedAt: updated,
		Turns:     turns,
	}, true
}

// scanHistoryThreads reads every transcript file in the workspace's project
// directory. When several files share a thread id, the freshest wins.
func scanHistoryThreads(historyRoot, workspacePath string) []Thread {
	projectDir, ok := projectDirForWorkspace(historyRoot, workspacePath)
	if !ok {
		return nil
	}
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return nil
	}

	byID := make(map[string]Thread)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		thread, ok := parseHistoryThreadFile(filepath.Join(projectDir, entry.Name()), workspacePath)
		if !ok {
			continue
		}
		if existing, ok := byID[thread.ID]; !ok || existing.UpdatedAt < thread.UpdatedAt {
			byID[thread.ID] = thread
		}
	}

	threads := make([]Thread, 0, len(byID))
	for _, thread := range byID {
		threads = append(threads, thread)
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt > threads[j].UpdatedAt
	})
	return threads
}
