// Package claude supervises Claude CLI conversations for registered
// workspaces: it owns durable thread history, reconciles it with the CLI's
// own transcript directory, and streams turn progress to the UI event sink.
package claude

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// Message is a single user or assistant message inside a turn.
type Message struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// Turn is one user-message/assistant-response exchange.
type Turn struct {
	ID          string    `json:"id"`
	StartedAt   int64     `json:"startedAt"`
	CompletedAt *int64    `json:"completedAt"`
	Items       []Message `json:"items"`
}

// Thread is an ordered sequence of turns belonging to a workspace.
type Thread struct {
	ID        string  `json:"id"`
	Cwd       string  `json:"cwd"`
	Preview   string  `json:"preview"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
	Name      *string `json:"name,omitempty"`
	Turns     []Turn  `json:"turns,omitempty"`
}

// Snapshot is the full persisted mapping of workspace id to its threads.
type Snapshot map[string][]Thread

const (
	maxPreviewLen = 120

	// legacyThreadIDPrefix marks thread ids minted before threads adopted the
	// CLI's native session UUIDs directly.
	legacyThreadIDPrefix = "claude-thread-"
)

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// previewFromText collapses text to a single line of at most 120 bytes,
// truncating at a rune boundary with a "..." suffix when longer.
func previewFromText(text string) string {
	singleLine := strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if len(singleLine) <= maxPreviewLen {
		return singleLine
	}
	cut := maxPreviewLen - 3
	for cut > 0 && !utf8.RuneStart(singleLine[cut]) {
		cut--
	}
	return singleLine[:cut] + "..."
}

func sortThreadsByUpdatedAtDesc(threads []Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].UpdatedAt > threads[j].UpdatedAt
	})
}

func threadSummary(thread *Thread) map[string]any {
	return map[string]any{
		"id":        thread.ID,
		"cwd":       thread.Cwd,
		"preview":   thread.Preview,
		"createdAt": thread.CreatedAt,
		"updatedAt": thread.UpdatedAt,
		"name":      thread.Name,
	}
}

func threadResumePayload(thread *Thread) map[string]any {
	turns := make([]map[string]any, 0, len(thread.Turns))
	for _, turn := range thread.Turns {
		items := make([]map[string]any, 0, len(turn.Items))
		for _, item := range turn.Items {
			if item.Role == "user" {
				items = append(items, map[string]any{
					"id":      item.ID,
					"type":    "userMessage",
					"content": []map[string]any{{"type": "text", "text": item.Text}},
				})
			} else {
				items = append(items, map[string]any{
					"id":   item.ID,
					"type": "agentMessage",
					"text": item.Text,
				})
			}
		}
		turns = append(turns, map[string]any{
			"id":          turn.ID,
			"startedAt":   turn.StartedAt,
			"completedAt": turn.CompletedAt,
			"items":       items,
		})
	}
	return map[string]any{
		"id":        thread.ID,
		"cwd":       thread.Cwd,
		"preview":   thread.Preview,
		"createdAt": thread.CreatedAt,
		"updatedAt": thread.UpdatedAt,
		"name":      thread.Name,
		"turns":     turns,
	}
}
