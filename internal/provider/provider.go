// Package provider resolves which assistant backs a workspace and how its
// CLI is invoked.
package provider

import (
	"fmt"
	"strings"

	"github.com/glasswing-dev/glasswing/internal/config"
	"github.com/glasswing-dev/glasswing/internal/workspace"
)

// Kind names an assistant provider.
type Kind string

const (
	Claude Kind = "claude"
	Codex  Kind = "codex"
	Gemini Kind = "gemini"
)

// Capabilities describes which conversation operations a provider supports.
type Capabilities struct {
	ListThreads   bool
	ResumeThread  bool
	InterruptTurn bool
	ModelList     bool
}

// CapabilitiesOf returns the capability set for a provider kind.
func CapabilitiesOf(kind Kind) Capabilities {
	switch kind {
	case Codex:
		return Capabilities{ListThreads: true, ResumeThread: true, InterruptTurn: true, ModelList: true}
	case Claude:
		return Capabilities{ListThreads: true, ResumeThread: true, InterruptTurn: true}
	default:
		return Capabilities{}
	}
}

// ResolveWorkspaceProvider picks the provider for a workspace: the workspace's
// own setting wins, then the app default, then Claude.
func ResolveWorkspaceProvider(entry workspace.Entry, settings config.AppSettings) Kind {
	if p := strings.TrimSpace(entry.Settings.Provider); p != "" {
		return Kind(p)
	}
	if p := strings.TrimSpace(settings.DefaultProvider); p != "" {
		return Kind(p)
	}
	return Claude
}

// EnsureClaude verifies the workspace resolves to the Claude provider.
func EnsureClaude(workspaceID string, entry workspace.Entry, settings config.AppSettings) error {
	if kind := ResolveWorkspaceProvider(entry, settings); kind != Claude {
		return fmt.Errorf("workspace `%s` is configured for provider `%s`", workspaceID, kind)
	}
	return nil
}

// ClaudeRuntime is the resolved Claude CLI invocation for a workspace.
type ClaudeRuntime struct {
	Bin  string // empty means "claude" from PATH
	Args string // raw extra CLI args, shell-tokenized by the caller
}

// ResolveClaudeRuntime resolves bin and extra args by precedence: workspace
// entry, then its parent iff the entry is a worktree, then app settings.
// Values are trimmed; empty strings are treated as absent.
func ResolveClaudeRuntime(entry workspace.Entry, parent *workspace.Entry, settings config.AppSettings) ClaudeRuntime {
	return ClaudeRuntime{
		Bin:  resolveSetting(entry, parent, settings.ClaudeBin, func(s workspace.Settings) string { return s.ClaudeBin }),
		Args: resolveSetting(entry, parent, settings.ClaudeArgs, func(s workspace.Settings) string { return s.ClaudeArgs }),
	}
}

func resolveSetting(entry workspace.Entry, parent *workspace.Entry, appValue string, pick func(workspace.Settings) string) string {
	if v := strings.TrimSpace(pick(entry.Settings)); v != "" {
		return v
	}
	if entry.Kind.IsWorktree() && parent != nil {
		if v := strings.TrimSpace(pick(parent.Settings)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(appValue)
}
