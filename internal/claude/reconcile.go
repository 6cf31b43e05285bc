package claude

import (
	"strings"

	"github.com/glasswing-dev/glasswing/internal/stream"
)

// importHistoryThreads merges the CLI's transcript threads for a workspace
// into the store. Archived ids are suppressed; existing threads win unless
// the import is fresher. Reports whether anything changed.
func importHistoryThreads(store *Store, historyRoot, workspaceID, workspacePath string) (bool, error) {
	archivedIDs := readArchivedThreadIDs(store.Path(), workspaceID)
	imported := scanHistoryThreads(historyRoot, workspacePath)
	if len(imported) == 0 {
		return false, nil
	}

	changed := false
	store.WithLock(func(threads Snapshot) {
		list := threads[workspaceID]
		for _, importedThread := range imported {
			if isArchivedThreadID(archivedIDs, importedThread.ID) {
				continue
			}
			importedThread.Cwd = workspacePath
			legacyID := legacyThreadIDPrefix + importedThread.ID

			var existing *Thread
			for i := range list {
				if list[i].ID == importedThread.ID || list[i].ID == legacyID {
					existing = &list[i]
					break
				}
			}
			if existing == nil {
				list = append(list, importedThread)
				changed = true
				continue
			}

			updated := false
			if existing.CreatedAt <= 0 && importedThread.CreatedAt > 0 {
				existing.CreatedAt = importedThread.CreatedAt
				updated = true
			}
			if importedThread.UpdatedAt > existing.UpdatedAt {
				existing.UpdatedAt = importedThread.UpdatedAt
				if strings.TrimSpace(existing.Preview) == "" {
					existing.Preview = importedThread.Preview
				}
				if len(importedThread.Turns) > 0 {
					existing.Turns = importedThread.Turns
				}
				updated = true
			}
			if existing.Cwd != workspacePath {
				existing.Cwd = workspacePath
				updated = true
			}
			if len(existing.Turns) == 0 && len(importedThread.Turns) > 0 {
				existing.Turns = importedThread.Turns
				updated = true
			}
			if updated {
				changed = true
			}
		}
		if changed {
			sortThreadsByUpdatedAtDesc(list)
			threads[workspaceID] = list
		}
	})

	if !changed {
		return false, nil
	}
	return true, store.Persist()
}

// prunePlaceholderThreads drops threads that carry no real conversation:
// import placeholders, diagnostic-only bootstraps, and archived ids.
func prunePlaceholderThreads(store *Store, workspaceID string) (bool, error) {
	archivedIDs := readArchivedThreadIDs(store.Path(), workspaceID)
	changed := false
	store.WithLock(func(threads Snapshot) {
		list, ok := threads[workspaceID]
		if !ok {
			return
		}
		kept := list[:0]
		for _, thread := range list {
			if !isPlaceholderThread(&thread, archivedIDs) {
				kept = append(kept, thread)
			}
		}
		if len(kept) != len(list) {
			changed = true
			sortThreadsByUpdatedAtDesc(kept)
			threads[workspaceID] = kept
		}
	})

	if !changed {
		return false, nil
	}
	return true, store.Persist()
}

func isPlaceholderThread(thread *Thread, archivedIDs map[string]struct{}) bool {
	hasAnyUserMessage := false
	hasRealUserMessage := false
	for _, turn := range thread.Turns {
		for _, item := range turn.Items {
			if item.Role != "user" {
				continue
			}
			hasAnyUserMessage = true
			if !stream.IsDiagnosticMessage(item.Text) {
				hasRealUserMessage = true
				break
			}
		}
		if hasRealUserMessage {
			break
		}
	}

	looksLikeImportPlaceholder := len(thread.Turns) == 0 &&
		thread.Name == nil &&
		strings.TrimSpace(thread.Preview) == thread.ID
	looksLikeDiagnosticBootstrap := hasAnyUserMessage && !hasRealUserMessage

	return looksLikeImportPlaceholder || looksLikeDiagnosticBootstrap || isArchivedThreadID(archivedIDs, thread.ID)
}
