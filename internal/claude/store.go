package claude

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const archivedThreadsFileName = "claude_archived_threads.json"

// Store holds the in-memory thread mapping and its persistence location.
// All mutation happens under the store's lock; snapshot writes happen after
// the lock is released.
type Store struct {
	path string

	mu      sync.Mutex
	threads Snapshot
}

// OpenStore loads the snapshot at path. A missing file is an empty mapping.
func OpenStore(path string) (*Store, error) {
	snapshot, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, threads: snapshot}, nil
}

func readSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return nil, fmt.Errorf("read thread snapshot: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse thread snapshot: %w", err)
	}
	if snapshot == nil {
		snapshot = Snapshot{}
	}
	return snapshot, nil
}

func writeSnapshot(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write thread snapshot: %w", err)
	}
	return nil
}

// WithLock runs fn with exclusive access to the thread mapping. fn must not
// perform filesystem I/O.
func (s *Store) WithLock(fn func(threads Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.threads)
}

// Persist serializes the mapping under the lock and writes it outside.
func (s *Store) Persist() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.threads, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode thread snapshot: %w", err)
	}
	return writeSnapshot(s.path, data)
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// archivedThreadsPath is the archive tombstone file next to the snapshot.
func archivedThreadsPath(threadsPath string) string {
	return filepath.Join(filepath.Dir(threadsPath), archivedThreadsFileName)
}

// archivedIDVariants returns the id forms under which a thread is archived:
// the raw UUID and the claude-thread- prefixed form, whichever way the input
// is written.
func archivedIDVariants(threadID string) []string {
	trimmed := strings.TrimSpace(threadID)
	if trimmed == "" {
		return nil
	}
	if suffix, ok := strings.CutPrefix(trimmed, legacyThreadIDPrefix); ok {
		return []string{trimmed, suffix}
	}
	return []string{trimmed, legacyThreadIDPrefix + trimmed}
}

func isArchivedThreadID(archived map[string]struct{}, threadID string) bool {
	for _, id := range archivedIDVariants(threadID) {
		if _, ok := archived[id]; ok {
			return true
		}
	}
	return false
}

func readArchivedSnapshot(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("read archived threads: %w", err)
	}
	var snapshot map[string][]string
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse archived threads: %w", err)
	}
	if snapshot == nil {
		snapshot = map[string][]string{}
	}
	return snapshot, nil
}

// readArchivedThreadIDs returns the tombstone set for a workspace. Read
// errors degrade to an empty set; archival is best-effort on the read side.
func readArchivedThreadIDs(threadsPath, workspaceID string) map[string]struct{} {
	snapshot, err := readArchivedSnapshot(archivedThreadsPath(threadsPath))
	if err != nil {
		return map[string]struct{}{}
	}
	ids := make(map[string]struct{}, len(snapshot[workspaceID]))
	for _, id := range snapshot[workspaceID] {
		ids[id] = struct{}{}
	}
	return ids
}

// persistArchivedThreadID merges both id variants into the workspace's
// tombstone set and rewrites the archive file, ids sorted ascending.
func persistArchivedThreadID(threadsPath, workspaceID, threadID string) error {
	path := archivedThreadsPath(threadsPath)
	snapshot, err := readArchivedSnapshot(path)
	if err != nil {
		return err
	}

	merged := make(map[string]struct{})
	for _, id := range snapshot[workspaceID] {
		merged[id] = struct{}{}
	}
	for _, id := range archivedIDVariants(threadID) {
		merged[id] = struct{}{}
	}
	values := make([]string, 0, len(merged))
	for id := range merged {
		values = append(values, id)
	}
	sort.Strings(values)
	snapshot[workspaceID] = values

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archived threads: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write archived threads: %w", err)
	}
	return nil
}
