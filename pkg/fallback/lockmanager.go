package fallback

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/meshbroker/pkg/types"
)

type lockKey struct {
	workspaceID string
	filePath    string
}

// LockManager is the in-process fallback described in spec §4.D: it is
// reached only while the fast store is down, implements the same
// reader-sharing / writer-exclusion rules against an in-memory map keyed by
// (workspace_id, file_path), and never migrates locks back once the fast
// store recovers.
type LockManager struct {
	mu    sync.Mutex
	locks map[lockKey]*types.Lock
}

// NewLockManager creates an empty fallback lock table.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[lockKey]*types.Lock)}
}

// RequestLock attempts to acquire a lock of the given kind. A nil result
// with a nil error means the request was denied (writer blocked, or
// exclusive blocked by any existing record) — matching the fast store's
// "return null" convention rather than returning an error.
func (m *LockManager) RequestLock(workspaceID, filePath, agentID string, lockType types.LockType) (*types.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{workspaceID, filePath}
	existing := m.locks[key]

	if lockType == types.LockTypeRead {
		if existing != nil && existing.HolderKind == types.HolderKindExclusive {
			return nil, nil
		}
		if existing == nil {
			existing = &types.Lock{
				LockID:      fmt.Sprintf("%s:%s:readers", workspaceID, filePath),
				WorkspaceID: workspaceID,
				FilePath:    filePath,
				HolderKind:  types.HolderKindReaders,
				Readers:     make(map[string]struct{}),
				LockType:    types.LockTypeRead,
				Timestamp:   time.Now(),
			}
			m.locks[key] = existing
		}
		existing.Readers[agentID] = struct{}{}
		readerLock := *existing
		readerLock.LockID = fmt.Sprintf("%s:readers:%s", existing.LockID, agentID)
		return &readerLock, nil
	}

	// write / exclusive: any existing record (reader or writer) blocks.
	if existing != nil {
		return nil, nil
	}

	lock := &types.Lock{
		LockID:      fmt.Sprintf("%s:%s:exclusive", workspaceID, filePath),
		WorkspaceID: workspaceID,
		FilePath:    filePath,
		HolderKind:  types.HolderKindExclusive,
		AgentID:     agentID,
		LockType:    lockType,
		Timestamp:   time.Now(),
	}
	m.locks[key] = lock
	copied := *lock
	return &copied, nil
}

// ReleaseLock releases a previously granted lock. For readers, the agent is
// removed from the readers set and the record is freed only once it is
// empty. For an exclusive holder, the caller's agent_id must match the
// recorded owner; otherwise the record is left intact and an error is
// returned (ownership violation).
func (m *LockManager) ReleaseLock(workspaceID, filePath, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{workspaceID, filePath}
	existing := m.locks[key]
	if existing == nil {
		return nil
	}

	switch existing.HolderKind {
	case types.HolderKindReaders:
		delete(existing.Readers, agentID)
		if len(existing.Readers) == 0 {
			delete(m.locks, key)
		}
	case types.HolderKindExclusive:
		if existing.AgentID != agentID {
			return fmt.Errorf("fallback release denied: %s does not hold exclusive lock on %s/%s", agentID, workspaceID, filePath)
		}
		delete(m.locks, key)
	}
	return nil
}

// Lookup returns the current fallback lock record for (workspaceID,
// filePath), or nil if none is held.
func (m *LockManager) Lookup(workspaceID, filePath string) *types.Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.locks[lockKey{workspaceID, filePath}]
	if existing == nil {
		return nil
	}
	copied := *existing
	return &copied
}

// Count returns the number of distinct (workspace_id, file_path) keys
// currently holding a fallback lock, used by tests and diagnostics.
func (m *LockManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
