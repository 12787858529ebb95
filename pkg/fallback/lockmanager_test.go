package fallback

import (
	"testing"

	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackReaderSharing(t *testing.T) {
	m := NewLockManager()

	l1, err := m.RequestLock("ws1", "a.go", "agent-1", types.LockTypeRead)
	require.NoError(t, err)
	require.NotNil(t, l1)
	assert.Equal(t, types.HolderKindReaders, l1.HolderKind)

	l2, err := m.RequestLock("ws1", "a.go", "agent-2", types.LockTypeRead)
	require.NoError(t, err)
	require.NotNil(t, l2)

	held := m.Lookup("ws1", "a.go")
	require.NotNil(t, held)
	assert.Len(t, held.Readers, 2)
}

func TestFallbackWriterExclusion(t *testing.T) {
	m := NewLockManager()

	_, err := m.RequestLock("ws1", "a.go", "agent-1", types.LockTypeRead)
	require.NoError(t, err)

	denied, err := m.RequestLock("ws1", "a.go", "agent-2", types.LockTypeWrite)
	require.NoError(t, err)
	assert.Nil(t, denied, "write request must be blocked by an existing reader record")
}

func TestFallbackExclusiveBlocksEverything(t *testing.T) {
	m := NewLockManager()

	l1, err := m.RequestLock("ws1", "a.go", "agent-1", types.LockTypeExclusive)
	require.NoError(t, err)
	require.NotNil(t, l1)

	deniedRead, err := m.RequestLock("ws1", "a.go", "agent-2", types.LockTypeRead)
	require.NoError(t, err)
	assert.Nil(t, deniedRead)

	deniedWrite, err := m.RequestLock("ws1", "a.go", "agent-2", types.LockTypeWrite)
	require.NoError(t, err)
	assert.Nil(t, deniedWrite)
}

func TestFallbackReleaseFreesOnlyWhenEmpty(t *testing.T) {
	m := NewLockManager()

	_, err := m.RequestLock("ws1", "a.go", "agent-1", types.LockTypeRead)
	require.NoError(t, err)
	_, err = m.RequestLock("ws1", "a.go", "agent-2", types.LockTypeRead)
	require.NoError(t, err)

	require.NoError(t, m.ReleaseLock("ws1", "a.go", "agent-1"))
	assert.NotNil(t, m.Lookup("ws1", "a.go"), "lock should remain while agent-2 still holds a read")

	require.NoError(t, m.ReleaseLock("ws1", "a.go", "agent-2"))
	assert.Nil(t, m.Lookup("ws1", "a.go"))
}

func TestFallbackReleaseDeniedWithoutOwnership(t *testing.T) {
	m := NewLockManager()

	_, err := m.RequestLock("ws1", "a.go", "agent-1", types.LockTypeExclusive)
	require.NoError(t, err)

	err = m.ReleaseLock("ws1", "a.go", "agent-2")
	assert.Error(t, err)
	assert.NotNil(t, m.Lookup("ws1", "a.go"), "lock must survive an ownership-mismatched release")
}

func TestFallbackReleaseOfAbsentLockIsNoop(t *testing.T) {
	m := NewLockManager()
	assert.NoError(t, m.ReleaseLock("ws1", "missing.go", "agent-1"))
}

func TestFallbackCount(t *testing.T) {
	m := NewLockManager()
	_, _ = m.RequestLock("ws1", "a.go", "agent-1", types.LockTypeExclusive)
	_, _ = m.RequestLock("ws1", "b.go", "agent-1", types.LockTypeRead)
	assert.Equal(t, 2, m.Count())
}
