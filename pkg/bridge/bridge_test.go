package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/meshbroker/pkg/events"
	"github.com/cuemby/meshbroker/pkg/fallback"
	"github.com/cuemby/meshbroker/pkg/health"
	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRealtime and fakeDurable let tests drive the routing matrix without a
// live Redis or Kafka broker.

type fakeRealtime struct {
	lock        *types.Lock
	lockErr     error
	released    bool
	releaseErr  error
	editErr     error
	registerErr error
	statusErr   error
	voteErr     error

	editCalls     int
	registerCalls int
	statusCalls   int
	voteCalls     int
}

func (f *fakeRealtime) RequestFileLock(ctx context.Context, workspaceID, filePath, agentID string, lockType types.LockType) (*types.Lock, error) {
	return f.lock, f.lockErr
}
func (f *fakeRealtime) ReleaseFileLock(ctx context.Context, workspaceID, filePath, lockID, agentID string) (bool, error) {
	return f.released, f.releaseErr
}
func (f *fakeRealtime) PublishFileEdit(ctx context.Context, agentID, workspaceID, sessionID, filePath string, edit types.FileEdit) error {
	f.editCalls++
	return f.editErr
}
func (f *fakeRealtime) RegisterAgent(ctx context.Context, agent *types.Agent) error {
	f.registerCalls++
	return f.registerErr
}
func (f *fakeRealtime) UpdateAgentStatus(ctx context.Context, agentID, workspaceID string, status types.AgentStatus, currentTask string) error {
	f.statusCalls++
	return f.statusErr
}
func (f *fakeRealtime) PublishConsensusVote(ctx context.Context, agentID, workspaceID, sessionID, proposalID string, vote types.Vote) error {
	f.voteCalls++
	return f.voteErr
}

type fakeDurable struct {
	editErr       error
	coordErr      error
	decisionErr   error
	snapshotErr   error
	editCalls     int
	coordCalls    int
	decisionCalls int
	snapshotCalls int
}

func (f *fakeDurable) LogFileEdit(ctx context.Context, agentID, workspaceID, sessionID, filePath string, edit types.FileEdit) error {
	f.editCalls++
	return f.editErr
}
func (f *fakeDurable) LogAgentCoordination(ctx context.Context, agentID, workspaceID, sessionID string, coordination types.AgentCoordination) error {
	f.coordCalls++
	return f.coordErr
}
func (f *fakeDurable) LogConsensusDecision(ctx context.Context, agentID, workspaceID, sessionID string, decision types.ConsensusDecision) error {
	f.decisionCalls++
	return f.decisionErr
}
func (f *fakeDurable) SaveWorkspaceSnapshot(ctx context.Context, agentID, workspaceID, sessionID string, snapshot types.WorkspaceSnapshot) error {
	f.snapshotCalls++
	return f.snapshotErr
}

func newTestBridge(t *testing.T, fast realtimeStore, durable durableLogStore, fastUp, durableUp bool) (*Bridge, *events.Broker) {
	t.Helper()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	sup := health.NewSupervisor(health.Config{}, broker)
	if fastUp {
		sup.Connected(types.BackendFast)
	}
	if durableUp {
		sup.Connected(types.BackendDurable)
	}

	fb := fallback.NewLockManager()
	return New(fast, durable, fb, nil, sup, broker), broker
}

func TestRequestFileLockGrantedStillReturnsLockWhenDurableFails(t *testing.T) {
	fast := &fakeRealtime{lock: &types.Lock{LockID: "ws1:/f:exclusive", HolderKind: types.HolderKindExclusive}}
	durable := &fakeDurable{editErr: errors.New("kafka down")}
	b, _ := newTestBridge(t, fast, durable, true, true)

	lock, err := b.RequestFileLock(context.Background(), "agentA", "ws1", "/f", types.LockTypeExclusive)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, 1, durable.editCalls)
}

func TestRequestFileLockFallsBackWhenFastStoreDown(t *testing.T) {
	fast := &fakeRealtime{}
	durable := &fakeDurable{}
	b, _ := newTestBridge(t, fast, durable, false, true)

	lock, err := b.RequestFileLock(context.Background(), "agentA", "ws1", "/f", types.LockTypeExclusive)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, types.HolderKindExclusive, lock.HolderKind)

	denied, err := b.RequestFileLock(context.Background(), "agentB", "ws1", "/f", types.LockTypeExclusive)
	require.NoError(t, err)
	assert.Nil(t, denied)
}

func TestPublishFileEditIsDurableOnlyWhenFastStoreDown(t *testing.T) {
	fast := &fakeRealtime{}
	durable := &fakeDurable{}
	b, _ := newTestBridge(t, fast, durable, false, true)

	err := b.PublishFileEdit(context.Background(), "agentA", "ws1", "", "/f", types.FileEdit{Op: types.FileEditUpdate})
	require.NoError(t, err)
	assert.Equal(t, 0, fast.editCalls)
	assert.Equal(t, 1, durable.editCalls)
}

func TestPublishFileEditDurableFailureDoesNotFailCall(t *testing.T) {
	fast := &fakeRealtime{}
	durable := &fakeDurable{editErr: errors.New("kafka unreachable")}
	b, broker := newTestBridge(t, fast, durable, true, true)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	err := b.PublishFileEdit(context.Background(), "agentA", "ws1", "", "/f", types.FileEdit{Op: types.FileEditCreate})
	require.NoError(t, err)
	assert.Equal(t, 1, fast.editCalls)
	assert.Equal(t, 1, durable.editCalls)
}

func TestUpdateAgentStatusDroppedSilentlyWhenFastStoreDown(t *testing.T) {
	fast := &fakeRealtime{}
	durable := &fakeDurable{}
	b, _ := newTestBridge(t, fast, durable, false, true)

	err := b.UpdateAgentStatus(context.Background(), "agentA", "ws1", types.AgentStatusBusy, "editing")
	require.NoError(t, err)
	assert.Equal(t, 0, fast.statusCalls)
}

func TestSaveWorkspaceSnapshotDroppedWhenDurableDown(t *testing.T) {
	fast := &fakeRealtime{}
	durable := &fakeDurable{}
	b, _ := newTestBridge(t, fast, durable, true, false)

	err := b.SaveWorkspaceSnapshot(context.Background(), "agentA", "ws1", "", types.WorkspaceSnapshot{Reason: "checkpoint"})
	require.NoError(t, err)
	assert.Equal(t, 0, durable.snapshotCalls)
}

func TestLogConsensusDecisionBuffersToDiskWhenDurableDownWithDiskFallback(t *testing.T) {
	dir := t.TempDir()
	buf, err := fallback.NewDurableFallback(dir)
	require.NoError(t, err)
	defer buf.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sup := health.NewSupervisor(health.Config{}, broker)
	sup.Connected(types.BackendFast)

	fast := &fakeRealtime{}
	durable := &fakeDurable{}
	b := New(fast, durable, fallback.NewLockManager(), buf, sup, broker)

	decision := types.ConsensusDecision{ProposalID: "proposal_round_2", FinalDecision: types.FinalDecisionApproved}
	require.NoError(t, b.LogConsensusDecision(context.Background(), "agentA", "ws1", "", decision))

	count, err := buf.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, durable.decisionCalls)
}

func TestRegisterAgentDurableOnlyWhenFastDown(t *testing.T) {
	fast := &fakeRealtime{}
	durable := &fakeDurable{}
	b, _ := newTestBridge(t, fast, durable, false, true)

	agent := &types.Agent{AgentID: "agentA", WorkspaceID: "ws1"}
	require.NoError(t, b.RegisterAgent(context.Background(), agent))
	assert.Equal(t, 0, fast.registerCalls)
	assert.Equal(t, 1, durable.coordCalls)
}
