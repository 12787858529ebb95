package bridge

import (
	"context"

	"github.com/cuemby/meshbroker/pkg/types"
)

// realtimeStore is the subset of *faststore.Store the bridge calls. Scoped
// narrowly so tests can substitute a fake without a live Redis.
type realtimeStore interface {
	RequestFileLock(ctx context.Context, workspaceID, filePath, agentID string, lockType types.LockType) (*types.Lock, error)
	ReleaseFileLock(ctx context.Context, workspaceID, filePath, lockID, agentID string) (bool, error)
	PublishFileEdit(ctx context.Context, agentID, workspaceID, sessionID, filePath string, edit types.FileEdit) error
	RegisterAgent(ctx context.Context, agent *types.Agent) error
	UpdateAgentStatus(ctx context.Context, agentID, workspaceID string, status types.AgentStatus, currentTask string) error
	PublishConsensusVote(ctx context.Context, agentID, workspaceID, sessionID, proposalID string, vote types.Vote) error
}

// durableLogStore is the subset of *durablestore.Store the bridge calls.
type durableLogStore interface {
	LogFileEdit(ctx context.Context, agentID, workspaceID, sessionID, filePath string, edit types.FileEdit) error
	LogAgentCoordination(ctx context.Context, agentID, workspaceID, sessionID string, coordination types.AgentCoordination) error
	LogConsensusDecision(ctx context.Context, agentID, workspaceID, sessionID string, decision types.ConsensusDecision) error
	SaveWorkspaceSnapshot(ctx context.Context, agentID, workspaceID, sessionID string, snapshot types.WorkspaceSnapshot) error
}

// fallbackLocker is the subset of *fallback.LockManager the bridge calls.
type fallbackLocker interface {
	RequestLock(workspaceID, filePath, agentID string, lockType types.LockType) (*types.Lock, error)
	ReleaseLock(workspaceID, filePath, agentID string) error
	Lookup(workspaceID, filePath string) *types.Lock
}
