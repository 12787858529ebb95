package bridge

import (
	"time"

	"github.com/google/uuid"
)

// OperationType names one of the bridge's public operations, used as the
// workspace_operation payload's discriminator and as a metrics label.
type OperationType string

const (
	OpRequestFileLock       OperationType = "request_file_lock"
	OpReleaseFileLock       OperationType = "release_file_lock"
	OpPublishFileEdit       OperationType = "publish_file_edit"
	OpRegisterAgent         OperationType = "register_agent"
	OpUpdateAgentStatus     OperationType = "update_agent_status"
	OpPublishConsensusVote  OperationType = "publish_consensus_vote"
	OpLogConsensusDecision  OperationType = "log_consensus_decision"
	OpSaveWorkspaceSnapshot OperationType = "save_workspace_snapshot"
)

// WorkspaceOperation is the internal record built for every bridge call,
// per spec §4.E, before routing and before the workspace_operation event
// is emitted.
type WorkspaceOperation struct {
	ID                  string
	Timestamp           time.Time
	Type                OperationType
	AgentID             string
	WorkspaceID         string
	Data                map[string]any
	RequiresPersistence bool
	RequiresRealtime    bool
}

func newOperation(t OperationType, agentID, workspaceID string, data map[string]any, realtime, persistence bool) *WorkspaceOperation {
	return &WorkspaceOperation{
		ID:                  uuid.NewString(),
		Timestamp:           time.Now(),
		Type:                t,
		AgentID:             agentID,
		WorkspaceID:         workspaceID,
		Data:                data,
		RequiresRealtime:    realtime,
		RequiresPersistence: persistence,
	}
}

func newSessionID() string {
	return uuid.NewString()
}
