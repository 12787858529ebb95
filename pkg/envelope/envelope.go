// Package envelope defines the uniform message shape carried on both the
// fast store and the durable store, and the closed taxonomy of envelope
// types each store accepts.
package envelope

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/google/uuid"
)

// Type is the closed set of envelope kinds, partitioned by which backend
// carries them.
type Type string

const (
	// Fast-store types.
	TypeFileLock       Type = "file_lock"
	TypeFileEdit       Type = "file_edit"
	TypeAgentStatus    Type = "agent_status"
	TypeWorkspaceEvent Type = "workspace_event"
	TypeConsensusVote  Type = "consensus_vote"

	// Durable-store types.
	TypeEditHistory        Type = "edit_history"
	TypeWorkspaceSnapshot  Type = "workspace_snapshot"
	TypeConsensusDecision  Type = "consensus_decision"
	TypeAgentCoordination  Type = "agent_coordination"
	TypeConflictResolution Type = "conflict_resolution"
)

// IsFastStoreType reports whether t is one of the five real-time types.
func IsFastStoreType(t Type) bool {
	switch t {
	case TypeFileLock, TypeFileEdit, TypeAgentStatus, TypeWorkspaceEvent, TypeConsensusVote:
		return true
	default:
		return false
	}
}

// IsDurableStoreType reports whether t is one of the durable-store topics.
func IsDurableStoreType(t Type) bool {
	switch t {
	case TypeEditHistory, TypeWorkspaceSnapshot, TypeConsensusDecision, TypeAgentCoordination, TypeConflictResolution:
		return true
	default:
		return false
	}
}

// SessionEventType is the payload["eventType"] discriminator carried on a
// workspace_snapshot envelope used for session lifecycle, per spec §4.A.
type SessionEventType string

const (
	SessionStarted SessionEventType = "session_started"
	SessionEnded   SessionEventType = "session_ended"
)

// Metadata carries the fields every envelope's metadata block requires.
type Metadata struct {
	AgentID          string
	WorkspaceID      string
	SessionID        string
	FilePath         string
	LockType         string
	CorrelationID    string
	SequenceNumber   uint64
	RetryCount       int
	RequiresResponse bool
	ConsensusRound   int
}

// Envelope is the uniform message structure published to either store.
type Envelope struct {
	ID        string
	Timestamp time.Time
	Type      Type
	Source    string // agent_id of the producer
	Target    string
	Priority  types.Priority
	Payload   map[string]any
	Metadata  Metadata
}

// New builds a fresh envelope with a locally-unique id and timestamp. The
// caller supplies the sequence number (durable-store orchestrator) or
// leaves it zero (fast-store envelopes do not carry a meaningful sequence).
func New(t Type, source string, payload map[string]any, meta Metadata) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      t,
		Source:    source,
		Priority:  types.PriorityMedium,
		Payload:   payload,
		Metadata:  meta,
	}
}

// CorrelationIDForProposal builds the correlation id that groups every vote
// envelope cast on the same consensus proposal, per spec §4.A.
func CorrelationIDForProposal(proposalID string) string {
	return fmt.Sprintf("consensus_%s", proposalID)
}

var roundPattern = regexp.MustCompile(`round_(\d+)`)

// ConsensusRoundFromProposalID extracts the round number from a proposal id
// matching ".*round_(\d+).*", defaulting to 1 when it does not match
// (spec §4.C, property P6).
func ConsensusRoundFromProposalID(proposalID string) int {
	m := roundPattern.FindStringSubmatch(proposalID)
	if m == nil {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1
	}
	return n
}
