package bridge

import (
	"context"
	"fmt"

	"github.com/cuemby/meshbroker/pkg/durablestore"
	"github.com/cuemby/meshbroker/pkg/events"
	"github.com/cuemby/meshbroker/pkg/fallback"
	"github.com/cuemby/meshbroker/pkg/health"
	"github.com/cuemby/meshbroker/pkg/log"
	"github.com/cuemby/meshbroker/pkg/metrics"
	"github.com/cuemby/meshbroker/pkg/types"
)

// Bridge is the single public entry point of spec §4.E: it owns the
// fast-store, durable-store, fallback, and supervisor, and routes every
// call across them per the routing matrix. Callers never talk to the
// orchestrators directly.
type Bridge struct {
	fast     realtimeStore
	durable  durableLogStore
	fallback fallbackLocker
	buffer   *fallback.DurableFallback // nil when fallback_mode != file
	sup      *health.Supervisor
	broker   *events.Broker
}

// New wires the four subsystems behind one API. buffer may be nil (memory
// fallback mode: durable-store failures while down are simply dropped
// rather than disk-buffered). fast and durable are the concrete
// *faststore.Store / *durablestore.Store in production; tests may
// substitute narrower fakes.
func New(fast realtimeStore, durable durableLogStore, fb fallbackLocker, buffer *fallback.DurableFallback, sup *health.Supervisor, broker *events.Broker) *Bridge {
	return &Bridge{fast: fast, durable: durable, fallback: fb, buffer: buffer, sup: sup, broker: broker}
}

func (b *Bridge) fastUp() bool {
	return b.sup.Status(types.BackendFast).Connected
}

func (b *Bridge) durableUp() bool {
	return b.sup.Status(types.BackendDurable).Connected
}

func (b *Bridge) emit(op *WorkspaceOperation) {
	metrics.BridgeOperationsTotal.WithLabelValues(string(op.Type), "routed").Inc()
	b.broker.Publish(&events.Event{
		Type:    events.EventWorkspaceOperation,
		Message: string(op.Type),
		Metadata: map[string]string{
			"operation_id": op.ID,
			"agent_id":     op.AgentID,
			"workspace_id": op.WorkspaceID,
		},
	})
}

func (b *Bridge) logDurableFailure(backend string, err error) {
	logger := log.WithBackend(backend)
	logger.Warn().Err(err).Msg("durable path failed, real-time result unaffected")
	evtType := events.EventKafkaError
	b.broker.Publish(&events.Event{Type: evtType, Message: err.Error()})
}

func (b *Bridge) bufferOrDrop(topic string, payload map[string]any) {
	if b.buffer == nil {
		log.WithBackend("durable").Warn().Str("topic", topic).Msg("durable store down, no disk buffer configured, dropping")
		return
	}
	data, err := fallback.MarshalPayload(payload)
	if err != nil {
		log.WithBackend("durable").Warn().Err(err).Msg("failed to marshal buffered payload")
		return
	}
	if _, err := b.buffer.Append(topic, data); err != nil {
		log.WithBackend("durable").Warn().Err(err).Msg("failed to append to disk fallback buffer")
	}
}

func holds(lock *types.Lock, agentID string) bool {
	if lock.Readers == nil {
		return false
	}
	_, ok := lock.Readers[agentID]
	return ok
}

func ensureSessionID(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return newSessionID()
}

// RequestFileLock routes to the fast-store lock protocol when it is
// healthy, otherwise to the in-process fallback manager. On a granted
// lock it best-effort logs an edit_history entry; a durable-path failure
// never turns a granted lock into a nil return.
func (b *Bridge) RequestFileLock(ctx context.Context, agentID, workspaceID, filePath string, lockType types.LockType) (*types.Lock, error) {
	var lock *types.Lock
	var err error

	if b.fastUp() {
		lock, err = b.fast.RequestFileLock(ctx, workspaceID, filePath, agentID, lockType)
	} else {
		lock, err = b.fallback.RequestLock(workspaceID, filePath, agentID, lockType)
	}
	if err != nil {
		return nil, fmt.Errorf("request file lock: %w", err)
	}

	if lock != nil {
		if b.durableUp() {
			reason := fmt.Sprintf("Lock acquired: %s", lockType)
			edit := types.FileEdit{Op: types.FileEditUpdate, Reason: reason}
			if derr := b.durable.LogFileEdit(ctx, agentID, workspaceID, ensureSessionID(""), filePath, edit); derr != nil {
				b.logDurableFailure("durable", derr)
			}
		} else {
			b.bufferOrDrop(durablestore.TopicEditHistory, map[string]any{
				"agent_id": agentID, "workspace_id": workspaceID, "file_path": filePath,
				"reason": fmt.Sprintf("Lock acquired: %s", lockType),
			})
		}
	}

	b.emit(newOperation(OpRequestFileLock, agentID, workspaceID, map[string]any{
		"file_path": filePath, "lock_type": string(lockType), "granted": lock != nil,
	}, true, lock != nil))

	return lock, nil
}

// ReleaseFileLock mirrors RequestFileLock's routing: fast store when
// healthy, fallback manager otherwise.
func (b *Bridge) ReleaseFileLock(ctx context.Context, agentID, workspaceID, filePath, lockID string) (bool, error) {
	var released bool

	if b.fastUp() {
		var err error
		released, err = b.fast.ReleaseFileLock(ctx, workspaceID, filePath, lockID, agentID)
		if err != nil {
			return false, fmt.Errorf("release file lock: %w", err)
		}
	} else {
		// The fallback manager never errors on a no-op (absent lock or a
		// reader that was never in the set); derive "was anything actually
		// released" by comparing membership before and after instead of
		// trusting a nil error alone.
		before := b.fallback.Lookup(workspaceID, filePath)
		wasHolder := before != nil && (before.AgentID == agentID || holds(before, agentID))
		err := b.fallback.ReleaseLock(workspaceID, filePath, agentID)
		released = wasHolder && err == nil
	}

	if released {
		if b.durableUp() {
			edit := types.FileEdit{Op: types.FileEditUpdate, Reason: "Lock released"}
			if derr := b.durable.LogFileEdit(ctx, agentID, workspaceID, ensureSessionID(""), filePath, edit); derr != nil {
				b.logDurableFailure("durable", derr)
			}
		} else {
			b.bufferOrDrop(durablestore.TopicEditHistory, map[string]any{
				"agent_id": agentID, "workspace_id": workspaceID, "file_path": filePath, "reason": "Lock released",
			})
		}
	}

	b.emit(newOperation(OpReleaseFileLock, agentID, workspaceID, map[string]any{
		"file_path": filePath, "lock_id": lockID, "released": released,
	}, true, released))

	return released, nil
}

// PublishFileEdit publishes to the fast-store edits stream when healthy
// and always logs to edit_history, independent of the fast-store result
// (durable-only best-effort when the fast store is down, per the routing
// matrix).
func (b *Bridge) PublishFileEdit(ctx context.Context, agentID, workspaceID, sessionID, filePath string, edit types.FileEdit) error {
	sessionID = ensureSessionID(sessionID)

	if b.fastUp() {
		if err := b.fast.PublishFileEdit(ctx, agentID, workspaceID, sessionID, filePath, edit); err != nil {
			log.WithBackend("fast").Warn().Err(err).Msg("publish_file_edit real-time path failed")
			b.broker.Publish(&events.Event{Type: events.EventRedisError, Message: err.Error()})
		}
	}

	if b.durableUp() {
		if err := b.durable.LogFileEdit(ctx, agentID, workspaceID, sessionID, filePath, edit); err != nil {
			b.logDurableFailure("durable", err)
		}
	} else {
		b.bufferOrDrop(durablestore.TopicEditHistory, map[string]any{
			"agent_id": agentID, "workspace_id": workspaceID, "session_id": sessionID, "file_path": filePath,
		})
	}

	b.emit(newOperation(OpPublishFileEdit, agentID, workspaceID, map[string]any{"file_path": filePath}, true, true))
	return nil
}

// RegisterAgent registers presence on the fast store when healthy and
// always logs a synchronization coordination entry, durable-only when the
// fast store is down.
func (b *Bridge) RegisterAgent(ctx context.Context, agent *types.Agent) error {
	if b.fastUp() {
		if err := b.fast.RegisterAgent(ctx, agent); err != nil {
			log.WithBackend("fast").Warn().Err(err).Msg("register_agent real-time path failed")
			b.broker.Publish(&events.Event{Type: events.EventRedisError, Message: err.Error()})
		}
	}

	coordination := types.AgentCoordination{
		Type: types.CoordinationSync,
		Task: "agent_registration",
	}
	if b.durableUp() {
		if err := b.durable.LogAgentCoordination(ctx, agent.AgentID, agent.WorkspaceID, ensureSessionID(""), coordination); err != nil {
			b.logDurableFailure("durable", err)
		}
	} else {
		b.bufferOrDrop(durablestore.TopicAgentCoordination, map[string]any{
			"agent_id": agent.AgentID, "workspace_id": agent.WorkspaceID, "task": "agent_registration",
		})
	}

	b.emit(newOperation(OpRegisterAgent, agent.AgentID, agent.WorkspaceID, map[string]any{"name": agent.Name}, true, true))
	return nil
}

// UpdateAgentStatus is fast-store only; per the routing matrix it is not
// persisted and is dropped silently when the fast store is down.
func (b *Bridge) UpdateAgentStatus(ctx context.Context, agentID, workspaceID string, status types.AgentStatus, currentTask string) error {
	if !b.fastUp() {
		log.WithAgent(agentID).Debug().Msg("update_agent_status dropped: fast store unavailable")
		b.emit(newOperation(OpUpdateAgentStatus, agentID, workspaceID, map[string]any{"status": string(status), "dropped": true}, true, false))
		return nil
	}

	if err := b.fast.UpdateAgentStatus(ctx, agentID, workspaceID, status, currentTask); err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}

	b.emit(newOperation(OpUpdateAgentStatus, agentID, workspaceID, map[string]any{"status": string(status)}, true, false))
	return nil
}

// PublishConsensusVote is fast-store only; dropped silently when the fast
// store is down.
func (b *Bridge) PublishConsensusVote(ctx context.Context, agentID, workspaceID, sessionID, proposalID string, vote types.Vote) error {
	if !b.fastUp() {
		log.WithAgent(agentID).Debug().Msg("publish_consensus_vote dropped: fast store unavailable")
		b.emit(newOperation(OpPublishConsensusVote, agentID, workspaceID, map[string]any{"proposal_id": proposalID, "dropped": true}, true, false))
		return nil
	}

	sessionID = ensureSessionID(sessionID)
	if err := b.fast.PublishConsensusVote(ctx, agentID, workspaceID, sessionID, proposalID, vote); err != nil {
		return fmt.Errorf("publish consensus vote: %w", err)
	}

	b.emit(newOperation(OpPublishConsensusVote, agentID, workspaceID, map[string]any{"proposal_id": proposalID}, true, false))
	return nil
}

// LogConsensusDecision is durable-store only; buffered to disk (or dropped
// in memory mode) when the durable store is down.
func (b *Bridge) LogConsensusDecision(ctx context.Context, agentID, workspaceID, sessionID string, decision types.ConsensusDecision) error {
	sessionID = ensureSessionID(sessionID)

	if b.durableUp() {
		if err := b.durable.LogConsensusDecision(ctx, agentID, workspaceID, sessionID, decision); err != nil {
			b.logDurableFailure("durable", err)
		}
	} else {
		b.bufferOrDrop(durablestore.TopicConsensusDecisions, map[string]any{
			"agent_id": agentID, "workspace_id": workspaceID, "proposal_id": decision.ProposalID,
			"final_decision": string(decision.FinalDecision),
		})
	}

	b.emit(newOperation(OpLogConsensusDecision, agentID, workspaceID, map[string]any{"proposal_id": decision.ProposalID}, false, true))
	return nil
}

// SaveWorkspaceSnapshot is durable-store only; explicitly dropped (not
// buffered) when the durable store is down, per the routing matrix.
func (b *Bridge) SaveWorkspaceSnapshot(ctx context.Context, agentID, workspaceID, sessionID string, snapshot types.WorkspaceSnapshot) error {
	sessionID = ensureSessionID(sessionID)

	if !b.durableUp() {
		log.WithWorkspace(workspaceID).Warn().Msg("save_workspace_snapshot dropped: durable store unavailable")
		b.emit(newOperation(OpSaveWorkspaceSnapshot, agentID, workspaceID, map[string]any{"dropped": true}, false, false))
		return nil
	}

	if err := b.durable.SaveWorkspaceSnapshot(ctx, agentID, workspaceID, sessionID, snapshot); err != nil {
		b.logDurableFailure("durable", err)
	}

	b.emit(newOperation(OpSaveWorkspaceSnapshot, agentID, workspaceID, map[string]any{"reason": snapshot.Reason}, false, true))
	return nil
}
