package faststore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/meshbroker/pkg/envelope"
	"github.com/cuemby/meshbroker/pkg/events"
	"github.com/cuemby/meshbroker/pkg/log"
	"github.com/cuemby/meshbroker/pkg/metrics"
	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Handler receives envelopes dispatched off a stream consumer loop. The
// bridge implements this to react to real-time coordination events.
type Handler interface {
	HandleEnvelope(ctx context.Context, env *envelope.Envelope)
}

// Store is the fast-store orchestrator: agent registry, the lock protocol,
// and the five coordination streams, all against Redis.
type Store struct {
	client *redis.Client
	cfg    Config
	broker *events.Broker
}

// NewStore wraps an existing *redis.Client (the caller owns dial options,
// TLS, etc.) with the coordination protocol.
func NewStore(cfg Config, client *redis.Client, broker *events.Broker) *Store {
	return &Store{client: client, cfg: cfg, broker: broker}
}

// Connect idempotently creates the consumer group on each of the five
// streams, ignoring the "already exists" case (BUSYGROUP).
func (s *Store) Connect(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping fast store: %w", err)
	}

	for _, name := range streamNames {
		stream := s.streamKey(name)
		err := s.client.XGroupCreateMkStream(ctx, stream, s.cfg.ConsumerGroup, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create consumer group on %s: %w", stream, err)
		}
	}
	return nil
}

// Disconnect closes the underlying client. Connect reuses that same client,
// so a Store cannot be reconnected after Disconnect.
func (s *Store) Disconnect() error {
	return s.client.Close()
}

// publish XADDs an envelope onto its stream, duplicating type/agent/
// correlation as headers for index-free filtering, per spec §4.A.
func (s *Store) publish(ctx context.Context, streamName string, env *envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	stream := s.streamKey(streamName)
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: s.cfg.MaxPendingMessages,
		Approx: true,
		Values: map[string]interface{}{
			"type":          string(env.Type),
			"agentId":       env.Source,
			"correlationId": env.Metadata.CorrelationID,
			"envelope":      data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	return nil
}

// --- Agent registry ---

type agentRecord struct {
	AgentID       string   `json:"agent_id"`
	Name          string   `json:"name"`
	Model         string   `json:"model"`
	Capabilities  []string `json:"capabilities"`
	WorkspaceID   string   `json:"workspace_id"`
	Status        string   `json:"status"`
	CurrentTask   string   `json:"current_task"`
	RegisteredAt  string   `json:"registered_at"`
	LastHeartbeat string   `json:"last_heartbeat"`
}

// RegisterAgent upserts the agent's presence hash and emits an agent_status
// envelope on the agents stream. Idempotent: registering twice leaves
// exactly one record reflecting the latest call.
func (s *Store) RegisterAgent(ctx context.Context, agent *types.Agent) error {
	now := time.Now()
	if agent.RegisteredAt.IsZero() {
		agent.RegisteredAt = now
	}
	agent.LastHeartbeat = now

	rec := agentRecord{
		AgentID:       agent.AgentID,
		Name:          agent.Name,
		Model:         agent.Model,
		Capabilities:  agent.Capabilities,
		WorkspaceID:   agent.WorkspaceID,
		Status:        string(agent.Status),
		CurrentTask:   agent.CurrentTask,
		RegisteredAt:  agent.RegisteredAt.Format(time.RFC3339Nano),
		LastHeartbeat: agent.LastHeartbeat.Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal agent record: %w", err)
	}

	if err := s.client.HSet(ctx, s.agentKey(agent.AgentID), "data", data).Err(); err != nil {
		return fmt.Errorf("register agent %s: %w", agent.AgentID, err)
	}

	env := envelope.New(envelope.TypeAgentStatus, agent.AgentID, map[string]any{
		"eventType": "registered",
		"status":    string(agent.Status),
	}, envelope.Metadata{AgentID: agent.AgentID, WorkspaceID: agent.WorkspaceID})

	return s.publish(ctx, "agents", env)
}

// UpdateAgentStatus updates the presence hash's status/current_task fields
// and emits an agent_status envelope.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID, workspaceID string, status types.AgentStatus, currentTask string) error {
	key := s.agentKey(agentID)
	raw, err := s.client.HGet(ctx, key, "data").Result()
	if err == redis.Nil {
		return fmt.Errorf("update status: agent %s not registered", agentID)
	}
	if err != nil {
		return fmt.Errorf("load agent %s: %w", agentID, err)
	}

	var rec agentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("decode agent %s: %w", agentID, err)
	}
	rec.Status = string(status)
	rec.CurrentTask = currentTask
	rec.LastHeartbeat = time.Now().Format(time.RFC3339Nano)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal agent record: %w", err)
	}
	if err := s.client.HSet(ctx, key, "data", data).Err(); err != nil {
		return fmt.Errorf("update agent %s: %w", agentID, err)
	}

	env := envelope.New(envelope.TypeAgentStatus, agentID, map[string]any{
		"eventType": "status_changed",
		"status":    string(status),
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID})

	return s.publish(ctx, "agents", env)
}

// --- Lock protocol ---

// RequestFileLock runs the central lock-acquisition algorithm of spec
// §4.B. A nil, nil result means the request conflicted and was enqueued.
func (s *Store) RequestFileLock(ctx context.Context, workspaceID, filePath, agentID string, lockType types.LockType) (*types.Lock, error) {
	lockKey := s.lockKey(workspaceID, filePath)
	readersKey := s.readersKey(workspaceID, filePath)
	ttlMs := s.cfg.LockTimeoutMs
	if ttlMs <= 0 {
		ttlMs = 30_000
	}

	var granted bool
	var err error

	if lockType == types.LockTypeRead {
		res, scriptErr := requestReadLockScript.Run(ctx, s.client, []string{lockKey, readersKey}, agentID, ttlMs).Int()
		err = scriptErr
		granted = res == 1
	} else {
		res, scriptErr := requestWriteLockScript.Run(ctx, s.client, []string{lockKey}, agentID, ttlMs).Int()
		err = scriptErr
		granted = res == 1
	}
	if err != nil {
		return nil, fmt.Errorf("request lock on %s/%s: %w", workspaceID, filePath, err)
	}

	if !granted {
		metrics.LockConflictsTotal.Inc()
		if err := s.enqueueWaiter(ctx, workspaceID, filePath, agentID, lockType); err != nil {
			return nil, err
		}
		return nil, nil
	}

	lock := &types.Lock{
		WorkspaceID: workspaceID,
		FilePath:    filePath,
		LockType:    lockType,
		Timestamp:   time.Now(),
		TTL:         time.Duration(ttlMs) * time.Millisecond,
	}
	if lockType == types.LockTypeRead {
		lock.HolderKind = types.HolderKindReaders
		lock.LockID = fmt.Sprintf("%s:%s:readers:%s", workspaceID, filePath, agentID)
		lock.Readers = map[string]struct{}{agentID: {}}
	} else {
		lock.HolderKind = types.HolderKindExclusive
		lock.AgentID = agentID
		lock.LockID = fmt.Sprintf("%s:%s:exclusive", workspaceID, filePath)
	}

	metrics.LocksAcquiredTotal.WithLabelValues(string(lockType)).Inc()

	env := envelope.New(envelope.TypeFileLock, agentID, map[string]any{
		"eventType": "lock_acquired",
		"lock_id":   lock.LockID,
		"lock_type": string(lockType),
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, FilePath: filePath, LockType: string(lockType)})

	if err := s.publish(ctx, "locks", env); err != nil {
		log.WithBackend("fast").Warn().Err(err).Msg("failed to publish lock_acquired")
	}

	return lock, nil
}

func (s *Store) enqueueWaiter(ctx context.Context, workspaceID, filePath, agentID string, lockType types.LockType) error {
	waiter := types.Waiter{AgentID: agentID, LockType: lockType, EnqueuedAt: time.Now()}
	data, err := json.Marshal(waiter)
	if err != nil {
		return fmt.Errorf("marshal waiter: %w", err)
	}
	if err := s.client.RPush(ctx, s.waitersKey(workspaceID, filePath), data).Err(); err != nil {
		return fmt.Errorf("enqueue waiter on %s/%s: %w", workspaceID, filePath, err)
	}
	return nil
}

// ReleaseFileLock releases a held lock on behalf of agentID. lockID decodes
// the kind (":readers:" suffix marks a reader slot, everything else is
// treated as an exclusive holder). On success exactly one waiter is
// drained and a lock_retry event published.
func (s *Store) ReleaseFileLock(ctx context.Context, workspaceID, filePath, lockID, agentID string) (bool, error) {
	lockKey := s.lockKey(workspaceID, filePath)
	readersKey := s.readersKey(workspaceID, filePath)

	var released bool
	var err error

	if strings.Contains(lockID, ":readers:") {
		res, scriptErr := releaseReadLockScript.Run(ctx, s.client, []string{lockKey, readersKey}, agentID).Int()
		err = scriptErr
		released = res == 1
	} else {
		res, scriptErr := releaseWriteLockScript.Run(ctx, s.client, []string{lockKey}, agentID).Int()
		err = scriptErr
		released = res == 1
	}
	if err != nil {
		return false, fmt.Errorf("release lock on %s/%s: %w", workspaceID, filePath, err)
	}
	if !released {
		return false, nil
	}

	metrics.LocksReleasedTotal.WithLabelValues(lockKindLabel(lockID)).Inc()

	env := envelope.New(envelope.TypeFileLock, agentID, map[string]any{
		"eventType": "lock_released",
		"lock_id":   lockID,
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, FilePath: filePath})
	if err := s.publish(ctx, "locks", env); err != nil {
		log.WithBackend("fast").Warn().Err(err).Msg("failed to publish lock_released")
	}

	s.drainOneWaiter(ctx, workspaceID, filePath)
	return true, nil
}

func lockKindLabel(lockID string) string {
	if strings.Contains(lockID, ":readers:") {
		return "read"
	}
	return "write"
}

// drainOneWaiter pops exactly one queued request and emits lock_retry,
// leaving the caller to decide whether to re-invoke RequestFileLock.
func (s *Store) drainOneWaiter(ctx context.Context, workspaceID, filePath string) {
	raw, err := s.client.LPop(ctx, s.waitersKey(workspaceID, filePath)).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		log.WithBackend("fast").Warn().Err(err).Msg("failed to drain waiters queue")
		return
	}

	var waiter types.Waiter
	if err := json.Unmarshal([]byte(raw), &waiter); err != nil {
		log.WithBackend("fast").Warn().Err(err).Msg("failed to decode waiter")
		return
	}

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:    events.EventLockRetry,
			Message: waiter.AgentID,
			Metadata: map[string]string{
				"workspace_id": workspaceID,
				"file_path":    filePath,
				"agent_id":     waiter.AgentID,
				"lock_type":    string(waiter.LockType),
			},
		})
	}
}

// --- Edits & consensus ---

// PublishFileEdit emits a file_edit envelope on the edits stream.
func (s *Store) PublishFileEdit(ctx context.Context, agentID, workspaceID, sessionID, filePath string, edit types.FileEdit) error {
	env := envelope.New(envelope.TypeFileEdit, agentID, map[string]any{
		"op":         string(edit.Op),
		"previous":   edit.Previous,
		"new":        edit.New,
		"patch":      edit.Patch,
		"start_line": edit.StartLine,
		"end_line":   edit.EndLine,
		"reason":     edit.Reason,
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, SessionID: sessionID, FilePath: filePath})

	return s.publish(ctx, "edits", env)
}

// PublishConsensusVote emits a consensus_vote envelope on the consensus
// stream, with correlation and round metadata derived from proposalID.
func (s *Store) PublishConsensusVote(ctx context.Context, agentID, workspaceID, sessionID, proposalID string, vote types.Vote) error {
	env := envelope.New(envelope.TypeConsensusVote, agentID, map[string]any{
		"proposal_id": proposalID,
		"choice":      string(vote.Choice),
		"reasoning":   vote.Reasoning,
	}, envelope.Metadata{
		AgentID:        agentID,
		WorkspaceID:    workspaceID,
		SessionID:      sessionID,
		CorrelationID:  envelope.CorrelationIDForProposal(proposalID),
		ConsensusRound: envelope.ConsensusRoundFromProposalID(proposalID),
	})

	return s.publish(ctx, "consensus", env)
}

// --- Heartbeat ---

// StartHeartbeat launches a ticker that refreshes this consumer's
// heartbeat key with a TTL of 3x the configured interval.
func (s *Store) StartHeartbeat(ctx context.Context) {
	interval := time.Duration(s.cfg.HeartbeatIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				expiry := interval * 3
				if err := s.client.Set(ctx, s.heartbeatKey(), time.Now().Format(time.RFC3339Nano), expiry).Err(); err != nil {
					log.WithBackend("fast").Warn().Err(err).Msg("heartbeat write failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
