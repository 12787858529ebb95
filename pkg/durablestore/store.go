package durablestore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/cuemby/meshbroker/pkg/envelope"
	"github.com/cuemby/meshbroker/pkg/log"
	"github.com/cuemby/meshbroker/pkg/metrics"
	"github.com/cuemby/meshbroker/pkg/types"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// Handler receives envelopes the consumer loop successfully decoded off
// any of the nine topics.
type Handler interface {
	HandleEnvelope(ctx context.Context, env *envelope.Envelope)
}

// Store is the durable-store orchestrator: a franz-go client plus the
// per-instance sequence counter that stamps every produced envelope
// (ordering guarantee O1).
type Store struct {
	client    *kgo.Client
	cfg       Config
	sequence  atomic.Uint64
	connected atomic.Bool
}

// NewStore builds the kgo client options from cfg but does not dial; call
// Connect to establish the connection (idempotent, per spec §4.C).
func NewStore(cfg Config) (*Store, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(Topics...),
	}

	if cfg.SSL {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}

	if cfg.Auth != nil {
		mechanism, err := saslMechanism(*cfg.Auth)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mechanism))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("build kafka client: %w", err)
	}

	return &Store{client: client, cfg: cfg}, nil
}

func saslMechanism(auth Auth) (sasl.Mechanism, error) {
	switch auth.Mechanism {
	case AuthPlain:
		return plain.Auth{User: auth.User, Pass: auth.Pass}.AsMechanism(), nil
	case AuthScram256:
		return scram.Auth{User: auth.User, Pass: auth.Pass}.AsSha256Mechanism(), nil
	case AuthScram512:
		return scram.Auth{User: auth.User, Pass: auth.Pass}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism %q", auth.Mechanism)
	}
}

// Connect is idempotent: if already connected it returns immediately
// without a double subscribe.
func (s *Store) Connect(ctx context.Context) error {
	if s.connected.Load() {
		return nil
	}
	if err := s.client.Ping(ctx); err != nil {
		return fmt.Errorf("ping durable store: %w", err)
	}
	s.connected.Store(true)
	return nil
}

// Disconnect closes the client and clears the connected flag so a future
// Connect is not a no-op.
func (s *Store) Disconnect() {
	s.client.Close()
	s.connected.Store(false)
}

// nextSequence stamps the next monotonic sequence number for this producer
// instance (O1): strictly increasing across all topics, not per-topic.
func (s *Store) nextSequence() uint64 {
	return s.sequence.Add(1)
}

func (s *Store) produce(ctx context.Context, topic string, env *envelope.Envelope) error {
	env.Metadata.SequenceNumber = s.nextSequence()
	metrics.SequenceNumberGauge.WithLabelValues(topic).Set(float64(env.Metadata.SequenceNumber))

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", topic, err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(env.Metadata.WorkspaceID),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "messageType", Value: []byte(env.Type)},
			{Key: "agentId", Value: []byte(env.Source)},
			{Key: "correlationId", Value: []byte(env.Metadata.CorrelationID)},
		},
	}

	timer := metrics.NewTimer()
	results := s.client.ProduceSync(ctx, record)
	timer.ObserveDurationVec(metrics.DurableProduceDuration, topic)

	if err := results.FirstErr(); err != nil {
		log.WithBackend("durable").Warn().Str("topic", topic).Err(err).Msg("produce failed")
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// LogFileEdit appends an edit_history entry.
func (s *Store) LogFileEdit(ctx context.Context, agentID, workspaceID, sessionID, filePath string, edit types.FileEdit) error {
	env := envelope.New(envelope.TypeEditHistory, agentID, map[string]any{
		"op":         string(edit.Op),
		"previous":   edit.Previous,
		"new":        edit.New,
		"patch":      edit.Patch,
		"start_line": edit.StartLine,
		"end_line":   edit.EndLine,
		"reason":     edit.Reason,
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, SessionID: sessionID, FilePath: filePath})

	return s.produce(ctx, TopicEditHistory, env)
}

// SaveWorkspaceSnapshot appends an append-only snapshot artifact.
func (s *Store) SaveWorkspaceSnapshot(ctx context.Context, agentID, workspaceID, sessionID string, snapshot types.WorkspaceSnapshot) error {
	env := envelope.New(envelope.TypeWorkspaceSnapshot, agentID, map[string]any{
		"files":         snapshot.Files,
		"metadata":      snapshot.Metadata,
		"active_agents": snapshot.ActiveAgents,
		"consensus":     snapshot.Consensus,
		"reason":        snapshot.Reason,
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, SessionID: sessionID})

	return s.produce(ctx, TopicWorkspaceSnapshots, env)
}

// LogConsensusDecision appends a consensus_decisions entry, extracting the
// round from ProposalID (property P6), and flattens a copy into the
// decision log topic for dashboards that want a single append-only feed
// of terminal decisions without the full vote breakdown.
func (s *Store) LogConsensusDecision(ctx context.Context, agentID, workspaceID, sessionID string, decision types.ConsensusDecision) error {
	round := envelope.ConsensusRoundFromProposalID(decision.ProposalID)

	env := envelope.New(envelope.TypeConsensusDecision, agentID, map[string]any{
		"proposal_id":    decision.ProposalID,
		"description":    decision.Description,
		"votes":          decision.Votes,
		"final_decision": string(decision.FinalDecision),
		"method":         string(decision.Method),
	}, envelope.Metadata{
		AgentID:        agentID,
		WorkspaceID:    workspaceID,
		SessionID:      sessionID,
		ConsensusRound: round,
	})

	if err := s.produce(ctx, TopicConsensusDecisions, env); err != nil {
		return err
	}

	flat := envelope.New(envelope.TypeConsensusDecision, agentID, map[string]any{
		"proposal_id":    decision.ProposalID,
		"final_decision": string(decision.FinalDecision),
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, SessionID: sessionID, ConsensusRound: round})

	return s.produce(ctx, TopicDecisionLog, flat)
}

// LogAgentCoordination appends an agent_coordination entry. A delegation
// coordination requires a response from its target.
func (s *Store) LogAgentCoordination(ctx context.Context, agentID, workspaceID, sessionID string, coordination types.AgentCoordination) error {
	env := envelope.New(envelope.TypeAgentCoordination, agentID, map[string]any{
		"type":              string(coordination.Type),
		"target":            coordination.Target,
		"task":              coordination.Task,
		"dependencies":      coordination.Dependencies,
		"expected_duration": coordination.ExpectedDuration.String(),
		"priority":          string(coordination.Priority),
	}, envelope.Metadata{
		AgentID:          agentID,
		WorkspaceID:      workspaceID,
		SessionID:        sessionID,
		RequiresResponse: coordination.Type == types.CoordinationDelegation,
	})

	return s.produce(ctx, TopicAgentCoordination, env)
}

// LogConflictResolution appends a conflict_resolution entry, correlated by
// the conflict id so every event about one conflict can be grouped.
func (s *Store) LogConflictResolution(ctx context.Context, agentID, workspaceID, sessionID string, resolution types.ConflictResolution) error {
	env := envelope.New(envelope.TypeConflictResolution, agentID, map[string]any{
		"conflict_id":     resolution.ConflictID,
		"type":            resolution.Type,
		"involved_agents": resolution.InvolvedAgents,
		"details":         resolution.Details,
		"method":          resolution.Method,
		"resolution":      resolution.Resolution,
		"outcome":         resolution.Outcome,
	}, envelope.Metadata{
		AgentID:       agentID,
		WorkspaceID:   workspaceID,
		SessionID:     sessionID,
		CorrelationID: resolution.ConflictID,
	})

	return s.produce(ctx, TopicConflictResolution, env)
}

// StartSession / EndSession log session lifecycle as workspace_snapshot
// envelopes discriminated by payload["eventType"], per spec §4.A.
func (s *Store) StartSession(ctx context.Context, agentID, workspaceID, sessionID string) error {
	env := envelope.New(envelope.TypeWorkspaceSnapshot, agentID, map[string]any{
		"eventType": string(envelope.SessionStarted),
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, SessionID: sessionID})

	return s.produce(ctx, TopicSessionManagement, env)
}

func (s *Store) EndSession(ctx context.Context, agentID, workspaceID, sessionID string) error {
	env := envelope.New(envelope.TypeWorkspaceSnapshot, agentID, map[string]any{
		"eventType": string(envelope.SessionEnded),
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID, SessionID: sessionID})

	return s.produce(ctx, TopicSessionManagement, env)
}

// LogWorkspaceLifecycle appends a generic workspace-level lifecycle entry
// (e.g. workspace created/archived) distinct from per-agent sessions.
func (s *Store) LogWorkspaceLifecycle(ctx context.Context, agentID, workspaceID, reason string) error {
	env := envelope.New(envelope.TypeWorkspaceSnapshot, agentID, map[string]any{
		"eventType": "workspace_lifecycle",
		"reason":    reason,
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID})

	return s.produce(ctx, TopicWorkspaceLifecycle, env)
}

// LogAuditEvent appends a flattened copy of any bridge-level
// WorkspaceOperation to the catch-all audit trail topic, independent of
// the operation's own domain-specific topic.
func (s *Store) LogAuditEvent(ctx context.Context, agentID, workspaceID, operationType string, data map[string]any) error {
	env := envelope.New(envelope.TypeWorkspaceSnapshot, agentID, map[string]any{
		"eventType":     "audit",
		"operationType": operationType,
		"data":          data,
	}, envelope.Metadata{AgentID: agentID, WorkspaceID: workspaceID})

	return s.produce(ctx, TopicAuditTrail, env)
}
