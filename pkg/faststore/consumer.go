package faststore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/meshbroker/pkg/envelope"
	"github.com/cuemby/meshbroker/pkg/log"
	"github.com/redis/go-redis/v9"
)

// StartConsumers launches one poll loop per stream, each reading as part of
// the shared consumer group, dispatching successfully-decoded envelopes to
// handler, and acking only after dispatch returns. A decode failure is
// logged and still acked (spec §7 kind 3: the loop must survive, not
// retry forever on a poison message).
func (s *Store) StartConsumers(ctx context.Context, handler Handler) {
	for _, name := range streamNames {
		go s.consumeStream(ctx, name, handler)
	}
}

func (s *Store) consumeStream(ctx context.Context, name string, handler Handler) {
	stream := s.streamKey(name)
	logger := log.WithBackend("fast")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.cfg.ConsumerGroup,
			Consumer: s.cfg.ConsumerName,
			Streams:  []string{stream, ">"},
			Count:    10,
			Block:    500 * time.Millisecond,
		}).Result()

		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Str("stream", stream).Err(err).Msg("stream read failed")
			time.Sleep(200 * time.Millisecond)
			continue
		}

		for _, streamResult := range res {
			for _, msg := range streamResult.Messages {
				env, decodeErr := decodeEnvelope(msg)
				if decodeErr != nil {
					logger.Warn().Str("stream", stream).Str("id", msg.ID).Err(decodeErr).Msg("failed to decode stream entry")
				} else {
					handler.HandleEnvelope(ctx, env)
				}

				if ackErr := s.client.XAck(ctx, stream, s.cfg.ConsumerGroup, msg.ID).Err(); ackErr != nil {
					logger.Warn().Str("stream", stream).Str("id", msg.ID).Err(ackErr).Msg("failed to ack stream entry")
				}
			}
		}
	}
}

func decodeEnvelope(msg redis.XMessage) (*envelope.Envelope, error) {
	raw, ok := msg.Values["envelope"]
	if !ok {
		return nil, fmt.Errorf("message %s missing envelope field", msg.ID)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("message %s envelope field is not a string", msg.ID)
	}

	var env envelope.Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}
