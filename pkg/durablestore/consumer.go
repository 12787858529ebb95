package durablestore

import (
	"context"
	"encoding/json"

	"github.com/cuemby/meshbroker/pkg/envelope"
	"github.com/cuemby/meshbroker/pkg/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// StartConsumers runs the poll loop in its own goroutine until ctx is
// canceled. A record that fails to decode is logged and skipped; the
// record is still considered handled (no crash, no redelivery loop).
func (s *Store) StartConsumers(ctx context.Context, handler Handler) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			fetches := s.client.PollFetches(ctx)
			if ctx.Err() != nil {
				return
			}

			fetches.EachError(func(topic string, partition int32, err error) {
				log.WithBackend("durable").Warn().Str("topic", topic).Int32("partition", partition).Err(err).Msg("fetch error")
			})

			fetches.EachRecord(func(record *kgo.Record) {
				env, err := decodeRecord(record.Value)
				if err != nil {
					log.WithBackend("durable").Warn().Str("topic", record.Topic).Err(err).Msg("decode failed, skipping record")
					return
				}
				handler.HandleEnvelope(ctx, env)
			})

			if err := s.client.CommitUncommittedOffsets(ctx); err != nil {
				log.WithBackend("durable").Warn().Err(err).Msg("commit offsets failed")
			}
		}
	}()
}

func decodeRecord(value []byte) (*envelope.Envelope, error) {
	var env envelope.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
