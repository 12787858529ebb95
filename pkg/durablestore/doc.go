/*
Package durablestore is the append-only audit orchestrator against a Kafka
cluster (github.com/twmb/franz-go/pkg/kgo): edit history, consensus
decisions, agent coordination, conflict resolution, workspace snapshots,
and session lifecycle, each on its own fixed topic.

Every produced record carries a strictly increasing per-producer
sequence_number (an atomic.Uint64 stamped into the envelope metadata
before every produce) and is keyed by workspace_id so a single partition
preserves per-workspace ordering. The consumer subscribes across every
topic and never blocks the loop on a malformed record: a parse failure is
logged and the record is still committed.
*/
package durablestore
