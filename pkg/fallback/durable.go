package fallback

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"
)

var bucketAudit = []byte("audit")

// Entry is one appended record in the durable fallback: a payload that
// could not reach the durable store, preserved for later drain.
type Entry struct {
	Topic          string
	SequenceNumber uint64
	Payload        []byte
}

// DurableFallback is the disk-backed counterpart of spec §4.D's in-memory
// lock fallback, for the durable-store side: adapted from the teacher's
// BoltStore (same bolt.Open/Update/View transaction shape), but collapsed
// to a single append-only "audit" bucket keyed by <topic>\x00<sequence>
// instead of one bucket per entity kind.
type DurableFallback struct {
	db  *bolt.DB
	seq atomic.Uint64
}

// NewDurableFallback opens (creating if absent) the bbolt database used to
// buffer envelopes while the durable store is unreachable.
func NewDurableFallback(dataDir string) (*DurableFallback, error) {
	dbPath := filepath.Join(dataDir, "fallback.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open fallback database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAudit)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit bucket: %w", err)
	}

	return &DurableFallback{db: db}, nil
}

// Close closes the underlying database.
func (f *DurableFallback) Close() error {
	return f.db.Close()
}

// Append buffers one envelope's payload under the given topic, stamping its
// own monotonic sequence number (independent of the live durable-store
// producer's counter — this is a local buffer, not a replica of the topic).
func (f *DurableFallback) Append(topic string, payload []byte) (uint64, error) {
	seq := f.seq.Add(1)
	key := auditKey(topic, seq)

	err := f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		return b.Put(key, payload)
	})
	if err != nil {
		return 0, fmt.Errorf("append fallback entry: %w", err)
	}
	return seq, nil
}

// Drain returns every buffered entry in key order (topic, then sequence)
// and is the only operator-triggered path back out of the fallback buffer;
// the bridge never calls it automatically on durable-store reconnect.
func (f *DurableFallback) Drain() ([]Entry, error) {
	var entries []Entry
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			topic, seq, err := parseAuditKey(k)
			if err != nil {
				return err
			}
			payload := make([]byte, len(v))
			copy(payload, v)
			entries = append(entries, Entry{Topic: topic, SequenceNumber: seq, Payload: payload})
		}
		return nil
	})
	return entries, err
}

// DrainAndClear behaves like Drain but removes the returned entries from
// the database, for operators who confirm they have replayed them.
func (f *DurableFallback) DrainAndClear() ([]Entry, error) {
	entries, err := f.Drain()
	if err != nil {
		return nil, err
	}

	err = f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		for _, e := range entries {
			if err := b.Delete(auditKey(e.Topic, e.SequenceNumber)); err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

// Count returns the number of buffered entries awaiting drain.
func (f *DurableFallback) Count() (int, error) {
	n := 0
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		return b.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func auditKey(topic string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s\x00%020d", topic, seq))
}

func parseAuditKey(key []byte) (string, uint64, error) {
	s := string(key)
	idx := strings.LastIndexByte(s, '\x00')
	if idx < 0 {
		return "", 0, fmt.Errorf("parse audit key %q: missing separator", key)
	}
	seq, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parse audit key %q: %w", key, err)
	}
	return s[:idx], seq, nil
}

// MarshalPayload is a small convenience used by callers (the bridge) that
// hold a generic map payload rather than a typed struct.
func MarshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}
