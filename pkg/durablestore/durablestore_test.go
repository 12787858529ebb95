package durablestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStoreConfig() Config {
	return Config{
		ClientID: "meshbroker-test",
		Brokers:  []string{"127.0.0.1:9092"},
		GroupID:  "meshbroker-bridge",
	}
}

func TestNewStoreDoesNotDial(t *testing.T) {
	// kgo.NewClient only builds the client; it must not block or error
	// just because the configured brokers are unreachable.
	store, err := NewStore(newTestStoreConfig())
	require.NoError(t, err)
	require.NotNil(t, store)
	store.Disconnect()
}

func TestSequenceNumberIsMonotonicPerInstance(t *testing.T) {
	store, err := NewStore(newTestStoreConfig())
	require.NoError(t, err)
	defer store.Disconnect()

	var last uint64
	for i := 0; i < 50; i++ {
		seq := store.nextSequence()
		assert.Greater(t, seq, last)
		last = seq
	}
}

func TestSequenceCounterIsIndependentAcrossInstances(t *testing.T) {
	a, err := NewStore(newTestStoreConfig())
	require.NoError(t, err)
	defer a.Disconnect()

	b, err := NewStore(newTestStoreConfig())
	require.NoError(t, err)
	defer b.Disconnect()

	assert.Equal(t, uint64(1), a.nextSequence())
	assert.Equal(t, uint64(1), b.nextSequence())
	assert.Equal(t, uint64(2), a.nextSequence())
}

func TestSaslMechanismBuildsForEachSupportedScheme(t *testing.T) {
	for _, mech := range []AuthMechanism{AuthPlain, AuthScram256, AuthScram512} {
		m, err := saslMechanism(Auth{Mechanism: mech, User: "u", Pass: "p"})
		require.NoError(t, err, mech)
		assert.NotNil(t, m)
	}
}

func TestSaslMechanismRejectsUnknownScheme(t *testing.T) {
	_, err := saslMechanism(Auth{Mechanism: "md5"})
	require.Error(t, err)
}

func TestConnectIsIdempotentFlagOnlyFlipsOnce(t *testing.T) {
	store, err := NewStore(newTestStoreConfig())
	require.NoError(t, err)
	defer store.Disconnect()

	store.connected.Store(true)
	require.NoError(t, store.Connect(context.Background()))
}

func TestTopicsListsAllNineFixedTopics(t *testing.T) {
	assert.Len(t, Topics, 9)
	assert.Contains(t, Topics, TopicEditHistory)
	assert.Contains(t, Topics, TopicDecisionLog)
	assert.Contains(t, Topics, TopicAuditTrail)
}
