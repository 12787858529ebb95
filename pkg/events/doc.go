// Package events is the in-memory pub/sub bus the bridge uses to fan the
// public event surface of spec §6 out to external subscribers: a buffered
// publish channel feeds a single broadcast loop, which does a non-blocking
// send to each subscriber's own buffered channel, dropping on a full one
// rather than blocking the broker.
package events
