/*
Package fallback provides the two degraded-mode paths the bridge falls back
to when a backing store is unreachable.

LockManager mirrors the fast store's read/write/exclusive lock semantics
against a plain in-memory map guarded by a single mutex: no TTLs, no
waiters queue, no migration back to the fast store once it recovers.

DurableFallback is the disk-backed counterpart for the durable store: when
the durable store is unreachable, JSON payloads (the bridge writes a small
map of the operation's key fields, not a full envelope) are appended to a
local bbolt database instead of being dropped, keyed by topic and sequence
number, for
later manual inspection or drain.
*/
package fallback
