/*
Package faststore is the real-time coordination orchestrator: agent
presence, the distributed read/write/exclusive lock protocol with its
waiters queue, and the five coordination streams (locks, edits, agents,
workspace, consensus), all against Redis.

Lock acquisition and release are the central algorithm, each run as a Lua
script: acquisition installs an exclusive/write holder (SET PX) only when the
key is absent, or adds the caller to a readers set (SADD), and release only
deletes the record if the caller still owns it. Every
successful release drains exactly one waiter and emits a lock_retry signal
rather than re-attempting acquisition itself — the caller decides whether
to retry.
*/
package faststore
