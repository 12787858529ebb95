/*
Package health supervises connectivity to the two coordination backends (the
fast store and the durable store) and rolls their status up into one overall
signal the bridge can act on.

Supervisor tracks each backend through the connected -> disconnected ->
reconnecting -> (connected | failed) state machine: Connected and Disconnected
are called by the process that wires the stores (cmd/meshbroker's serve)
after a connect attempt succeeds or fails, and the supervisor takes it from
there, driving a
linear backoff reconnect loop (delay * attempt) with a per-backend guard so
only one reconnect loop ever runs at a time. The overall rollup is healthy
when both backends are connected, offline when neither is, degraded
otherwise.
*/
package health
