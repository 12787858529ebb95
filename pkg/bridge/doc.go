/*
Package bridge is the single public entry point unifying the fast store,
the durable store, the in-process fallback, and the health supervisor
behind one API. Every call builds an internal WorkspaceOperation, routes
it across the real-time and durable paths per the routing matrix, and
emits workspace_operation through pkg/events (a call that returns an
error emits none), plus redis_error/kafka_error when one path fails. The
other public events come from the supervisor, the fast store and
EnvelopeHandler; initialized and shutdown are defined in pkg/events but
nothing publishes them. A failure on one path never fails the other; a
failure on both is logged, not raised, unless the call must return a
value.
*/
package bridge
