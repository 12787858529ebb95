/*
Package types defines the coordination-broker data model shared by every
package in meshbroker: agent presence, lock records, the waiters queue,
consensus votes and decisions, coordination and conflict-resolution
records, workspace snapshots, and backend health state.

These are plain structs with no store-specific behavior — faststore,
durablestore, fallback, and bridge all operate on values of these types,
and pkg/envelope wraps them for transport. Nothing in this package talks
to Redis, Kafka, or bbolt.
*/
package types
