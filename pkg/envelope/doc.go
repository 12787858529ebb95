// Package envelope implements the tagged-sum message shape described in
// the design notes: Type selects the variant, Payload carries the
// per-variant fields as an opaque map validated at the store boundary
// rather than one catch-all struct.
package envelope
