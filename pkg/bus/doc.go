// Package bus implements the session message bus: an append-only log per
// session that clients write with POST /command and poll with GET /updates.
// Message ids are assigned under a per-session lock from a counter seeded
// from the store, so concurrent producers never collide or skip an id. The
// Relay turns terminal job events into job_result messages for tasks that
// name a session.
package bus
