// Package conversation stores per-subject conversation logs.
//
// A conversation is an append-only sequence of turns owned by one subject.
// Store implementations must preserve insertion order and must never rewrite
// or drop a turn once AppendTurn has returned nil. Three backends exist:
// Firestore (production, one document per conversation with the turns in an
// array appended through ArrayUnion), SQLite (single-node deployments) and an
// in-memory store for tests and local development.
package conversation
