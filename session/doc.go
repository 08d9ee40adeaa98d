// Package session manages the rotating refresh-token records behind
// authgate's sessions.
//
// A record lives in Redis under the SHA-256 of the raw token; the raw
// token itself is handed to the client exactly once and never stored.
// Consuming a record deletes it and leaves a short-lived tombstone under
// the same hash in one atomic Lua step, which is what turns a replayed
// token from "not found" into a detectable reuse. All tokens descending
// from one login share a family id and are revoked as a unit.
package session
