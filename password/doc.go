// Package password implements credential hashing for authgate.
//
// Argon2id in PHC string format is the primary scheme. Hashes produced by
// the pre-migration bcrypt deployment are still verifiable; NeedsRehash
// reports them (and any Argon2id hash with weaker-than-policy parameters)
// so the engine can write back an upgraded hash on successful login.
package password
