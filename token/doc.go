// Package token signs and verifies the short-lived access tokens issued by
// authgate. Tokens are Ed25519-signed JWTs; verification is entirely local
// (signature + expiry), never a store lookup.
package token
