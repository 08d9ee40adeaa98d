// Package authgate is the authentication and session-security core:
// credential verification, Ed25519-signed access tokens, rotating
// single-use refresh sessions with reuse detection, and dual-axis
// (per-account, per-IP) login rate limiting with account lockout.
//
// The engine composes four Redis-backed components behind three flows:
//
//	eng, err := authgate.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithDirectory(dir).
//		Build()
//
//	sess, err := eng.Login(ctx, username, password, clientIP)
//	sess, err = eng.Refresh(ctx, sess.RefreshToken)
//	err = eng.Logout(ctx, sess.RefreshToken)
//
// User, role, and permission records are external: the engine reads them
// through the [UserDirectory] interface and never caches session state in
// process memory. Every piece of shared mutable state lives in Redis and
// is manipulated with atomic server-side scripts, so any number of engine
// instances can run against the same store.
package authgate
