package authgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cobaltlabs/authgate/password"
	"github.com/cobaltlabs/authgate/rate"
	"github.com/cobaltlabs/authgate/session"
	"github.com/cobaltlabs/authgate/token"
)

// Engine ties the credential, token, session, and rate-limit components
// into the three authentication flows. Construct one with [Builder.Build];
// an Engine is safe for concurrent use and holds no per-request state.
type Engine struct {
	config    Config
	directory UserDirectory
	hasher    *password.Hasher
	issuer    *token.Issuer
	sessions  *session.Store
	guard     *rate.Guard
	audit     *auditDispatcher
	metrics   *Metrics
	logger    *slog.Logger
	dummyHash string
}

// Login verifies a username/password pair and opens a new session.
//
// Checks run in a fixed order: lockout first, then the soft failure
// budget, then the credential itself. A locked or rate-limited account is
// refused before the password is ever compared, so those responses leak
// nothing about the password. Every credential failure returns
// [ErrInvalidCredentials] regardless of whether the user exists, is
// inactive, or typed the wrong password.
func (e *Engine) Login(ctx context.Context, username, plaintext, ip string) (*Session, error) {
	locked, err := e.guard.IsLockedOut(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if locked {
		ttl, ttlErr := e.guard.LockoutTTL(ctx, username)
		if ttlErr != nil {
			ttl = 0
		}
		e.metrics.Inc(MetricLoginLockedOut)
		e.emitLogin(ctx, EventLoginLockedOut, "", username, ip, ErrLockedOut)
		return nil, withRetryAfter(ErrLockedOut, ttl)
	}

	limited, err := e.guard.IsRateLimited(ctx, username, ip)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if limited {
		// A throttled attempt still counts toward lockout escalation:
		// hammering a rate-limited account must eventually trip the hard
		// lockout instead of probing forever at the window rate.
		lockedNow, recErr := e.guard.RecordFailure(ctx, username, ip)
		if recErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, recErr)
		}
		if lockedNow {
			e.metrics.Inc(MetricLockoutTriggered)
			e.logger.Warn("account locked out after sustained login failures",
				"username", username, "ip", ip)
			e.emitLogin(ctx, EventLoginLockedOut, "", username, ip, ErrLockedOut)
		}
		ttl, ttlErr := e.guard.WindowTTL(ctx, username, ip)
		if ttlErr != nil {
			ttl = 0
		}
		e.metrics.Inc(MetricLoginRateLimited)
		e.emitLogin(ctx, EventLoginRateLimited, "", username, ip, ErrRateLimited)
		return nil, withRetryAfter(ErrRateLimited, ttl)
	}

	user, err := e.directory.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if user == nil || !user.IsActive {
		// Burn the same Argon2id work as a real comparison so a missing or
		// disabled account answers in the same time as a wrong password.
		_, _ = e.hasher.Verify(plaintext, e.dummyHash)
		return nil, e.failLogin(ctx, username, ip)
	}

	ok, err := e.hasher.Verify(plaintext, user.PasswordHash)
	if err != nil {
		e.logger.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, e.failLogin(ctx, username, ip)
	}
	if !ok {
		return nil, e.failLogin(ctx, username, ip)
	}

	if err := e.guard.ClearFailures(ctx, username, ip); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.maybeUpgradeHash(ctx, user, plaintext)

	if err := e.directory.UpdateLastLogin(ctx, user.ID); err != nil {
		e.logger.Warn("last-login update failed", "user_id", user.ID, "error", err)
	}

	sess, err := e.issueSession(ctx, user, "")
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitLogin(ctx, EventLoginSuccess, user.ID, username, ip, nil)
	e.logger.Info("login succeeded", "user_id", user.ID, "username", username)

	return sess, nil
}

// Refresh rotates a refresh token: the presented token is invalidated and
// a fresh token pair in the same family is returned. A token seen twice is
// treated as theft evidence; the whole family is revoked and the caller
// gets [ErrSessionReplayed].
func (e *Engine) Refresh(ctx context.Context, rawToken string) (*Session, error) {
	rec, err := e.sessions.Consume(ctx, rawToken)
	if err != nil {
		var reuse *session.ReuseError
		switch {
		case errors.As(err, &reuse):
			e.metrics.Inc(MetricReuseDetected)
			e.metrics.Inc(MetricFamilyRevoked)
			e.logger.Warn("refresh token reuse detected, session family revoked",
				"family_id", reuse.FamilyID)
			event := newAuditEvent(EventRefreshReplay, false)
			event.FamilyID = reuse.FamilyID
			event.Error = ErrSessionReplayed.Error()
			e.audit.Emit(ctx, event)
			revoked := newAuditEvent(EventFamilyRevoked, true)
			revoked.FamilyID = reuse.FamilyID
			e.audit.Emit(ctx, revoked)
			return nil, ErrSessionReplayed

		case errors.Is(err, session.ErrNotFound):
			e.metrics.Inc(MetricRefreshInvalid)
			event := newAuditEvent(EventRefreshInvalid, false)
			event.Error = ErrInvalidSession.Error()
			e.audit.Emit(ctx, event)
			return nil, ErrInvalidSession

		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	user, err := e.directory.FindByID(ctx, rec.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if user == nil || !user.IsActive {
		// The account vanished or was disabled mid-session; nothing in this
		// family may rotate again.
		if err := e.sessions.RevokeFamily(ctx, rec.FamilyID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metrics.Inc(MetricRefreshInvalid)
		e.metrics.Inc(MetricFamilyRevoked)
		e.logger.Warn("refresh for inactive account, family revoked",
			"user_id", rec.UserID, "family_id", rec.FamilyID)
		event := newAuditEvent(EventFamilyRevoked, true)
		event.UserID = rec.UserID
		event.FamilyID = rec.FamilyID
		e.audit.Emit(ctx, event)
		return nil, ErrInvalidSession
	}

	sess, err := e.issueSession(ctx, user, rec.FamilyID)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	event := newAuditEvent(EventRefreshSuccess, true)
	event.UserID = user.ID
	event.Username = user.Username
	event.FamilyID = rec.FamilyID
	e.audit.Emit(ctx, event)

	return sess, nil
}

// Logout revokes the presented refresh token. The operation is idempotent:
// revoking an unknown or already-revoked token succeeds quietly. Any
// previously issued access token stays valid until it expires on its own.
func (e *Engine) Logout(ctx context.Context, rawToken string) error {
	if err := e.sessions.RevokeToken(ctx, rawToken); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricLogout)
	e.audit.Emit(ctx, newAuditEvent(EventLogout, true))

	return nil
}

// VerifyAccessToken checks an access token's signature and claims locally,
// with no Redis or directory round trip. Any failure maps to
// [ErrTokenInvalid].
func (e *Engine) VerifyAccessToken(tokenString string) (*token.Claims, error) {
	claims, err := e.issuer.Verify(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return claims, nil
}

// RevokeUserSessions revokes one whole session family, for administrative
// teardown of a known-compromised session.
func (e *Engine) RevokeUserSessions(ctx context.Context, familyID string) error {
	if err := e.sessions.RevokeFamily(ctx, familyID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metrics.Inc(MetricFamilyRevoked)
	event := newAuditEvent(EventFamilyRevoked, true)
	event.FamilyID = familyID
	e.audit.Emit(ctx, event)
	return nil
}

// FailureCount reports the account's failed attempts in the current
// window.
func (e *Engine) FailureCount(ctx context.Context, username string) (int, error) {
	count, err := e.guard.FailureCount(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Ping checks Redis reachability and reports round-trip latency.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	return e.sessions.Ping(ctx)
}

// Close drains the audit pipeline. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.audit.Close()
}

// failLogin records the failed attempt on both axes and returns the
// uniform credential error. The attempt that crosses the lockout threshold
// still reports [ErrInvalidCredentials]; the lockout is observed by the
// next attempt.
func (e *Engine) failLogin(ctx context.Context, username, ip string) error {
	lockedNow, err := e.guard.RecordFailure(ctx, username, ip)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.metrics.Inc(MetricLoginFailure)
	e.emitLogin(ctx, EventLoginFailure, "", username, ip, ErrInvalidCredentials)

	if lockedNow {
		e.metrics.Inc(MetricLockoutTriggered)
		e.logger.Warn("account locked out after sustained login failures",
			"username", username, "ip", ip)
		e.emitLogin(ctx, EventLoginLockedOut, "", username, ip, ErrLockedOut)
	}

	return ErrInvalidCredentials
}

// maybeUpgradeHash rewrites the stored hash when it is below current
// policy. The login already succeeded; a failed write-back is logged and
// retried naturally on the next login.
func (e *Engine) maybeUpgradeHash(ctx context.Context, user *UserRecord, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil {
		e.logger.Warn("stored hash unparseable for rehash check", "user_id", user.ID, "error", err)
		return
	}
	if !needs {
		return
	}

	newHash, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := e.directory.UpdatePasswordHash(ctx, user.ID, newHash); err != nil {
		e.logger.Warn("password rehash write-back failed", "user_id", user.ID, "error", err)
		return
	}

	e.metrics.Inc(MetricPasswordRehash)
	e.logger.Info("password hash upgraded", "user_id", user.ID)
}

func (e *Engine) issueSession(ctx context.Context, user *UserRecord, familyID string) (*Session, error) {
	access, err := e.issuer.Issue(user.ID, user.Username, user.RoleID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}

	raw, _, err := e.sessions.Issue(ctx, user.ID, user.Username, familyID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &Session{
		AccessToken:           access,
		AccessTokenTTLSeconds: int(e.issuer.AccessTTL().Seconds()),
		RefreshToken:          raw,
		User: UserSummary{
			ID:       user.ID,
			Username: user.Username,
			RoleID:   user.RoleID,
		},
	}, nil
}

func (e *Engine) emitLogin(ctx context.Context, eventType, userID, username, ip string, cause error) {
	event := newAuditEvent(eventType, cause == nil)
	event.UserID = userID
	event.Username = username
	event.IP = ip
	if cause != nil {
		event.Error = cause.Error()
	}
	e.audit.Emit(ctx, event)
}
