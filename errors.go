package authgate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers wrong username, wrong password, and
	// inactive account alike. The three are deliberately indistinguishable
	// to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLockedOut is returned while an account lockout is in force.
	ErrLockedOut = errors.New("account locked out")
	// ErrRateLimited is returned when the soft per-user or per-IP failure
	// budget for the current window is exhausted.
	ErrRateLimited = errors.New("login rate limited")
	// ErrInvalidSession is returned when a refresh token is unknown,
	// expired, or revoked. The caller must force a re-login.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionReplayed marks the reuse-detection case of
	// [ErrInvalidSession]: the token was already rotated and its whole
	// family has just been revoked. Callers should surface a security
	// notice in addition to the re-login.
	ErrSessionReplayed = fmt.Errorf("%w: refresh token reuse detected", ErrInvalidSession)
	// ErrTokenInvalid is returned by VerifyAccessToken for any
	// unverifiable access token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrStoreUnavailable is an infrastructure fault on the session or
	// rate-limit store, never an authentication outcome.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrDirectoryUnavailable is an infrastructure fault on the user
	// directory lookup.
	ErrDirectoryUnavailable = errors.New("user directory unavailable")
	// ErrSigningUnavailable is an infrastructure fault in token signing.
	ErrSigningUnavailable = errors.New("token signing unavailable")
	// ErrEngineNotReady is returned by Build when required dependencies
	// are missing.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// retryAfterError decorates a lockout or rate-limit sentinel with the
// remaining wait, staying transparent to errors.Is.
type retryAfterError struct {
	err        error
	retryAfter time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("%v: retry after %ds", e.err, int(e.retryAfter.Seconds()))
}

func (e *retryAfterError) Unwrap() error { return e.err }

func withRetryAfter(err error, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		return err
	}
	return &retryAfterError{err: err, retryAfter: retryAfter}
}

// RetryAfter extracts the wait carried by [ErrLockedOut] and
// [ErrRateLimited] results, for the transport layer's Retry-After header.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.retryAfter, true
	}
	return 0, false
}
