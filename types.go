package authgate

import "context"

// UserRecord is the read-only credential view the engine consumes from the
// external directory.
type UserRecord struct {
	ID           string
	Username     string
	PasswordHash string
	IsActive     bool
	RoleID       string
}

// UserDirectory is the engine's window onto the relational user store.
// Lookups return (nil, nil) when no such user exists; an error means the
// directory itself failed. The two write-backs are the only mutations the
// engine ever requests.
type UserDirectory interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	UpdateLastLogin(ctx context.Context, id string) error
	UpdatePasswordHash(ctx context.Context, id, newHash string) error
}

// UserSummary is the claim subset echoed back to the client with a token
// pair.
type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	RoleID   string `json:"role_id"`
}

// Session is the result of a successful login or refresh. RefreshToken is
// the raw single-use token; it is shown here exactly once and only its
// hash is stored.
type Session struct {
	AccessToken           string      `json:"access_token"`
	AccessTokenTTLSeconds int         `json:"access_token_ttl_seconds"`
	RefreshToken          string      `json:"refresh_token"`
	User                  UserSummary `json:"user"`
}
