package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by [Issuer.Verify] for any token that fails
// verification: bad signature, wrong algorithm, malformed payload, or
// expiry. Callers must not distinguish further.
var ErrInvalidToken = errors.New("invalid access token")

// TypeAccess is the value of the "type" claim stamped into every token
// this package issues.
const TypeAccess = "access"

// Config holds the signing setup. Keys are parsed once in [NewIssuer] and
// cached for the process lifetime.
type Config struct {
	AccessTTL  time.Duration
	PrivateKey []byte // raw 64-byte seed+pub or PEM; optional on verify-only nodes
	PublicKey  []byte // raw 32-byte or PEM
	Issuer     string
	Leeway     time.Duration
}

// Claims is the access token claim set. Subject carries the user id.
type Claims struct {
	Username  string `json:"username,omitempty"`
	RoleID    string `json:"role_id,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies access tokens with a fixed Ed25519 keypair.
type Issuer struct {
	config    Config
	signKey   ed25519.PrivateKey
	verifyKey ed25519.PublicKey
}

// NewIssuer parses and caches the configured keypair. The public key is
// required; the private key may be omitted on nodes that only verify.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access TTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if len(cfg.PublicKey) == 0 {
		return nil, errors.New("ed25519 public key is required")
	}

	verifyKey, err := parseEdPublicKey(cfg.PublicKey)
	if err != nil {
		return nil, err
	}

	var signKey ed25519.PrivateKey
	if len(cfg.PrivateKey) > 0 {
		signKey, err = parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
	}

	return &Issuer{
		config:    cfg,
		signKey:   signKey,
		verifyKey: verifyKey,
	}, nil
}

// AccessTTL returns the configured default token lifetime.
func (i *Issuer) AccessTTL() time.Duration {
	return i.config.AccessTTL
}

// Issue builds and signs an access token for the given user. A ttl <= 0
// falls back to the configured default.
func (i *Issuer) Issue(userID, username, roleID string, ttl time.Duration) (string, error) {
	if i.signKey == nil {
		return "", errors.New("issuer has no private key")
	}
	if ttl <= 0 {
		ttl = i.config.AccessTTL
	}

	now := time.Now()
	claims := Claims{
		Username:  username,
		RoleID:    roleID,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    i.config.Issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(i.signKey)
}

// Verify checks the signature and expiry of tokenStr and returns its
// claims. Every failure mode collapses into [ErrInvalidToken].
func (i *Issuer) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != TypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrInvalidToken, claims.TokenType)
	}

	return claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
