// ABOUTME: Credential verification for authenticating live connections
// ABOUTME: HS256 JWT parsing plus account-status checks against the user store

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stayline/relay/internal/store"
)

// Authentication errors
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token expired")
	ErrMissingClaim     = errors.New("missing required claim")
	ErrUnknownUser      = errors.New("unknown user")
	ErrInactiveAccount  = errors.New("account is inactive")
	ErrSuspendedAccount = errors.New("account is suspended")
)

// Identity is the authenticated account snapshot attached to a connection.
// It is fetched fresh on every authentication attempt and never mutated.
type Identity struct {
	UserID     string     `json:"user_id"`
	Name       string     `json:"name"`
	Active     bool       `json:"active"`
	Suspended  bool       `json:"suspended"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// IdentitySource provides the account lookup behind verification
type IdentitySource interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// Verifier defines the interface for credential verification
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// JWTVerifier implements Verifier using HS256 signed JWTs. The "sub" claim
// carries the user ID; the account snapshot comes from the IdentitySource.
type JWTVerifier struct {
	secret []byte
	users  IdentitySource
}

// NewJWTVerifier creates a new JWT verifier with the given secret and user source
func NewJWTVerifier(secret []byte, users IdentitySource) *JWTVerifier {
	return &JWTVerifier{secret: secret, users: users}
}

// Verify validates the credential and returns the identity snapshot.
// A structurally valid token for an inactive or suspended account still
// fails: connection-level authentication requires a usable account.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	user, err := v.users.GetUser(ctx, sub)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, sub)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if user.Suspended {
		return nil, ErrSuspendedAccount
	}
	if !user.Active {
		return nil, ErrInactiveAccount
	}

	return &Identity{
		UserID:     user.ID,
		Name:       user.Name,
		Active:     user.Active,
		Suspended:  user.Suspended,
		VerifiedAt: user.VerifiedAt,
	}, nil
}

// Generate creates a new JWT credential for the given user ID with expiration.
// Token issuance belongs to the platform's auth service; this exists for the
// relay-server token subcommand and for tests.
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
