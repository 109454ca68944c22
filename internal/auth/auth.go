// Package auth provides the connection handshake: verified identity
// tokens and, when enabled, self-declared development identities.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fnfo/chat/internal/config"
)

// Mode tags how an identity was established.
type Mode string

const (
	// ModeVerified means the identity came from a validated token.
	ModeVerified Mode = "verified"
	// ModeSelfDeclared means the client named itself without proof.
	// Only permitted outside production.
	ModeSelfDeclared Mode = "self-declared"
)

// Sentinel errors for handshake outcomes.
var (
	// ErrUnauthenticated is returned when the handshake carries neither
	// a valid token nor a permitted self-declared identity.
	ErrUnauthenticated = errors.New("authentication required (token or identityId+username)")
	// ErrInvalidToken is returned when a presented token fails verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrVerifierUnavailable is returned by a degraded verifier.
	ErrVerifierUnavailable = errors.New("identity verifier unavailable")
)

// Identity is an authenticated connection principal.
type Identity struct {
	// ID is the stable identity id used in rosters and membership records.
	ID string
	// Username is the display name. Empty for verified identities until
	// the profile resolver fills it in.
	Username string
	// Email is carried from verified token claims when present.
	Email string
	// Mode records how the identity was established.
	Mode Mode
}

// Claims are the token claims accepted from the identity service.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Verifier validates a credential into trusted claims.
type Verifier interface {
	// Verify validates the token. The context bounds any remote work.
	Verify(ctx context.Context, token string) (*Claims, error)
	// Degraded reports whether the verifier failed to initialise and
	// refuses all tokens.
	Degraded() bool
}

// JWTVerifier validates HS256 identity tokens.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	degraded bool
}

// NewJWTVerifier creates a verifier from configuration. A missing
// secret does not fail construction: the verifier starts degraded and
// refuses every token, leaving the self-declared path (if enabled) as
// the only way in.
//
// Precondition: logger must be non-nil.
func NewJWTVerifier(cfg config.AuthConfig, logger *zap.Logger) *JWTVerifier {
	if cfg.JWTSecret == "" {
		logger.Warn("no jwt secret configured, identity verifier degraded")
		return &JWTVerifier{degraded: true}
	}
	return &JWTVerifier{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.JWTIssuer,
	}
}

// Degraded reports whether token verification is unavailable.
func (v *JWTVerifier) Degraded() bool {
	return v.degraded
}

// Verify validates the token signature and registered claims.
//
// Postcondition: Returns claims with a non-empty Subject, or an error.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	if v.degraded {
		return nil, ErrVerifierUnavailable
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}

// Handshake is the authentication payload of a fresh connection.
type Handshake struct {
	Token      string `json:"token,omitempty"`
	IdentityID string `json:"identityId,omitempty"`
	Username   string `json:"username,omitempty"`
}

// Authenticator turns handshake payloads into identities.
type Authenticator struct {
	verifier          Verifier
	allowSelfDeclared bool
	logger            *zap.Logger
}

// NewAuthenticator creates an Authenticator.
//
// Precondition: verifier and logger must be non-nil.
func NewAuthenticator(verifier Verifier, allowSelfDeclared bool, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		verifier:          verifier,
		allowSelfDeclared: allowSelfDeclared,
		logger:            logger,
	}
}

// Authenticate validates the handshake. A presented token always takes
// the verified path; the self-declared paths exist only when enabled.
//
// Postcondition: Returns an Identity with a non-empty ID, or an error
// that rejects the connection.
func (a *Authenticator) Authenticate(ctx context.Context, hs Handshake) (Identity, error) {
	if hs.Token != "" {
		claims, err := a.verifier.Verify(ctx, hs.Token)
		if err != nil {
			a.logger.Warn("token verification failed", zap.Error(err))
			return Identity{}, err
		}
		return Identity{
			ID:    claims.Subject,
			Email: claims.Email,
			Mode:  ModeVerified,
		}, nil
	}

	if a.allowSelfDeclared {
		if hs.IdentityID != "" && hs.Username != "" {
			a.logger.Warn("self-declared identity accepted",
				zap.String("identity_id", hs.IdentityID),
			)
			return Identity{
				ID:       hs.IdentityID,
				Username: hs.Username,
				Mode:     ModeSelfDeclared,
			}, nil
		}
		// Legacy handshake: username only.
		if hs.Username != "" {
			a.logger.Warn("legacy self-declared identity accepted",
				zap.String("username", hs.Username),
			)
			return Identity{
				ID:       "dev_" + hs.Username,
				Username: hs.Username,
				Mode:     ModeSelfDeclared,
			}, nil
		}
	}

	return Identity{}, ErrUnauthenticated
}
