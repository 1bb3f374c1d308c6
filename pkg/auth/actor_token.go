// Package auth verifies the actor tokens minted by the upstream identity
// layer. The engine never logs anyone in; it only checks who is calling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

// clockSkew tolerates small drift between the identity layer and the engine.
const clockSkew = 30 * time.Second

var (
	errNoSecret = errors.New("auth secret is not configured")
	errNoActor  = errors.New("token carries no actor id")
)

// Claims is the body of an actor token.
type Claims struct {
	ActorID uuid.UUID       `json:"actor_id"`
	Role    enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the identity the claims vouch for.
func (c *Claims) Actor() types.Actor {
	return types.Actor{ID: c.ActorID.String(), Role: c.Role}
}

func (c *Claims) check() error {
	if c.ActorID == uuid.Nil {
		return errNoActor
	}
	// system is reserved for engine-initiated work and is never granted to callers.
	if !c.Role.IsValid() || c.Role == enums.ActorRoleSystem {
		return fmt.Errorf("role %q cannot call the engine", c.Role)
	}
	return nil
}

// Verifier checks HS256 actor tokens against the configured secret and issuer.
type Verifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewVerifier(cfg config.AuthConfig) *Verifier {
	return &Verifier{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL(),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// Verify parses raw and returns its claims when the signature, issuer,
// expiry and identity all hold.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, errNoSecret
	}
	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, err
	}
	if err := claims.check(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Mint signs a token for actorID. Used by operator tooling and tests.
func (v *Verifier) Mint(now time.Time, actorID uuid.UUID, role enums.ActorRole) (string, error) {
	if len(v.secret) == 0 {
		return "", errNoSecret
	}
	if v.issuer == "" {
		return "", errors.New("auth issuer is not configured")
	}
	if v.ttl <= 0 {
		return "", errors.New("auth token ttl must be positive")
	}
	claims := Claims{
		ActorID: actorID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   actorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			ID:        uuid.NewString(),
		},
	}
	if err := claims.check(); err != nil {
		return "", err
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign actor token: %w", err)
	}
	return signed, nil
}
