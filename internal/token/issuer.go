package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conduit-client/internal/clock"
	"conduit-client/internal/domain"
)

// ErrInvalidToken is returned by Verify for tokens that fail signature or
// claim validation.
var ErrInvalidToken = errors.New("invalid token")

// Issuer signs HS256 tokens in the layout Codec reads. The stub API uses it,
// and so do tests that need a well-formed token.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewIssuer(secret []byte, ttl time.Duration, c clock.Clock) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl, clock: clock.OrSystem(c)}
}

// Issue signs a token for user valid for the issuer's TTL.
func (i *Issuer) Issue(user domain.User) (string, error) {
	now := i.clock.Now()
	return i.sign(user, now, now.Add(i.ttl))
}

// IssueExpiring signs a token for user with an explicit expiry.
func (i *Issuer) IssueExpiring(user domain.User, expiresAt time.Time) (string, error) {
	return i.sign(user, i.clock.Now(), expiresAt)
}

func (i *Issuer) sign(user domain.User, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		Email:    user.Email,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of raw and returns its claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// UserID parses the numeric subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}
