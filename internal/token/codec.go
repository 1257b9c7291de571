// Package token reads the claims of a session token on the client side.
//
// Signatures are not verified here; the Identity API does that on every
// authenticated call. The decoded claims only drive local decisions such as
// treating an expired token as signed out before a request is made.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conduit-client/internal/apierr"
	"conduit-client/internal/clock"
	"conduit-client/internal/domain"
)

// Claims is the payload layout issued by the Identity API.
type Claims struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Codec decodes tokens and judges their expiry against a clock.
type Codec struct {
	clock  clock.Clock
	parser *jwt.Parser
}

func NewCodec(c clock.Clock) *Codec {
	return &Codec{
		clock:  clock.OrSystem(c),
		parser: jwt.NewParser(),
	}
}

// Decode extracts the payload of raw. Any failure wraps apierr.ErrMalformedToken.
func (c *Codec) Decode(raw string) (domain.TokenPayload, error) {
	claims := &Claims{}
	tok, _, err := c.parser.ParseUnverified(raw, claims)
	// An unknown or missing alg only matters for verification, which is not
	// done here; the claims are already decoded at that point.
	if err != nil && !(tok != nil && errors.Is(err, jwt.ErrTokenUnverifiable)) {
		return domain.TokenPayload{}, fmt.Errorf("%w: %v", apierr.ErrMalformedToken, err)
	}
	if claims.ExpiresAt == nil {
		return domain.TokenPayload{}, fmt.Errorf("%w: missing exp claim", apierr.ErrMalformedToken)
	}

	payload := domain.TokenPayload{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
		Email:     claims.Email,
		Username:  claims.Username,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	return payload, nil
}

// IsExpired is true when raw cannot be decoded or its expiry is at or before now.
func (c *Codec) IsExpired(raw string) bool {
	payload, err := c.Decode(raw)
	if err != nil {
		return true
	}
	return !payload.ExpiresAt.After(c.clock.Now())
}

// Expiration returns the expiry of raw, if it can be decoded.
func (c *Codec) Expiration(raw string) (time.Time, bool) {
	payload, err := c.Decode(raw)
	if err != nil {
		return time.Time{}, false
	}
	return payload.ExpiresAt, true
}
