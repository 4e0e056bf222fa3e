// Package token signs and verifies the two kinds of tokens used by blueauth.
//
// Tokens are compact HS256 JSON Web Tokens. They are URL-safe, carry their own
// issued-at and expiry timestamps and are verified without any server-side
// registry: validity is a function of signature and expiry only.
//
// # Token Kinds
//
//   - SignInClaims: emailed one-time link, fixed 15 minute lifespan
//   - SessionClaims: cookie session, configurable lifespan, renewable
//
// The kinds are told apart only by the claims they carry.
//
// # Usage
//
//	codec, err := token.NewCodec(secret)
//	signed, err := codec.Sign(&token.SignInClaims{Email: "a@example.com"}, token.SignInLifespan)
//
//	var claims token.SignInClaims
//	if err := codec.Verify(signed, &claims); err != nil {
//	    // errors.Is(err, token.ErrExpired) ...
//	}
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignInLifespan is the fixed lifespan of sign-in tokens.
const SignInLifespan = 15 * time.Minute

var (
	// ErrInvalidSecret is returned when signing or verifying with an empty secret.
	ErrInvalidSecret = errors.New("token: invalid secret")

	// ErrMalformed is returned when a string is not a structurally valid token.
	ErrMalformed = errors.New("token: malformed")

	// ErrSignature is returned when the signature does not match the secret.
	// Wrong secrets and tampered tokens both produce this error.
	ErrSignature = errors.New("token: invalid signature")

	// ErrExpired is returned when the embedded expiry has elapsed.
	ErrExpired = errors.New("token: expired")
)

// signingMethod is the only algorithm accepted on verification.
var signingMethod = jwt.SigningMethodHS256

// Claims is implemented by the claim sets of this package.
type Claims interface {
	jwt.Claims
	stamp(id string, issuedAt, expiresAt time.Time)
}

// Window holds the registered claims shared by every token kind.
type Window struct {
	jwt.RegisteredClaims
}

func (w *Window) stamp(id string, issuedAt, expiresAt time.Time) {
	w.ID = id
	w.IssuedAt = jwt.NewNumericDate(issuedAt)
	w.ExpiresAt = jwt.NewNumericDate(expiresAt)
}

// Issued returns the issue time, or the zero time when absent.
func (w *Window) Issued() time.Time {
	if w.IssuedAt == nil {
		return time.Time{}
	}
	return w.IssuedAt.Time
}

// Expires returns the expiry time, or the zero time when absent.
func (w *Window) Expires() time.Time {
	if w.ExpiresAt == nil {
		return time.Time{}
	}
	return w.ExpiresAt.Time
}

// SignInClaims are carried by the emailed sign-in link.
type SignInClaims struct {
	Email       string `json:"email"`
	RedirectURL string `json:"redirectURL,omitempty"`
	Window
}

// SessionClaims are carried by the session cookie.
type SessionClaims struct {
	ID string `json:"id"`
	Window
}

// Codec signs and verifies tokens under a single secret.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the clock used for issue and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a Codec for the given secret.
func NewCodec(secret string, opts ...Option) (*Codec, error) {
	if secret == "" {
		return nil, ErrInvalidSecret
	}
	c := &Codec{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sign stamps claims with an issue time and expiry and returns the signed token.
func (c *Codec) Sign(claims Claims, expiresIn time.Duration) (string, error) {
	now := c.now()
	claims.stamp(uuid.NewString(), now, now.Add(expiresIn))

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign failed: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry of tokenString and decodes it into claims.
// The signature is checked first, so an expired token under the wrong secret
// reports ErrSignature.
func (c *Codec) Verify(tokenString string, claims Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Sign is a convenience wrapper around NewCodec and Codec.Sign.
func Sign(claims Claims, secret string, expiresIn time.Duration) (string, error) {
	c, err := NewCodec(secret)
	if err != nil {
		return "", err
	}
	return c.Sign(claims, expiresIn)
}

// Verify is a convenience wrapper around NewCodec and Codec.Verify.
func Verify(tokenString, secret string, claims Claims) error {
	c, err := NewCodec(secret)
	if err != nil {
		return err
	}
	return c.Verify(tokenString, claims)
}

// classify maps jwt parse errors onto the three terminal token errors.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
