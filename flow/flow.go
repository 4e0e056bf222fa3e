// Package flow implements the passwordless email sign-in flow.
//
// A Controller has two halves. Starting a sign-in looks the identity up, mints
// a 15 minute sign-in token and emails a link carrying it. Completing a
// sign-in redeems that token and issues a session. RegisterOrStart and
// Register create identities on the way.
//
// The Controller holds no per-request state. Sign-in tokens are stateless
// JWTs, so a link can be redeemed any number of times until it expires.
//
// # Usage
//
//	ctrl, err := flow.NewController(cfg, sessions, dispatcher,
//	    flow.WithLogger(log),
//	    flow.WithRateLimit(limiter, 5, 15*time.Minute),
//	)
//
//	err = ctrl.Start(ctx, &identity.Identity{Email: email}, flow.StartOptions{RedirectURL: "/app"})
//
//	done, err := ctrl.Complete(ctx, r.URL.Query().Get("token"))
//	http.SetCookie(w, sessions.Cookie(done.Session))
package flow

import (
	"context"
	"errors"
)

// Result is the outcome of RegisterOrStart.
type Result string

const (
	// SignInStarted means a sign-in email was sent.
	SignInStarted Result = "SIGN_IN_STARTED"

	// SignInCompleted means a session was issued without an email.
	SignInCompleted Result = "SIGN_IN_COMPLETED"
)

var (
	// ErrIdentityNotFound is matched by every IdentityNotFoundError.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrMissingEmail is returned when the identity to email has no address.
	ErrMissingEmail = errors.New("missing email")

	// ErrMissingIdentity is returned when no identity payload is given.
	ErrMissingIdentity = errors.New("missing identity")

	// ErrIdentityExists is returned by Register for a known identity.
	ErrIdentityExists = errors.New("identity already exists")

	// ErrRateLimited is returned when an address requested too many emails.
	ErrRateLimited = errors.New("too many sign-in requests, try again later")
)

// IdentityNotFoundError reports a gateway miss. Its message tells the two
// flow halves apart.
type IdentityNotFoundError struct {
	Message string
}

func (e *IdentityNotFoundError) Error() string { return e.Message }

func (e *IdentityNotFoundError) Is(target error) bool {
	return target == ErrIdentityNotFound
}

var (
	errNoExistingIdentity = &IdentityNotFoundError{Message: "no existing identity"}
	errNoMatchingIdentity = &IdentityNotFoundError{Message: "no matching identity"}
)

// Mailer delivers sign-in emails. *mail.Dispatcher implements it.
type Mailer interface {
	SendSignIn(ctx context.Context, to, token string) error
}

// StartOptions tune Start.
type StartOptions struct {
	// RedirectURL is embedded in the sign-in token and returned on completion.
	RedirectURL string

	// WaitForDispatch makes Start return the email transport error. When
	// false the email is sent in the background, detached from ctx
	// cancellation, and failures are only logged.
	WaitForDispatch bool
}
