package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/config"
	"github.com/blueauth/blueauth/identity"
	"github.com/blueauth/blueauth/ratelimit"
	"github.com/blueauth/blueauth/session"
	"github.com/blueauth/blueauth/telemetry"
	"github.com/blueauth/blueauth/token"
	"go.uber.org/zap"
)

// Controller runs the sign-in flow. It is safe for concurrent use.
type Controller struct {
	cfg       *config.Config
	codec     *token.Codec
	sessions  *session.Manager
	mailer    Mailer
	log       *zap.Logger
	audit     *audit.Recorder
	telemetry *telemetry.Provider
	now       func() time.Time

	limiter     ratelimit.Limiter
	limit       int
	limitWindow time.Duration

	dispatches sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithAudit records flow events.
func WithAudit(r *audit.Recorder) Option {
	return func(c *Controller) { c.audit = r }
}

// WithTelemetry records spans and metrics.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(c *Controller) { c.telemetry = p }
}

// WithRateLimit allows at most limit sign-in emails per address per window.
func WithRateLimit(l ratelimit.Limiter, limit int, window time.Duration) Option {
	return func(c *Controller) {
		c.limiter = l
		c.limit = limit
		c.limitWindow = window
	}
}

// WithClock overrides the clock used to mint and verify sign-in tokens.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a Controller. cfg must pass Validate.
func NewController(cfg *config.Config, sessions *session.Manager, mailer Mailer, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("flow: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sessions == nil {
		return nil, errors.New("flow: session manager is required")
	}
	if mailer == nil {
		return nil, errors.New("flow: mailer is required")
	}

	c := &Controller{
		cfg:      cfg,
		sessions: sessions,
		mailer:   mailer,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	codec, err := token.NewCodec(cfg.Secret, token.WithClock(c.now))
	if err != nil {
		return nil, fmt.Errorf("flow: %w", err)
	}
	c.codec = codec
	return c, nil
}

// Start emails a sign-in link to an existing identity.
func (c *Controller) Start(ctx context.Context, payload *identity.Identity, opts StartOptions) error {
	began := time.Now()
	ctx, span := c.telemetry.StartSpan(ctx, "blueauth.signin.start", telemetry.SpanOptions{Operation: "start"})

	err := c.start(ctx, payload, opts)

	telemetry.EndSpan(span, err)
	c.telemetry.RecordSignInStarted(ctx, err)
	c.telemetry.RecordDuration(ctx, "start", time.Since(began))
	return err
}

func (c *Controller) start(ctx context.Context, payload *identity.Identity, opts StartOptions) error {
	if payload == nil {
		return ErrMissingIdentity
	}

	ident, err := identity.Lookup(ctx, c.cfg.Gateway, payload)
	if err != nil {
		return err
	}
	if ident == nil {
		c.audit.Record(ctx, audit.NewEvent(audit.EventSignInFailed).Email(payload.Email).Failure(errNoExistingIdentity))
		return errNoExistingIdentity
	}

	return c.startFor(ctx, ident, opts)
}

// startFor mints a sign-in token for ident and dispatches it.
func (c *Controller) startFor(ctx context.Context, ident *identity.Identity, opts StartOptions) error {
	if ident.Email == "" {
		return ErrMissingEmail
	}
	if err := c.checkRateLimit(ctx, ident); err != nil {
		return err
	}

	signed, err := c.codec.Sign(&token.SignInClaims{
		Email:       ident.Email,
		RedirectURL: opts.RedirectURL,
	}, token.SignInLifespan)
	if err != nil {
		return err
	}

	if opts.WaitForDispatch {
		if err := c.dispatch(ctx, ident, signed); err != nil {
			return err
		}
	} else {
		c.dispatches.Add(1)
		go func(ctx context.Context) {
			defer c.dispatches.Done()
			if err := c.dispatch(ctx, ident, signed); err != nil {
				c.log.Error("failed to send sign-in email",
					zap.String("identity_id", ident.ID),
					zap.Error(err),
				)
			}
		}(context.WithoutCancel(ctx))
	}

	c.audit.Record(ctx, audit.NewEvent(audit.EventSignInStarted).
		Subject(ident.ID).
		Email(ident.Email).
		Meta("redirect_url", opts.RedirectURL).
		Success())
	return nil
}

func (c *Controller) checkRateLimit(ctx context.Context, ident *identity.Identity) error {
	if c.limiter == nil {
		return nil
	}

	key := "signin:" + strings.ToLower(ident.Email)
	allowed, _, err := c.limiter.Allow(ctx, key, c.limit, c.limitWindow)
	if err != nil {
		return fmt.Errorf("flow: rate limit check failed: %w", err)
	}
	if !allowed {
		c.log.Info("sign-in rate limited", zap.String("identity_id", ident.ID))
		c.telemetry.RecordRateLimited(ctx)
		c.audit.Record(ctx, audit.NewEvent(audit.EventSignInRateLimited).Subject(ident.ID).Email(ident.Email).Blocked())
		return ErrRateLimited
	}
	return nil
}

func (c *Controller) dispatch(ctx context.Context, ident *identity.Identity, signed string) error {
	err := c.mailer.SendSignIn(ctx, ident.Email, signed)
	c.telemetry.RecordEmail(ctx, err)
	if err != nil {
		c.audit.Record(ctx, audit.NewEvent(audit.EventEmailFailed).Subject(ident.ID).Email(ident.Email).Failure(err))
	}
	return err
}

// Wait blocks until every background email dispatch has finished.
func (c *Controller) Wait() {
	c.dispatches.Wait()
}

// Outcome is the result of RegisterOrStart.
type Outcome struct {
	Result Result

	// Session is set when Result is SignInCompleted.
	Session  *session.Session
	Identity *identity.Identity
}

// RegisterOrStart starts a sign-in for a known identity, or creates it first.
// A new identity is signed in directly when SignInAfterRegistration is set.
// Emails are always awaited here.
func (c *Controller) RegisterOrStart(ctx context.Context, payload *identity.Identity, redirectURL string) (*Outcome, error) {
	began := time.Now()
	ctx, span := c.telemetry.StartSpan(ctx, "blueauth.signin.register_or_start", telemetry.SpanOptions{Operation: "registerOrStart"})

	out, err := c.registerOrStart(ctx, payload, redirectURL)

	telemetry.EndSpan(span, err)
	c.telemetry.RecordDuration(ctx, "registerOrStart", time.Since(began))
	return out, err
}

func (c *Controller) registerOrStart(ctx context.Context, payload *identity.Identity, redirectURL string) (*Outcome, error) {
	if payload == nil {
		return nil, ErrMissingIdentity
	}
	opts := StartOptions{RedirectURL: redirectURL, WaitForDispatch: true}

	existing, err := identity.Lookup(ctx, c.cfg.Gateway, payload)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		err := c.startFor(ctx, existing, opts)
		c.telemetry.RecordSignInStarted(ctx, err)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: SignInStarted, Identity: existing}, nil
	}

	created, err := c.create(ctx, payload)
	if err != nil {
		return nil, err
	}

	if c.cfg.SignInAfterRegistration {
		sess, err := c.issue(ctx, created)
		if err != nil {
			return nil, err
		}
		return &Outcome{Result: SignInCompleted, Session: sess, Identity: created}, nil
	}

	err = c.startFor(ctx, created, opts)
	c.telemetry.RecordSignInStarted(ctx, err)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: SignInStarted, Identity: created}, nil
}

// Registration is the result of Register.
type Registration struct {
	Identity *identity.Identity

	// Session is set when SignInAfterRegistration is enabled.
	Session *session.Session
}

// Register creates a new identity. It fails with ErrIdentityExists when the
// gateway already knows it.
func (c *Controller) Register(ctx context.Context, payload *identity.Identity) (*Registration, error) {
	ctx, span := c.telemetry.StartSpan(ctx, "blueauth.register", telemetry.SpanOptions{Operation: "register"})
	reg, err := c.register(ctx, payload)
	telemetry.EndSpan(span, err)
	return reg, err
}

func (c *Controller) register(ctx context.Context, payload *identity.Identity) (*Registration, error) {
	if payload == nil {
		return nil, ErrMissingIdentity
	}

	existing, err := identity.Lookup(ctx, c.cfg.Gateway, payload)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.telemetry.RecordRegistration(ctx, ErrIdentityExists)
		return nil, ErrIdentityExists
	}

	created, err := c.create(ctx, payload)
	if err != nil {
		return nil, err
	}

	reg := &Registration{Identity: created}
	if c.cfg.SignInAfterRegistration {
		if reg.Session, err = c.issue(ctx, created); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (c *Controller) create(ctx context.Context, payload *identity.Identity) (*identity.Identity, error) {
	created, err := c.cfg.Gateway.Create(ctx, payload)
	c.telemetry.RecordRegistration(ctx, err)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errors.New("flow: gateway returned no identity")
	}

	c.log.Info("identity created", zap.String("identity_id", created.ID))
	c.audit.Record(ctx, audit.NewEvent(audit.EventIdentityCreated).Subject(created.ID).Email(created.Email).Success())
	return created, nil
}

func (c *Controller) issue(ctx context.Context, ident *identity.Identity) (*session.Session, error) {
	sess, err := c.sessions.Issue(ctx, ident)
	if err != nil {
		return nil, err
	}
	c.telemetry.RecordSession(ctx, "issued")
	c.audit.Record(ctx, audit.NewEvent(audit.EventSessionIssued).Subject(ident.ID).Success())
	return sess, nil
}

// Completion is the result of Complete.
type Completion struct {
	Session  *session.Session
	Identity *identity.Identity

	// RedirectURL is the URL requested when the sign-in started, if any.
	RedirectURL string
}

// Complete redeems a sign-in token and issues a session for its identity.
// Token errors are returned as produced by the token package.
func (c *Controller) Complete(ctx context.Context, signInToken string) (*Completion, error) {
	began := time.Now()
	ctx, span := c.telemetry.StartSpan(ctx, "blueauth.signin.complete", telemetry.SpanOptions{Operation: "complete"})

	done, err := c.complete(ctx, signInToken)

	telemetry.EndSpan(span, err)
	c.telemetry.RecordSignInCompleted(ctx, err)
	c.telemetry.RecordDuration(ctx, "complete", time.Since(began))
	if err != nil {
		c.audit.Record(ctx, audit.NewEvent(audit.EventSignInFailed).Failure(err))
	}
	return done, err
}

func (c *Controller) complete(ctx context.Context, signInToken string) (*Completion, error) {
	var claims token.SignInClaims
	if err := c.codec.Verify(signInToken, &claims); err != nil {
		c.log.Debug("sign-in token rejected", zap.Error(err))
		return nil, err
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("%w: no email claim", token.ErrMalformed)
	}

	ident, err := identity.Lookup(ctx, c.cfg.Gateway, &identity.Identity{Email: claims.Email})
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, errNoMatchingIdentity
	}

	sess, err := c.issue(ctx, ident)
	if err != nil {
		return nil, err
	}

	c.audit.Record(ctx, audit.NewEvent(audit.EventSignInCompleted).Subject(ident.ID).Email(ident.Email).Success())
	return &Completion{Session: sess, Identity: ident, RedirectURL: claims.RedirectURL}, nil
}
