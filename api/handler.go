package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/blueauth/blueauth/flow"
	"github.com/blueauth/blueauth/health"
	"github.com/blueauth/blueauth/identity"
	"github.com/blueauth/blueauth/session"
	"github.com/blueauth/blueauth/telemetry"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// IdentityKey is the echo context key set by IdentityMiddleware.
const IdentityKey = "identity"

var errUnknownOperation = errors.New("unknown operation")

// Request is the RPC envelope.
type Request struct {
	Operation string          `json:"operation"`
	Variables json.RawMessage `json:"variables,omitempty"`
}

// Variables are the arguments accepted by the RPC operations.
type Variables struct {
	Identity    *identity.Identity `json:"identity,omitempty"`
	RedirectURL string             `json:"redirectURL,omitempty"`
	Token       string             `json:"token,omitempty"`
}

// ErrorItem is one entry of an error response.
type ErrorItem struct {
	Message string `json:"message"`
}

// Response is the RPC result envelope.
type Response struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []ErrorItem    `json:"errors,omitempty"`
}

type operation func(c echo.Context, v *Variables) (any, error)

type Handler struct {
	flow      *flow.Controller
	sessions  *session.Manager
	health    *health.Manager
	telemetry *telemetry.Provider
	log       *zap.Logger
	ops       map[string]operation
}

type Option func(*Handler)

func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

func WithHealth(m *health.Manager) Option {
	return func(h *Handler) { h.health = m }
}

func WithTelemetry(p *telemetry.Provider) Option {
	return func(h *Handler) { h.telemetry = p }
}

func NewHandler(ctrl *flow.Controller, sessions *session.Manager, opts ...Option) *Handler {
	h := &Handler{flow: ctrl, sessions: sessions, log: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	h.ops = map[string]operation{
		"registerOrStartEmailSignIn": h.registerOrStart,
		"startEmailSignIn":           h.startSignIn,
		"register":                   h.register,
		"completeSignIn":             h.completeSignIn,
		"signOut":                    h.signOut,
		"whoami":                     h.whoami,
	}
	return h
}

// RegisterRoutes mounts the auth endpoint on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.HandleGet)
	g.POST("", h.HandleRPC)
}

// RegisterSystemRoutes mounts health and metrics endpoints on e.
func (h *Handler) RegisterSystemRoutes(e *echo.Echo) {
	if h.health != nil {
		e.GET("/health", echo.WrapHandler(h.health.FullHandler()))
		e.GET("/health/live", echo.WrapHandler(h.health.LiveHandler()))
		e.GET("/health/ready", echo.WrapHandler(h.health.ReadyHandler()))
	}
	if metrics := h.telemetry.MetricsHandler(); metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics))
	}
}

// HandleGet completes a sign-in link when a token parameter is present and
// otherwise runs the RPC operation named in the query.
func (h *Handler) HandleGet(c echo.Context) error {
	if tok := c.QueryParam("token"); tok != "" {
		return h.HandleSignInLink(c)
	}

	req := Request{Operation: c.QueryParam("operation")}
	if raw := c.QueryParam("variables"); raw != "" {
		req.Variables = json.RawMessage(raw)
	}
	return h.run(c, &req)
}

// HandleRPC runs a JSON encoded operation.
func (h *Handler) HandleRPC(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}
	return h.run(c, &req)
}

// HandleSignInLink redeems the token of an emailed link, sets the session
// cookie and redirects.
func (h *Handler) HandleSignInLink(c echo.Context) error {
	done, err := h.flow.Complete(c.Request().Context(), c.QueryParam("token"))
	if err != nil {
		h.log.Info("sign-in link rejected", zap.Error(err))
		return c.String(http.StatusBadRequest, "Error: "+err.Error())
	}

	c.SetCookie(h.sessions.Cookie(done.Session))
	return c.Redirect(http.StatusFound, redirectTarget(done.RedirectURL))
}

func (h *Handler) run(c echo.Context, req *Request) error {
	op, ok := h.ops[req.Operation]
	if !ok {
		return h.Error(c, http.StatusBadRequest, "Unknown operation", errUnknownOperation)
	}

	var vars Variables
	if len(req.Variables) > 0 && string(req.Variables) != "null" {
		if err := json.Unmarshal(req.Variables, &vars); err != nil {
			return h.Error(c, http.StatusBadRequest, "Invalid variables", err)
		}
	}

	result, err := op(c, &vars)
	if err != nil {
		h.log.Info("operation failed", zap.String("operation", req.Operation), zap.Error(err))
		return c.JSON(http.StatusOK, Response{Errors: []ErrorItem{{Message: err.Error()}}})
	}
	return c.JSON(http.StatusOK, Response{Data: map[string]any{req.Operation: result}})
}

func (h *Handler) registerOrStart(c echo.Context, v *Variables) (any, error) {
	out, err := h.flow.RegisterOrStart(c.Request().Context(), v.Identity, v.RedirectURL)
	if err != nil {
		return nil, err
	}
	if out.Session != nil {
		c.SetCookie(h.sessions.Cookie(out.Session))
	}
	return out.Result, nil
}

func (h *Handler) startSignIn(c echo.Context, v *Variables) (any, error) {
	err := h.flow.Start(c.Request().Context(), v.Identity, flow.StartOptions{RedirectURL: v.RedirectURL})
	if err != nil {
		return nil, err
	}
	return true, nil
}

func (h *Handler) register(c echo.Context, v *Variables) (any, error) {
	reg, err := h.flow.Register(c.Request().Context(), v.Identity)
	if err != nil {
		return nil, err
	}
	if reg.Session != nil {
		c.SetCookie(h.sessions.Cookie(reg.Session))
	}
	return reg.Identity, nil
}

func (h *Handler) completeSignIn(c echo.Context, v *Variables) (any, error) {
	done, err := h.flow.Complete(c.Request().Context(), v.Token)
	if err != nil {
		return nil, err
	}
	c.SetCookie(h.sessions.Cookie(done.Session))
	return redirectTarget(done.RedirectURL), nil
}

func (h *Handler) signOut(c echo.Context, _ *Variables) (any, error) {
	c.SetCookie(h.sessions.SignOut(c.Request().Context()))
	return true, nil
}

func (h *Handler) whoami(c echo.Context, _ *Variables) (any, error) {
	ctx := c.Request().Context()
	ident := h.sessions.FromRequest(c.Request())
	if ident == nil {
		return nil, nil
	}

	sess, err := h.sessions.RefreshIfConfigured(ctx, ident)
	if err != nil {
		h.log.Warn("failed to refresh session", zap.String("identity_id", ident.ID), zap.Error(err))
	} else if sess != nil {
		c.SetCookie(h.sessions.Cookie(sess))
	}
	return ident, nil
}

// IdentityMiddleware resolves the session cookie of every request and stores
// the identity, or nil, under IdentityKey.
func IdentityMiddleware(reader *session.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(IdentityKey, reader.FromRequest(c.Request()))
			return next(c)
		}
	}
}

// CurrentIdentity returns the identity stored by IdentityMiddleware.
func CurrentIdentity(c echo.Context) *identity.Identity {
	ident, _ := c.Get(IdentityKey).(*identity.Identity)
	return ident
}

func redirectTarget(u string) string {
	if u == "" {
		return "/"
	}
	return u
}

// Error writes a client error in the RPC error shape.
func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	item := ErrorItem{Message: message}
	if err != nil {
		item.Message = message + ": " + err.Error()
	}
	return c.JSON(code, Response{Errors: []ErrorItem{item}})
}
