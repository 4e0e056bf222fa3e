// Package mail renders and delivers sign-in emails.
//
// A Dispatcher turns a sign-in token into a link on the configured auth
// endpoint, renders the email bodies and hands the Message to a Sender.
// SMTPSender delivers over SMTP; LogSender writes messages to the log and is
// meant for development.
package mail

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/blueauth/blueauth/config"
	"go.uber.org/zap"
)

// TokenParam is the query parameter carrying the sign-in token in links.
const TokenParam = "token"

// Message is a rendered email.
type Message struct {
	To          string
	FromName    string
	FromAddress string
	Subject     string
	Text        string
	HTML        string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *Message) error

func (f SenderFunc) Send(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Dispatcher sends sign-in emails.
type Dispatcher struct {
	cfg    *config.Config
	sender Sender
}

// NewDispatcher creates a Dispatcher using cfg for addresses and rendering.
func NewDispatcher(cfg *config.Config, sender Sender) (*Dispatcher, error) {
	if cfg == nil {
		return nil, errors.New("mail: config is required")
	}
	if sender == nil {
		return nil, errors.New("mail: sender is required")
	}
	return &Dispatcher{cfg: cfg, sender: sender}, nil
}

// SignInURL returns the auth endpoint with the token attached as a query
// parameter. Existing query parameters are kept.
func (d *Dispatcher) SignInURL(token string) (string, error) {
	return SignInURL(d.cfg.AuthEndpoint, token)
}

// SignInURL attaches token to endpoint.
func SignInURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("mail: invalid auth endpoint: %w", err)
	}
	q := u.Query()
	q.Set(TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendSignIn renders the sign-in email for token and sends it to to.
// Transport errors are returned unchanged.
func (d *Dispatcher) SendSignIn(ctx context.Context, to, token string) error {
	link, err := d.SignInURL(token)
	if err != nil {
		return err
	}

	render := d.cfg.CreateSignInEmailStrings
	if render == nil {
		render = config.DefaultEmailStrings
	}
	strs := render(link, d.cfg.ServiceName)

	return d.sender.Send(ctx, &Message{
		To:          to,
		FromName:    d.cfg.SMTPFromName,
		FromAddress: d.cfg.SMTPFromAddress,
		Subject:     d.cfg.SMTPSubject,
		Text:        strs.Text,
		HTML:        strs.HTML,
	})
}

// LogSender writes messages to a logger instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(l *zap.Logger) *LogSender {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogSender{log: l.Named("mail")}
}

func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.log.Info("email",
		zap.String("to", msg.To),
		zap.String("from", msg.FromAddress),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
