package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/blueauth/blueauth/api"
	"github.com/blueauth/blueauth/audit"
	"github.com/blueauth/blueauth/config"
	"github.com/blueauth/blueauth/flow"
	"github.com/blueauth/blueauth/health"
	"github.com/blueauth/blueauth/logger"
	"github.com/blueauth/blueauth/mail"
	"github.com/blueauth/blueauth/ratelimit"
	"github.com/blueauth/blueauth/session"
	"github.com/blueauth/blueauth/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Version is set at build time
var Version = "dev"

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(settings.LogLevel)
	defer logger.Log.Sync()
	l := logger.Log

	l.Info("Starting blueauth",
		zap.String("version", Version),
		zap.Int("port", settings.Port),
		zap.String("db_type", settings.DBType),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hm := health.NewManager(Version)

	st, err := openStore(ctx, settings)
	if err != nil {
		l.Fatal("failed to initialize store", zap.Error(err))
	}
	defer st.close()
	hm.Register(health.NewPingChecker("database", true, st.ping))

	opts, err := settings.Options(st.gateway)
	if err != nil {
		l.Fatal("invalid configuration", zap.Error(err))
	}
	cfg := config.Resolve(opts)
	if err := cfg.Validate(); err != nil {
		l.Fatal("invalid configuration", zap.Error(err))
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = Version
	tcfg.OTLPEndpoint = settings.OTLPEndpoint
	tcfg.Enabled = settings.MetricsEnabled || settings.OTLPEndpoint != ""
	tp, err := telemetry.NewProvider(ctx, tcfg)
	if err != nil {
		l.Fatal("failed to initialize telemetry", zap.Error(err))
	}

	recorder := audit.NewRecorder(st.events, audit.WithLogger(l))

	limiter, err := newLimiter(ctx, settings, hm)
	if err != nil {
		l.Fatal("failed to initialize rate limiter", zap.Error(err))
	}
	window, err := settings.RateWindow()
	if err != nil {
		l.Fatal("invalid SIGNIN_RATE_WINDOW", zap.Error(err))
	}

	var sender mail.Sender = mail.NewLogSender(l)
	if cfg.SMTPURL != "" {
		smtp, err := mail.NewSMTPSender(cfg.SMTPURL)
		if err != nil {
			l.Fatal("invalid SMTP_URL", zap.Error(err))
		}
		l.Info("sending sign-in emails over SMTP", zap.String("host", smtp.Host()))
		sender = smtp
	} else {
		l.Warn("SMTP_URL not set, sign-in emails are only logged")
	}
	dispatcher, err := mail.NewDispatcher(cfg, sender)
	if err != nil {
		l.Fatal("failed to initialize mail dispatcher", zap.Error(err))
	}

	sessions, err := session.NewManager(cfg, session.WithLogger(l), session.WithAudit(recorder))
	if err != nil {
		l.Fatal("failed to initialize session manager", zap.Error(err))
	}
	ctrl, err := flow.NewController(cfg, sessions, dispatcher,
		flow.WithLogger(l),
		flow.WithAudit(recorder),
		flow.WithTelemetry(tp),
		flow.WithRateLimit(limiter, settings.SignInRateLimit, window),
	)
	if err != nil {
		l.Fatal("failed to initialize sign-in flow", zap.Error(err))
	}

	h := api.NewHandler(ctrl, sessions,
		api.WithLogger(l),
		api.WithHealth(hm),
		api.WithTelemetry(tp),
	)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			l.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowCredentials: true}))

	h.RegisterRoutes(e.Group(settings.BasePath))
	h.RegisterSystemRoutes(e)

	go func() {
		l.Info("Server is starting", zap.Int("port", settings.Port), zap.String("base_path", settings.BasePath))
		if err := e.Start(fmt.Sprintf(":%d", settings.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	l.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		l.Error("server shutdown failed", zap.Error(err))
	}
	ctrl.Wait()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		l.Error("telemetry shutdown failed", zap.Error(err))
	}
}

func newLimiter(ctx context.Context, s *config.Settings, hm *health.Manager) (ratelimit.Limiter, error) {
	if s.RedisURL == "" {
		return ratelimit.NewMemoryLimiter(), nil
	}
	opts, err := redis.ParseURL(s.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	hm.Register(health.NewPingChecker("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	return ratelimit.NewRedisLimiter(client), nil
}
