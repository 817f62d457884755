package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teemow/urmindr/internal/assistant"
	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/completion"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/identity"
	"github.com/teemow/urmindr/internal/instrumentation"
	"github.com/teemow/urmindr/internal/logging"
	"github.com/teemow/urmindr/internal/server"
	"github.com/teemow/urmindr/internal/tools"
)

// Identity verifier backends.
const (
	VerifierFirebase = "firebase"
	VerifierStatic   = "static"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

// serveConfig is the full configuration of the serve command.
type serveConfig struct {
	commonConfig

	Addr         string
	VerifierType string
	// StaticTokens is a "token=subject,token=subject" table for --verifier=static.
	StaticTokens string
	CORSOrigins  string
	RateLimit    float64
	RateBurst    int
	TrustProxy   bool
	Metrics      MetricsConfig
}

func newServeCmd() *cobra.Command {
	var cfg serveConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the urmindr HTTP API used by the web frontend.

Endpoints:
  POST /api/generate       one-shot text generation
  POST /api/toolcall       conversational prompt with calendar tools (Bearer)
  GET  /chats              the caller's conversations (Bearer)
  POST /api/cal/events     upcoming events for a delegated access token
  GET  /api/cal/auth-url   calendar consent URL (Bearer)
  GET  /oauth2callback     completes calendar consent

Identity:
  --verifier firebase checks Firebase ID tokens for --project.
  --verifier static accepts the tokens listed in --static-tokens (local use only).

Delegated calendar access:
  --google-client-id and --google-client-secret
  OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars.
  Without them, tools that need calendar consent report that the
  integration is not configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.commonConfig.loadEnvVars(cmd)
			loadServeEnvVars(cmd, &cfg)
			return runServe(cfg)
		},
	}

	bindServeFlags(cmd, &cfg)

	return cmd
}

func bindServeFlags(cmd *cobra.Command, cfg *serveConfig) {
	cfg.commonConfig.bindFlags(cmd, StoreFirestore, "json")

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", server.DefaultAddr, "HTTP listen address. Can also use URMINDR_ADDR env var.")
	f.StringVar(&cfg.VerifierType, "verifier", VerifierFirebase, "Identity verifier: firebase or static. Can also use URMINDR_VERIFIER env var.")
	f.StringVar(&cfg.StaticTokens, "static-tokens", "", "Comma-separated token=subject pairs for --verifier=static. Can also use URMINDR_STATIC_TOKENS env var.")
	f.StringVar(&cfg.CORSOrigins, "cors-origins", "*", "Comma-separated list of allowed CORS origins. Can also use CORS_ALLOWED_ORIGINS env var.")
	f.Float64Var(&cfg.RateLimit, "rate-limit", server.DefaultRateLimit, "Requests per second allowed per client IP (0 disables). Can also use RATE_LIMIT env var.")
	f.IntVar(&cfg.RateBurst, "rate-burst", server.DefaultRateBurst, "Burst size per client IP. Can also use RATE_BURST env var.")
	f.BoolVar(&cfg.TrustProxy, "trust-proxy", false, "Use X-Forwarded-For and X-Real-IP for the client IP. Only enable behind a trusted proxy.")

	// Metrics server flags
	f.BoolVar(&cfg.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
}

// loadServeEnvVars loads serve-only settings from environment variables.
// Environment variables only apply if the corresponding flag was not
// explicitly set.
func loadServeEnvVars(cmd *cobra.Command, cfg *serveConfig) {
	envString(cmd, "addr", "URMINDR_ADDR", &cfg.Addr)
	envString(cmd, "verifier", "URMINDR_VERIFIER", &cfg.VerifierType)
	envString(cmd, "static-tokens", "URMINDR_STATIC_TOKENS", &cfg.StaticTokens)
	envString(cmd, "cors-origins", "CORS_ALLOWED_ORIGINS", &cfg.CORSOrigins)
	envFloat(cmd, "rate-limit", "RATE_LIMIT", &cfg.RateLimit)
	envInt(cmd, "rate-burst", "RATE_BURST", &cfg.RateBurst)
	envBool(cmd, "trust-proxy", "TRUST_PROXY", &cfg.TrustProxy)
	envBool(cmd, "metrics-enabled", "METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString(cmd, "metrics-addr", "METRICS_ADDR", &cfg.Metrics.Addr)
}

func newVerifier(ctx context.Context, cfg *serveConfig) (identity.Verifier, error) {
	switch strings.ToLower(cfg.VerifierType) {
	case VerifierFirebase:
		if cfg.ProjectID == "" {
			return nil, errors.New("--project is required for the firebase verifier")
		}
		return identity.NewFirebaseVerifier(ctx, cfg.ProjectID)
	case VerifierStatic:
		tokens, err := identity.ParseStaticTokens(cfg.StaticTokens)
		if err != nil {
			return nil, fmt.Errorf("invalid --static-tokens: %w", err)
		}
		return identity.NewStaticVerifier(tokens), nil
	default:
		return nil, fmt.Errorf("unsupported verifier type: %s (supported: firebase, static)", cfg.VerifierType)
	}
}

func runServe(cfg serveConfig) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		// The signal context is already cancelled here.
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()
	audit := instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)

	serverContext := server.NewServerContext(shutdownCtx, logger, metrics, audit)

	store, err := openStore(shutdownCtx, &cfg.commonConfig, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("conversation store close failed", logging.Err(err))
		}
	}()

	verifier, err := newVerifier(shutdownCtx, &cfg)
	if err != nil {
		return fmt.Errorf("failed to create identity verifier: %w", err)
	}

	flows, flowCheck, err := openFlowStore(&cfg.commonConfig, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := flows.Close(); err != nil {
			logger.Warn("flow store close failed", logging.Err(err))
		}
	}()

	oauth := newOAuth(&cfg.commonConfig, metrics, logger)
	authorizer := google.NewAuthorizer(oauth, flows, cfg.FlowStateTTL)
	if !oauth.Configured() {
		logger.Warn("google oauth client not configured; calendar consent is unavailable")
	}

	calendarClient := calendar.NewClient(calendar.WithMetrics(metrics))

	completionClient, err := completion.NewGeminiClient(shutdownCtx, completion.GeminiConfig{
		APIKey: cfg.GeminiAPIKey,
		Model:  cfg.GeminiModel,
	}, metrics)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	resolver := tools.NewResolver(calendarClient,
		tools.WithRefresher(oauth),
		tools.WithAuthorizer(authorizer),
		tools.WithCalendarTimeout(cfg.CalendarTimeout),
		tools.WithMetrics(metrics),
		tools.WithAuditLogger(audit),
		tools.WithLogger(logger),
	)

	orchestrator := assistant.New(store, completionClient, resolver,
		assistant.WithCompletionTimeout(cfg.CompletionTimeout),
		assistant.WithLogger(logger),
	)

	apiServer, err := server.NewAPIServer(server.Config{
		Addr:            cfg.Addr,
		AllowedOrigins:  parseCommaSeparatedList(cfg.CORSOrigins),
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		TrustProxy:      cfg.TrustProxy,
		Version:         version,
		CalendarTimeout: cfg.CalendarTimeout,
	}, server.Dependencies{
		Assistant:     orchestrator,
		Verifier:      verifier,
		Calendar:      calendarClient,
		Authorizer:    authorizer,
		ServerContext: serverContext,
	})
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	if flowCheck != nil {
		apiServer.Health().AddCheck("valkey", flowCheck)
	}

	serverErr := make(chan error, 2)

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() && provider.ServesPrometheus() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- fmt.Errorf("metrics server failed: %w", err)
			}
		}()
	}

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("API server failed: %w", err)
		}
	}()
	apiServer.Health().SetReady(true)

	var runErr error
	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received, stopping servers")
	case runErr = <-serverErr:
		logger.Error("server stopped", logging.Err(runErr))
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()

	var metricsErr error
	if metricsServer != nil {
		metricsErr = metricsServer.Shutdown(ctx)
	}
	return errors.Join(runErr, apiServer.Shutdown(ctx), metricsErr)
}
