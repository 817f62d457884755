package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/conversation"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/instrumentation"
	"github.com/teemow/urmindr/internal/logging"
	"github.com/teemow/urmindr/internal/resources"
	"github.com/teemow/urmindr/internal/server"
	"github.com/teemow/urmindr/internal/tools"
	"github.com/teemow/urmindr/internal/tools/calendar_tools"
	"github.com/teemow/urmindr/internal/tools/google_tools"
)

// DefaultMCPSubject is the subject MCP sessions act as.
const DefaultMCPSubject = "local"

type mcpConfig struct {
	commonConfig

	// Subject owns the conversations and authorization flows of this process.
	Subject string
}

func newMCPCmd() *cobra.Command {
	var cfg mcpConfig

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server over stdio",
		Long: `Start a Model Context Protocol (MCP) server on standard input/output.

It exposes the assistant's calendar tools (schedule_meeting, list_events,
...), the Google consent tools and the subject's conversations as
resources (urmindr://conversations).

Calendar tools take the delegated access token as an argument. Use
google_get_auth_url and google_save_auth_code to obtain one; this requires
--google-client-id and --google-client-secret (or GOOGLE_CLIENT_ID and
GOOGLE_CLIENT_SECRET env vars).

Logs go to stderr so they never mix with the protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.commonConfig.loadEnvVars(cmd)
			envString(cmd, "subject", "URMINDR_SUBJECT", &cfg.Subject)
			return runMCP(cfg)
		},
	}

	cfg.commonConfig.bindFlags(cmd, StoreSQLite, "text")
	cmd.Flags().StringVar(&cfg.Subject, "subject", DefaultMCPSubject, "Subject id the MCP session acts as. Can also use URMINDR_SUBJECT env var.")

	return cmd
}

func runMCP(cfg mcpConfig) error {
	if cfg.Subject == "" {
		return errors.New("--subject must not be empty")
	}

	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	// The prometheus exporter has no scrape endpoint in stdio mode.
	if instrConfig.MetricsExporter == instrumentation.ExporterPrometheus {
		instrConfig.Enabled = false
	}
	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()
	audit := instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging)

	serverContext := server.NewServerContext(shutdownCtx, logger, metrics, audit)
	defer func() {
		_ = serverContext.Shutdown()
	}()

	store, err := openStore(shutdownCtx, &cfg.commonConfig, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("conversation store close failed", logging.Err(err))
		}
	}()

	flows, _, err := openFlowStore(&cfg.commonConfig, logger)
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

	mcpSrv := newMCPServer()
	if err := registerAllTools(mcpSrv, serverContext, mcpDependencies{
		Store:           store,
		Calendar:        calendar.NewClient(calendar.WithMetrics(metrics)),
		OAuth:           oauth,
		Authorizer:      authorizer,
		Subject:         cfg.Subject,
		CalendarTimeout: cfg.CalendarTimeout,
	}); err != nil {
		return err
	}

	return runStdioServer(mcpSrv)
}

func newMCPServer() *mcpserver.MCPServer {
	return mcpserver.NewMCPServer("urmindr", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false),
	)
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// mcpDependencies are the collaborators of the MCP tools and resources.
type mcpDependencies struct {
	Store           conversation.Store
	Calendar        calendar.Service
	OAuth           *google.OAuth
	Authorizer      *google.Authorizer
	Subject         string
	CalendarTimeout time.Duration
}

// registerAllTools registers all MCP tools and resources
func registerAllTools(mcpSrv *mcpserver.MCPServer, sc *server.ServerContext, deps mcpDependencies) error {
	resolver := tools.NewResolver(deps.Calendar,
		tools.WithRefresher(deps.OAuth),
		tools.WithAuthorizer(deps.Authorizer),
		tools.WithCalendarTimeout(deps.CalendarTimeout),
		tools.WithMetrics(sc.Metrics()),
		tools.WithAuditLogger(sc.AuditLogger()),
		tools.WithLogger(sc.Logger()),
	)

	type toolRegistration struct {
		name     string
		register func() error
	}

	registrations := []toolRegistration{
		{
			name: "Calendar",
			register: func() error {
				return calendar_tools.RegisterCalendarTools(mcpSrv, sc, calendar_tools.Config{
					Resolver:        resolver,
					Calendar:        deps.Calendar,
					Catalog:         tools.DefaultCatalog(),
					SubjectID:       deps.Subject,
					CalendarTimeout: deps.CalendarTimeout,
				})
			},
		},
		{
			name: "Google",
			register: func() error {
				return google_tools.RegisterGoogleTools(mcpSrv, sc, deps.Authorizer, deps.Subject)
			},
		},
		{
			name: "Conversation resources",
			register: func() error {
				return resources.RegisterConversationResources(mcpSrv, deps.Store, deps.Subject)
			},
		},
	}

	for _, reg := range registrations {
		if err := reg.register(); err != nil {
			return fmt.Errorf("failed to register %s: %w", reg.name, err)
		}
	}
	return nil
}
