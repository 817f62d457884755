package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/urmindr/internal/conversation"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/instrumentation"
)

// Store and flow-store backends.
const (
	StoreFirestore = "firestore"
	StoreSQLite    = "sqlite"
	StoreMemory    = "memory"

	FlowStoreMemory = "memory"
	FlowStoreValkey = "valkey"
)

// DefaultFlowStateTTL bounds how long an authorization link stays usable.
const DefaultFlowStateTTL = 10 * time.Minute

// commonConfig holds the settings shared by the serve and mcp commands.
type commonConfig struct {
	Debug     bool
	LogFormat string

	GeminiAPIKey string
	GeminiModel  string

	// ProjectID is the Google Cloud project for Firestore and Firebase Auth.
	ProjectID string

	StoreType  string
	SQLitePath string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	FlowStoreType string
	FlowStateTTL  time.Duration
	Valkey        google.ValkeyConfig

	CompletionTimeout time.Duration
	CalendarTimeout   time.Duration
}

func (c *commonConfig) bindFlags(cmd *cobra.Command, defaultStore, defaultLogFormat string) {
	f := cmd.Flags()
	f.BoolVar(&c.Debug, "debug", false, "Enable debug logging")
	f.StringVar(&c.LogFormat, "log-format", defaultLogFormat, "Log format: json or text. Can also use LOG_FORMAT env var.")
	f.StringVar(&c.GeminiAPIKey, "gemini-api-key", "", "Gemini API key. Can also use GEMINI_API_KEY env var.")
	f.StringVar(&c.GeminiModel, "gemini-model", "", "Gemini model name. Can also use GEMINI_MODEL env var.")
	f.StringVar(&c.ProjectID, "project", "", "Google Cloud project for Firestore and Firebase Auth. Can also use GOOGLE_CLOUD_PROJECT env var.")
	f.StringVar(&c.StoreType, "store", defaultStore, "Conversation store: firestore, sqlite or memory. Can also use URMINDR_STORE env var.")
	f.StringVar(&c.SQLitePath, "sqlite-path", "urmindr.db", "SQLite database path for --store=sqlite. Can also use URMINDR_SQLITE_PATH env var.")
	f.StringVar(&c.GoogleClientID, "google-client-id", "", "Google OAuth client id for delegated calendar access. Can also use GOOGLE_CLIENT_ID env var.")
	f.StringVar(&c.GoogleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	f.StringVar(&c.GoogleRedirectURL, "google-redirect-url", "http://localhost:5000/oauth2callback", "OAuth redirect URL registered with Google. Can also use GOOGLE_REDIRECT_URL env var.")
	f.StringVar(&c.FlowStoreType, "flow-store", FlowStoreMemory, "OAuth flow state store: memory or valkey. Can also use OAUTH_FLOW_STORE env var.")
	f.DurationVar(&c.FlowStateTTL, "flow-state-ttl", DefaultFlowStateTTL, "Lifetime of a pending authorization request")
	f.StringVar(&c.Valkey.Addr, "valkey-url", "", "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	f.StringVar(&c.Valkey.Password, "valkey-password", "", "Valkey authentication password. Can also use VALKEY_PASSWORD env var.")
	f.IntVar(&c.Valkey.DB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")
	f.StringVar(&c.Valkey.KeyPrefix, "valkey-key-prefix", "urmindr:", "Prefix for all Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	f.DurationVar(&c.CompletionTimeout, "completion-timeout", 60*time.Second, "Timeout for a single model call")
	f.DurationVar(&c.CalendarTimeout, "calendar-timeout", 30*time.Second, "Timeout for a single Calendar API call")
}

// loadEnvVars fills every flag that was not set explicitly from its
// environment variable.
func (c *commonConfig) loadEnvVars(cmd *cobra.Command) {
	envString(cmd, "log-format", "LOG_FORMAT", &c.LogFormat)
	envString(cmd, "gemini-api-key", "GEMINI_API_KEY", &c.GeminiAPIKey)
	envString(cmd, "gemini-model", "GEMINI_MODEL", &c.GeminiModel)
	envString(cmd, "project", "GOOGLE_CLOUD_PROJECT", &c.ProjectID)
	envString(cmd, "store", "URMINDR_STORE", &c.StoreType)
	envString(cmd, "sqlite-path", "URMINDR_SQLITE_PATH", &c.SQLitePath)
	envString(cmd, "google-client-id", "GOOGLE_CLIENT_ID", &c.GoogleClientID)
	envString(cmd, "google-client-secret", "GOOGLE_CLIENT_SECRET", &c.GoogleClientSecret)
	envString(cmd, "google-redirect-url", "GOOGLE_REDIRECT_URL", &c.GoogleRedirectURL)
	envString(cmd, "flow-store", "OAUTH_FLOW_STORE", &c.FlowStoreType)
	envString(cmd, "valkey-url", "VALKEY_URL", &c.Valkey.Addr)
	envString(cmd, "valkey-password", "VALKEY_PASSWORD", &c.Valkey.Password)
	envString(cmd, "valkey-key-prefix", "VALKEY_KEY_PREFIX", &c.Valkey.KeyPrefix)
	envInt(cmd, "valkey-db", "VALKEY_DB", &c.Valkey.DB)
}

// envString applies an environment variable only if the flag was not
// explicitly set.
func envString(cmd *cobra.Command, flag, env string, target *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}

func envInt(cmd *cobra.Command, flag, env string, target *int) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envFloat(cmd *cobra.Command, flag, env string, target *float64) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}

func envBool(cmd *cobra.Command, flag, env string, target *bool) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// openStore opens the configured conversation store and wraps it with
// store metrics.
func openStore(ctx context.Context, cfg *commonConfig, metrics *instrumentation.Metrics) (conversation.Store, error) {
	var (
		store conversation.Store
		err   error
	)
	switch strings.ToLower(cfg.StoreType) {
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("--project is required for the firestore store")
		}
		store, err = conversation.OpenFirestore(ctx, cfg.ProjectID)
	case StoreSQLite:
		store, err = conversation.OpenSQLite(cfg.SQLitePath)
	case StoreMemory:
		store = conversation.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported store type: %s (supported: firestore, sqlite, memory)", cfg.StoreType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreType, err)
	}
	return conversation.Instrument(store, strings.ToLower(cfg.StoreType), metrics), nil
}

// openFlowStore returns the flow-state store and, for Valkey, a readiness
// check.
func openFlowStore(cfg *commonConfig, logger *slog.Logger) (google.FlowStore, func(context.Context) error, error) {
	switch strings.ToLower(cfg.FlowStoreType) {
	case FlowStoreMemory, "":
		return google.NewMemoryFlowStore(logger), nil, nil
	case FlowStoreValkey:
		store, err := google.NewValkeyFlowStore(cfg.Valkey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to valkey: %w", err)
		}
		return store, store.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unsupported flow store type: %s (supported: memory, valkey)", cfg.FlowStoreType)
	}
}

// newOAuth builds the delegated-access OAuth client. Without a client id the
// result reports itself as not configured and authorization requests fail
// with google.ErrNotConfigured.
func newOAuth(cfg *commonConfig, metrics *instrumentation.Metrics, logger *slog.Logger) *google.OAuth {
	return google.NewOAuth(google.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}, google.WithMetrics(metrics), google.WithLogger(logger))
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
