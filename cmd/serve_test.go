package cmd

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/urmindr/internal/conversation"
	"github.com/teemow/urmindr/internal/logging"
	"github.com/teemow/urmindr/internal/server"
)

func TestParseCommaSeparatedList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single value", input: "https://urmindr.app", expected: []string{"https://urmindr.app"}},
		{name: "multiple values", input: "https://a.example,https://b.example", expected: []string{"https://a.example", "https://b.example"}},
		{name: "values with spaces around comma", input: "https://a.example, https://b.example", expected: []string{"https://a.example", "https://b.example"}},
		{name: "trailing comma", input: "https://a.example,", expected: []string{"https://a.example"}},
		{name: "multiple consecutive commas", input: "a,,b", expected: []string{"a", "b"}},
		{name: "only commas and spaces", input: ",  , , ", expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseCommaSeparatedList(tt.input))
		})
	}
}

func newTestServeCmd(t *testing.T, args ...string) (*cobra.Command, *serveConfig) {
	t.Helper()
	cfg := &serveConfig{}
	cmd := &cobra.Command{Use: "serve"}
	bindServeFlags(cmd, cfg)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, cfg
}

func TestServeDefaults(t *testing.T) {
	_, cfg := newTestServeCmd(t)

	assert.Equal(t, server.DefaultAddr, cfg.Addr)
	assert.Equal(t, StoreFirestore, cfg.StoreType)
	assert.Equal(t, VerifierFirebase, cfg.VerifierType)
	assert.Equal(t, FlowStoreMemory, cfg.FlowStoreType)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, DefaultFlowStateTTL, cfg.FlowStateTTL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, server.DefaultMetricsAddr, cfg.Metrics.Addr)
}

func TestServeEnvVars(t *testing.T) {
	t.Setenv("URMINDR_ADDR", ":7000")
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("URMINDR_STORE", "sqlite")
	t.Setenv("RATE_LIMIT", "2.5")
	t.Setenv("RATE_BURST", "7")
	t.Setenv("TRUST_PROXY", "true")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("VALKEY_DB", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://urmindr.app")

	cmd, cfg := newTestServeCmd(t)
	cfg.commonConfig.loadEnvVars(cmd)
	loadServeEnvVars(cmd, cfg)

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "key-from-env", cfg.GeminiAPIKey)
	assert.Equal(t, StoreSQLite, cfg.StoreType)
	assert.InDelta(t, 2.5, cfg.RateLimit, 0.0001)
	assert.Equal(t, 7, cfg.RateBurst)
	assert.True(t, cfg.TrustProxy)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 3, cfg.Valkey.DB)
	assert.Equal(t, []string{"https://urmindr.app"}, parseCommaSeparatedList(cfg.CORSOrigins))
}

func TestServeFlagsWinOverEnvVars(t *testing.T) {
	t.Setenv("URMINDR_ADDR", ":7000")
	t.Setenv("RATE_BURST", "7")
	t.Setenv("GEMINI_MODEL", "env-model")

	cmd, cfg := newTestServeCmd(t, "--addr", ":6000", "--rate-burst", "1", "--gemini-model", "flag-model")
	cfg.commonConfig.loadEnvVars(cmd)
	loadServeEnvVars(cmd, cfg)

	assert.Equal(t, ":6000", cfg.Addr)
	assert.Equal(t, 1, cfg.RateBurst)
	assert.Equal(t, "flag-model", cfg.GeminiModel)
}

func TestServeEnvVarsIgnoreMalformedNumbers(t *testing.T) {
	t.Setenv("RATE_LIMIT", "fast")
	t.Setenv("VALKEY_DB", "one")

	cmd, cfg := newTestServeCmd(t)
	cfg.commonConfig.loadEnvVars(cmd)
	loadServeEnvVars(cmd, cfg)

	assert.InDelta(t, server.DefaultRateLimit, cfg.RateLimit, 0.0001)
	assert.Equal(t, 0, cfg.Valkey.DB)
}

func TestNewVerifier(t *testing.T) {
	ctx := context.Background()

	t.Run("static", func(t *testing.T) {
		v, err := newVerifier(ctx, &serveConfig{VerifierType: VerifierStatic, StaticTokens: "alice-token=alice"})
		require.NoError(t, err)

		subject, err := v.Verify(ctx, "alice-token")
		require.NoError(t, err)
		assert.Equal(t, "alice", subject)
	})

	t.Run("static without tokens", func(t *testing.T) {
		_, err := newVerifier(ctx, &serveConfig{VerifierType: VerifierStatic})
		assert.ErrorContains(t, err, "--static-tokens")
	})

	t.Run("firebase without project", func(t *testing.T) {
		_, err := newVerifier(ctx, &serveConfig{VerifierType: VerifierFirebase})
		assert.ErrorContains(t, err, "--project")
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := newVerifier(ctx, &serveConfig{VerifierType: "ldap"})
		assert.ErrorContains(t, err, "unsupported verifier type")
	})
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := openStore(ctx, &commonConfig{StoreType: StoreMemory}, nil)
		require.NoError(t, err)
		defer func() { _ = store.Close() }()

		id, err := store.GetOrCreateConversation(ctx, "alice", "")
		require.NoError(t, err)
		require.NoError(t, store.AppendTurn(ctx, "alice", id, conversation.RoleUser, "hello"))

		turns, err := store.ListTurns(ctx, "alice", id)
		require.NoError(t, err)
		assert.Len(t, turns, 1)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "urmindr.db")
		store, err := openStore(ctx, &commonConfig{StoreType: "SQLite", SQLitePath: path}, nil)
		require.NoError(t, err)
		assert.NoError(t, store.Close())
	})

	t.Run("firestore without project", func(t *testing.T) {
		_, err := openStore(ctx, &commonConfig{StoreType: StoreFirestore}, nil)
		assert.ErrorContains(t, err, "--project")
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := openStore(ctx, &commonConfig{StoreType: "postgres"}, nil)
		assert.ErrorContains(t, err, "unsupported store type")
	})
}

func TestOpenFlowStore(t *testing.T) {
	logger := logging.NewLogger(io.Discard, "text", false)

	flows, check, err := openFlowStore(&commonConfig{FlowStoreType: FlowStoreMemory}, logger)
	require.NoError(t, err)
	assert.Nil(t, check)
	assert.NoError(t, flows.Close())

	_, _, err = openFlowStore(&commonConfig{FlowStoreType: FlowStoreValkey}, logger)
	assert.ErrorContains(t, err, "valkey")

	_, _, err = openFlowStore(&commonConfig{FlowStoreType: "redis-cluster"}, logger)
	assert.ErrorContains(t, err, "unsupported flow store type")
}
