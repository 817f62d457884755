package calendar_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/completion"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/server"
	"github.com/teemow/urmindr/internal/tools"
	"github.com/teemow/urmindr/internal/tools/common"
)

// NameListEvents is the MCP-only tool listing upcoming events.
const NameListEvents = "list_events"

// Credential argument names.
const (
	argAccessToken  = "access_token"
	argRefreshToken = "refresh_token"
	argExpiry       = "expiry"
	argMaxResults   = "max_results"
)

// Resolver resolves a function call into a terminal result.
type Resolver interface {
	Resolve(ctx context.Context, resp *completion.Response, inv tools.Invocation) tools.Result
}

// Config wires the tools to their collaborators.
type Config struct {
	Resolver Resolver
	Calendar calendar.Service
	Catalog  *tools.Catalog
	// SubjectID is the subject authorization flows are bound to.
	SubjectID       string
	CalendarTimeout time.Duration
}

// RegisterCalendarTools registers every catalog tool plus list_events.
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext, cfg Config) error {
	if cfg.Resolver == nil {
		return errors.New("resolver is required")
	}
	if cfg.Calendar == nil {
		return errors.New("calendar service is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = tools.DefaultCatalog()
	}
	if cfg.CalendarTimeout <= 0 {
		cfg.CalendarTimeout = tools.DefaultCalendarTimeout
	}

	for _, decl := range cfg.Catalog.Declarations() {
		kind := tools.ParseKind(decl.Name)
		if kind == tools.KindUnknown {
			return fmt.Errorf("catalog tool %q has no handler", decl.Name)
		}
		// The resolver records metrics and audit entries for catalog tools.
		s.AddTool(catalogTool(decl, kind), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCatalogTool(ctx, request, decl.Name, cfg)
		})
	}

	s.AddTool(listEventsTool(), common.InstrumentedToolHandler(NameListEvents, cfg.SubjectID, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListEvents(ctx, request, cfg)
		}))
	return nil
}

// catalogTool converts a model tool declaration into an MCP tool.
func catalogTool(decl completion.ToolDeclaration, kind tools.Kind) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(decl.Description)}
	for _, p := range decl.Parameters {
		popts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			popts = append(popts, mcp.Required())
		}
		switch p.Type {
		case completion.ParamStringArray:
			opts = append(opts, mcp.WithArray(p.Name, append(popts, mcp.WithStringItems())...))
		default:
			opts = append(opts, mcp.WithString(p.Name, popts...))
		}
	}
	if kind.NeedsDelegatedAccess() {
		opts = append(opts, credentialOptions(false)...)
	}
	return mcp.NewTool(decl.Name, opts...)
}

func credentialOptions(required bool) []mcp.ToolOption {
	access := []mcp.PropertyOption{mcp.Description("Google OAuth access token with calendar scope")}
	if required {
		access = append(access, mcp.Required())
	}
	return []mcp.ToolOption{
		mcp.WithString(argAccessToken, access...),
		mcp.WithString(argRefreshToken, mcp.Description("Google OAuth refresh token, used when the access token expired")),
		mcp.WithString(argExpiry, mcp.Description("Access token expiry (RFC3339)")),
	}
}

func listEventsTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("List upcoming events of the primary Google Calendar"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber(argMaxResults,
			mcp.Description(fmt.Sprintf("Maximum number of events (default: %d)", calendar.DefaultListLimit)),
		),
	}
	return mcp.NewTool(NameListEvents, append(opts, credentialOptions(true)...)...)
}

// credentialFromArgs builds the delegated credential; nil when no access
// token was given.
func credentialFromArgs(args map[string]any) (*google.Credential, error) {
	access, _ := args[argAccessToken].(string)
	if access == "" {
		return nil, nil
	}
	cred := &google.Credential{AccessToken: access}
	cred.RefreshToken, _ = args[argRefreshToken].(string)
	if raw, _ := args[argExpiry].(string); raw != "" {
		expiry, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", argExpiry, err)
		}
		cred.Expiry = expiry
	}
	return cred, nil
}

// callArgs strips credential arguments so they never reach the tool itself.
func callArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch k {
		case argAccessToken, argRefreshToken, argExpiry:
			continue
		}
		out[k] = v
	}
	return out
}

type toolReply struct {
	Response         string                `json:"response"`
	Event            *calendar.EventRecord `json:"event,omitempty"`
	AuthorizationURL string                `json:"authorization_url,omitempty"`
	Credential       *google.Credential    `json:"calendar_token,omitempty"`
}

func handleCatalogTool(ctx context.Context, request mcp.CallToolRequest, name string, cfg Config) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	cred, err := credentialFromArgs(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := cfg.Resolver.Resolve(ctx, &completion.Response{
		Calls: []completion.FunctionCall{{Name: name, Args: callArgs(args)}},
	}, tools.Invocation{SubjectID: cfg.SubjectID, Credential: cred})

	if res.State == tools.StateFailed {
		msg := res.Text
		if res.Err != nil {
			msg = fmt.Sprintf("%s (%v)", res.Text, res.Err)
		}
		return mcp.NewToolResultError(msg), nil
	}

	return jsonResult(toolReply{
		Response:         res.Text,
		Event:            res.Event,
		AuthorizationURL: res.AuthorizationURL,
		Credential:       res.Credential,
	})
}

func handleListEvents(ctx context.Context, request mcp.CallToolRequest, cfg Config) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	cred, err := credentialFromArgs(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if cred == nil {
		return mcp.NewToolResultError(argAccessToken + " is required"), nil
	}

	maxResults := int64(calendar.DefaultListLimit)
	if v, ok := args[argMaxResults].(float64); ok && v > 0 {
		maxResults = int64(v)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.CalendarTimeout)
	defer cancel()

	events, err := cfg.Calendar.ListEvents(callCtx, cred, maxResults)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
	}
	if events == nil {
		events = []calendar.EventRecord{}
	}
	return jsonResult(map[string]any{"events": events})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
