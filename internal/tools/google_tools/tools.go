package google_tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/server"
	"github.com/teemow/urmindr/internal/tools/common"
)

// Tool names.
const (
	NameGetAuthURL   = "google_get_auth_url"
	NameSaveAuthCode = "google_save_auth_code"
)

// RegisterGoogleTools registers the consent flow tools. A nil authorizer
// registers nothing.
func RegisterGoogleTools(s *mcpserver.MCPServer, sc *server.ServerContext, authorizer server.Authorizer, subjectID string) error {
	if authorizer == nil {
		return nil
	}
	if subjectID == "" {
		return errors.New("subject id is required")
	}

	getAuthURLTool := mcp.NewTool(NameGetAuthURL,
		mcp.WithDescription("Get the OAuth URL to grant access to your Google Calendar"),
	)
	s.AddTool(getAuthURLTool, common.InstrumentedToolHandler(NameGetAuthURL, subjectID, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetAuthURL(ctx, request, authorizer, subjectID)
		}))

	saveAuthCodeTool := mcp.NewTool(NameSaveAuthCode,
		mcp.WithDescription("Complete Google Calendar authorization with the state and code from the OAuth redirect"),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("The state parameter from the OAuth redirect"),
		),
		mcp.WithString("code",
			mcp.Required(),
			mcp.Description("The authorization code from the OAuth redirect"),
		),
	)
	s.AddTool(saveAuthCodeTool, common.InstrumentedToolHandler(NameSaveAuthCode, subjectID, sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleSaveAuthCode(ctx, request, authorizer, subjectID)
		}))

	return nil
}

func handleGetAuthURL(ctx context.Context, _ mcp.CallToolRequest, authorizer server.Authorizer, subjectID string) (*mcp.CallToolResult, error) {
	authURL, err := authorizer.AuthorizationURL(ctx, subjectID)
	if errors.Is(err, google.ErrNotConfigured) {
		return mcp.NewToolResultError("Google Calendar authorization is not configured on this server"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create authorization URL: %v", err)), nil
	}

	result := fmt.Sprintf(`To grant access to your Google Calendar:

1. Visit this URL in your browser:
   %s

2. Sign in and allow calendar access
3. Copy the "state" and "code" parameters from the page you are redirected to
4. Provide them to the %s tool`, authURL, NameSaveAuthCode)

	return mcp.NewToolResultText(result), nil
}

func handleSaveAuthCode(ctx context.Context, request mcp.CallToolRequest, authorizer server.Authorizer, subjectID string) (*mcp.CallToolResult, error) {
	state := request.GetString("state", "")
	code := request.GetString("code", "")
	if state == "" || code == "" {
		return mcp.NewToolResultError("state and code are required"), nil
	}

	subject, cred, err := authorizer.Complete(ctx, state, code)
	if errors.Is(err, google.ErrFlowStateNotFound) {
		return mcp.NewToolResultError("Unknown or expired authorization state. Request a new URL with " + NameGetAuthURL), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete authorization: %v", err)), nil
	}
	if subject != subjectID {
		return mcp.NewToolResultError("Authorization state belongs to another subject"), nil
	}

	data, err := json.MarshalIndent(map[string]any{"calendar_token": cred}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
