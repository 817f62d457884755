package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/conversation"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/server"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for the tools served by "urmindr mcp".
The tools are registered exactly as the mcp command registers them, so the
output always matches the running server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			markdown, err := renderToolDocs()
			if err != nil {
				return err
			}
			if outputFile == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), markdown)
				return err
			}
			if err := os.WriteFile(outputFile, []byte(markdown), 0o644); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Documentation written to: %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// renderToolDocs registers every MCP tool against offline collaborators and
// renders their definitions. No handler runs, so no credentials are needed.
func renderToolDocs() (string, error) {
	serverContext := server.NewServerContext(context.Background(), nil, nil, nil)
	defer func() {
		_ = serverContext.Shutdown()
	}()

	flows := google.NewMemoryFlowStore(serverContext.Logger())
	defer func() {
		_ = flows.Close()
	}()
	oauth := google.NewOAuth(google.OAuthConfig{})

	mcpSrv := newMCPServer()
	if err := registerAllTools(mcpSrv, serverContext, mcpDependencies{
		Store:      conversation.NewMemoryStore(),
		Calendar:   calendar.NewClient(),
		OAuth:      oauth,
		Authorizer: google.NewAuthorizer(oauth, flows, DefaultFlowStateTTL),
		Subject:    DefaultMCPSubject,
	}); err != nil {
		return "", err
	}

	registered := mcpSrv.ListTools()
	tools := make([]mcp.Tool, 0, len(registered))
	for _, serverTool := range registered {
		tools = append(tools, serverTool.Tool)
	}
	return generateToolsMarkdown(tools), nil
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("Tools available when running `urmindr mcp`. Generated from the tool definitions.\n\n")

	byCategory := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := toolCategory(tool.Name)
		byCategory[category] = append(byCategory[category], tool)
	}
	categories := slices.Sorted(maps.Keys(byCategory))

	sb.WriteString("## Table of Contents\n\n")
	for _, category := range categories {
		fmt.Fprintf(&sb, "- [%s](#%s)\n", category, strings.ToLower(strings.ReplaceAll(category, " ", "-")))
	}
	sb.WriteString("\n")

	sb.WriteString("## Delegated Credentials\n\n")
	sb.WriteString("Calendar tools act on the caller's Google Calendar with a delegated OAuth credential passed as arguments:\n\n")
	sb.WriteString("- `access_token`: Google OAuth access token with calendar scope\n")
	sb.WriteString("- `refresh_token` and `expiry`: optional; an expired token is refreshed and the new credential is returned as `calendar_token`\n\n")
	sb.WriteString("Without a credential, tools that need calendar access return an authorization URL.\n\n")

	for _, category := range categories {
		group := byCategory[category]
		slices.SortFunc(group, func(a, b mcp.Tool) int { return strings.Compare(a.Name, b.Name) })

		fmt.Fprintf(&sb, "## %s\n\n", category)
		for _, tool := range group {
			writeToolMarkdown(&sb, tool)
		}
	}

	return sb.String()
}

func toolCategory(name string) string {
	prefix, _, _ := strings.Cut(name, "_")
	switch prefix {
	case "google":
		return "Google Authorization Tools"
	case "schedule", "list":
		return "Calendar Tools"
	default:
		return "Assistant Tools"
	}
}

func writeToolMarkdown(sb *strings.Builder, tool mcp.Tool) {
	fmt.Fprintf(sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(sb, "%s\n\n", tool.Description)
	}

	props := tool.InputSchema.Properties
	if len(props) == 0 {
		return
	}

	sb.WriteString("**Arguments:**\n")
	for _, name := range slices.Sorted(maps.Keys(props)) {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		presence := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			presence = "required"
		}
		desc, _ := prop["description"].(string)
		if desc == "" {
			propType, _ := prop["type"].(string)
			if propType == "" {
				propType = "any"
			}
			desc = propType + " parameter"
		}
		fmt.Fprintf(sb, "- `%s` (%s): %s\n", name, presence, desc)
	}
	sb.WriteString("\n")
}
