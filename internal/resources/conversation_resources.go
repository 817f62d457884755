package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/urmindr/internal/conversation"
)

const (
	conversationsURI    = "urmindr://conversations"
	conversationsPrefix = conversationsURI + "/"
)

// conversationSummary is one entry of the conversation listing.
type conversationSummary struct {
	ID        string `json:"conversation_id"`
	StartTime string `json:"start_time"`
	Turns     int    `json:"turns"`
}

// RegisterConversationResources registers the conversation resources for
// subjectID.
func RegisterConversationResources(s *mcpserver.MCPServer, store conversation.Store, subjectID string) error {
	if store == nil {
		return errors.New("conversation store is required")
	}
	if subjectID == "" {
		return errors.New("subject id is required")
	}

	listResource := mcp.NewResource(
		conversationsURI,
		"Conversations",
		mcp.WithResourceDescription("Every conversation with the assistant, newest last"),
		mcp.WithMIMEType("application/json"),
	)
	s.AddResource(listResource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleListConversations(ctx, request, store, subjectID)
	})

	turnsTemplate := mcp.NewResourceTemplate(
		conversationsPrefix+"{id}",
		"Conversation turns",
		mcp.WithTemplateDescription("The ordered turns of one conversation"),
		mcp.WithTemplateMIMEType("application/json"),
	)
	s.AddResourceTemplate(turnsTemplate, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleConversationTurns(ctx, request, store, subjectID)
	})

	return nil
}

func handleListConversations(ctx context.Context, request mcp.ReadResourceRequest, store conversation.Store, subjectID string) ([]mcp.ResourceContents, error) {
	convs, err := store.ListConversations(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]conversationSummary, 0, len(convs))
	for _, c := range convs {
		summaries = append(summaries, conversationSummary{
			ID:        c.ID,
			StartTime: c.StartTime.UTC().Format(time.RFC3339),
			Turns:     len(c.Turns),
		})
	}
	return jsonContents(request.Params.URI, summaries)
}

func handleConversationTurns(ctx context.Context, request mcp.ReadResourceRequest, store conversation.Store, subjectID string) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(request.Params.URI, conversationsPrefix)
	if id == "" || id == request.Params.URI || strings.Contains(id, "/") {
		return nil, fmt.Errorf("invalid conversation resource URI: %s", request.Params.URI)
	}

	turns, err := store.ListTurns(ctx, subjectID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation %s: %w", id, err)
	}
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return jsonContents(request.Params.URI, turns)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
