package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/teemow/urmindr/internal/instrumentation"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// GeminiConfig configures GeminiClient.
type GeminiConfig struct {
	APIKey string
	Model  string
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements Client with the Gemini API.
type GeminiClient struct {
	models  contentGenerator
	model   string
	metrics *instrumentation.Metrics
}

// NewGeminiClient creates a client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, metrics *instrumentation.Metrics) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiClient(client.Models, cfg.Model, metrics), nil
}

func newGeminiClient(models contentGenerator, model string, metrics *instrumentation.Metrics) *GeminiClient {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{models: models, model: model, metrics: metrics}
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		var role genai.Role = genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: functionDeclarations(req.Tools)}}
	}

	return c.generate(ctx, instrumentation.OperationCreate, contents, config)
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.generate(ctx, instrumentation.OperationGet,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (c *GeminiClient) generate(ctx context.Context, op string, contents []*genai.Content, config *genai.GenerateContentConfig) (resp *Response, err error) {
	ctx, span := instrumentation.StartClientSpan(ctx, instrumentation.ServiceGemini, op,
		attribute.String(instrumentation.SpanAttrModel, c.model))
	start := time.Now()
	defer func() {
		c.metrics.RecordCompletion(ctx, c.model, instrumentation.StatusFor(err), time.Since(start))
		instrumentation.EndSpan(span, err)
	}()

	out, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return parseResponse(out)
}

func parseResponse(out *genai.GenerateContentResponse) (*Response, error) {
	if out == nil || len(out.Candidates) == 0 || out.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	resp := &Response{}
	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.FunctionCall != nil {
			args := part.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			resp.Calls = append(resp.Calls, FunctionCall{Name: part.FunctionCall.Name, Args: args})
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	resp.Text = text.String()

	if resp.Text == "" && len(resp.Calls) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

func functionDeclarations(tools []ToolDeclaration) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		}
		if len(t.Parameters) > 0 {
			decl.Parameters = parameterSchema(t.Parameters)
		}
		decls = append(decls, decl)
	}
	return decls
}

func parameterSchema(params []Parameter) *genai.Schema {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(params)),
	}
	for _, p := range params {
		prop := &genai.Schema{Description: p.Description, Type: genai.TypeString}
		if p.Type == ParamStringArray {
			prop.Type = genai.TypeArray
			prop.Items = &genai.Schema{Type: genai.TypeString}
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return schema
}
