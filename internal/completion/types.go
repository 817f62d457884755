package completion

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced neither text nor a
// function call, for example because every candidate was blocked.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Role of a message in the model's vocabulary.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	Role Role
	Text string
}

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamString      ParamType = "string"
	ParamStringArray ParamType = "array"
)

// Parameter describes one named tool argument.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// ToolDeclaration is a tool the model may call.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// FunctionCall is a structured tool invocation produced by the model.
type FunctionCall struct {
	Name string
	Args map[string]any
}

// Request is one completion call.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDeclaration
}

// Response is the model's answer.
type Response struct {
	Text  string
	Calls []FunctionCall
}

// FirstCall returns the first function call, or nil.
func (r *Response) FirstCall() *FunctionCall {
	if r == nil || len(r.Calls) == 0 {
		return nil
	}
	return &r.Calls[0]
}

// Client produces completions.
type Client interface {
	// Complete sends a multi-turn request with tools.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Generate sends a single prompt without history or tools.
	Generate(ctx context.Context, prompt string) (string, error)
}
