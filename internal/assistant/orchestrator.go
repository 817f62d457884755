package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/completion"
	"github.com/teemow/urmindr/internal/conversation"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/logging"
	"github.com/teemow/urmindr/internal/tools"
)

// DefaultCompletionTimeout bounds a single model call.
const DefaultCompletionTimeout = 60 * time.Second

// PromptRequest is one inbound prompt from an authenticated subject.
type PromptRequest struct {
	SubjectID      string
	ConversationID string
	Prompt         string
	Credential     *google.Credential
}

// Reply is the outcome of a prompt.
type Reply struct {
	ConversationID   string                `json:"conversation_id"`
	Response         string                `json:"response"`
	Event            *calendar.EventRecord `json:"event,omitempty"`
	AuthorizationURL string                `json:"authorization_url,omitempty"`
	ErrorMessage     string                `json:"error,omitempty"`
	Credential       *google.Credential    `json:"calendar_token,omitempty"`

	State tools.State `json:"-"`
	// Err is set when tool resolution failed.
	Err *Error `json:"-"`
}

// Resolver turns a completion response into a terminal tool result.
type Resolver interface {
	Resolve(ctx context.Context, resp *completion.Response, inv tools.Invocation) tools.Result
}

// UserContextFunc returns free-form context about a subject for the
// system instruction.
type UserContextFunc func(ctx context.Context, subjectID string) string

// Orchestrator handles prompts.
type Orchestrator struct {
	store             conversation.Store
	client            completion.Client
	resolver          Resolver
	catalog           *tools.Catalog
	completionTimeout time.Duration
	userContext       UserContextFunc
	now               func() time.Time
	logger            *slog.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCompletionTimeout bounds each model call.
func WithCompletionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.completionTimeout = d
		}
	}
}

// WithCatalog overrides the tool catalog offered to the model.
func WithCatalog(c *tools.Catalog) Option {
	return func(o *Orchestrator) { o.catalog = c }
}

// WithUserContext adds per-subject context to the system instruction.
func WithUserContext(f UserContextFunc) Option {
	return func(o *Orchestrator) { o.userContext = f }
}

// WithClock overrides the time used in the system instruction.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an Orchestrator.
func New(store conversation.Store, client completion.Client, resolver Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:             store,
		client:            client,
		resolver:          resolver,
		catalog:           tools.DefaultCatalog(),
		completionTimeout: DefaultCompletionTimeout,
		now:               time.Now,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandlePrompt runs one prompt through the conversation. Store failures
// before the model call abort the request. A failure to record the agent
// turn is logged and does not fail the request.
func (o *Orchestrator) HandlePrompt(ctx context.Context, req PromptRequest) (*Reply, error) {
	if req.SubjectID == "" {
		return nil, newError(KindAuthentication, "Unauthorized", nil)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, newError(KindValidation, "Missing 'prompt' in request body", nil)
	}

	logger := logging.WithOperation(o.logger, "assistant.handle_prompt").With(logging.SubjectHash(req.SubjectID))

	convID, err := o.store.GetOrCreateConversation(ctx, req.SubjectID, req.ConversationID)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		return nil, newError(KindValidation, fmt.Sprintf("unknown conversation %q", req.ConversationID), err)
	}
	if err != nil {
		return nil, newError(KindStore, "failed to open conversation", err)
	}
	logger = logger.With(logging.Conversation(convID))

	// History is read before the user turn is stored so the prompt appears
	// exactly once in the model input.
	var history []conversation.Turn
	if req.ConversationID != "" {
		if history, err = o.store.ListTurns(ctx, req.SubjectID, convID); err != nil {
			return nil, newError(KindStore, "failed to load conversation history", err)
		}
	}

	if err := o.store.AppendTurn(ctx, req.SubjectID, convID, conversation.RoleUser, prompt); err != nil {
		return nil, newError(KindStore, "failed to record prompt", err)
	}

	completionReq := completion.Request{
		System:   o.systemInstruction(ctx, req.SubjectID),
		Messages: BuildMessages(history, prompt),
		Tools:    o.catalog.Declarations(),
	}

	callCtx, cancel := context.WithTimeout(ctx, o.completionTimeout)
	resp, err := o.client.Complete(callCtx, completionReq)
	cancel()
	if err != nil {
		logger.Error("completion failed", logging.Err(err))
		return nil, newError(KindUpstream, "completion failed", err)
	}

	res := o.resolver.Resolve(ctx, resp, tools.Invocation{
		SubjectID:      req.SubjectID,
		ConversationID: convID,
		Credential:     req.Credential,
	})

	if err := o.store.AppendTurn(ctx, req.SubjectID, convID, conversation.RoleAgent, res.Text); err != nil {
		logger.Warn("failed to record agent turn", logging.Err(err))
	}

	reply := &Reply{
		ConversationID:   convID,
		Response:         res.Text,
		Event:            res.Event,
		AuthorizationURL: res.AuthorizationURL,
		Credential:       res.Credential,
		State:            res.State,
	}
	if res.State == tools.StateFailed && res.Err != nil {
		reply.Err = classifyToolError(res.Err)
		reply.ErrorMessage = res.Err.Error()
	}

	logger.Info("prompt handled", slog.String("state", res.State.String()), logging.Tool(res.Tool))
	return reply, nil
}

func classifyToolError(err error) *Error {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return newError(KindUnknownTool, "", err)
	case errors.Is(err, tools.ErrInvalidArguments):
		return newError(KindValidation, "", err)
	default:
		return newError(KindUpstream, "", err)
	}
}

// Generate sends a single prompt to the model without history, tools or
// persistence.
func (o *Orchestrator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", newError(KindValidation, "Missing 'prompt' in request body", nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.completionTimeout)
	defer cancel()

	text, err := o.client.Generate(callCtx, prompt)
	if err != nil {
		return "", newError(KindUpstream, "completion failed", err)
	}
	return text, nil
}

// ListConversations returns every conversation of subjectID keyed by id.
func (o *Orchestrator) ListConversations(ctx context.Context, subjectID string) (map[string][]conversation.Turn, error) {
	if subjectID == "" {
		return nil, newError(KindAuthentication, "Unauthorized", nil)
	}
	convs, err := o.store.ListConversations(ctx, subjectID)
	if err != nil {
		return nil, newError(KindStore, "failed to list conversations", err)
	}

	out := make(map[string][]conversation.Turn, len(convs))
	for _, c := range convs {
		turns := c.Turns
		if turns == nil {
			turns = []conversation.Turn{}
		}
		out[c.ID] = turns
	}
	return out, nil
}

// BuildMessages replays history in order and appends the new prompt.
func BuildMessages(history []conversation.Turn, prompt string) []completion.Message {
	msgs := make([]completion.Message, 0, len(history)+1)
	for _, t := range history {
		role := completion.RoleUser
		if t.Role == conversation.RoleAgent {
			role = completion.RoleModel
		}
		msgs = append(msgs, completion.Message{Role: role, Text: t.Content})
	}
	return append(msgs, completion.Message{Role: completion.RoleUser, Text: prompt})
}
