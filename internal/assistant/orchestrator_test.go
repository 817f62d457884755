package assistant

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/completion"
	"github.com/teemow/urmindr/internal/conversation"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/tools"
)

type fakeCompletion struct {
	responses []*completion.Response
	err       error
	requests  []completion.Request
	deadline  bool
}

func (f *fakeCompletion) Complete(ctx context.Context, req completion.Request) (*completion.Response, error) {
	f.requests = append(f.requests, req)
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeCompletion) Generate(_ context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "generated: " + prompt, nil
}

type fakeCalendar struct {
	created []calendar.EventInput
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ *google.Credential, in calendar.EventInput) (*calendar.EventRecord, error) {
	f.created = append(f.created, in)
	return &calendar.EventRecord{ID: "evt", Summary: in.Summary, Start: in.Start, End: in.End}, nil
}

func (f *fakeCalendar) ListEvents(context.Context, *google.Credential, int64) ([]calendar.EventRecord, error) {
	return nil, nil
}

type fakeAuthorizer struct{}

func (fakeAuthorizer) AuthorizationURL(context.Context, string) (string, error) {
	return "https://accounts.example.com/consent", nil
}

// failingStore fails selected operations of an in-memory store.
type failingStore struct {
	*conversation.MemoryStore
	failCreate      bool
	failAgentAppend bool
	listCalls       int
}

func (s *failingStore) GetOrCreateConversation(ctx context.Context, subjectID, conversationID string) (string, error) {
	if s.failCreate {
		return "", errors.New("firestore unavailable")
	}
	return s.MemoryStore.GetOrCreateConversation(ctx, subjectID, conversationID)
}

func (s *failingStore) AppendTurn(ctx context.Context, subjectID, conversationID string, role conversation.Role, content string) error {
	if s.failAgentAppend && role == conversation.RoleAgent {
		return errors.New("write conflict")
	}
	return s.MemoryStore.AppendTurn(ctx, subjectID, conversationID, role, content)
}

func (s *failingStore) ListTurns(ctx context.Context, subjectID, conversationID string) ([]conversation.Turn, error) {
	s.listCalls++
	return s.MemoryStore.ListTurns(ctx, subjectID, conversationID)
}

func text(s string) *completion.Response {
	return &completion.Response{Text: s}
}

func newTestOrchestrator(store conversation.Store, client completion.Client, cal calendar.Service) *Orchestrator {
	resolver := tools.NewResolver(cal, tools.WithAuthorizer(fakeAuthorizer{}))
	return New(store, client, resolver,
		WithClock(func() time.Time { return time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC) }))
}

func TestHandlePrompt_NewConversation(t *testing.T) {
	store := conversation.NewMemoryStore()
	client := &fakeCompletion{responses: []*completion.Response{text("Hello there!")}}
	o := newTestOrchestrator(store, client, &fakeCalendar{})
	ctx := context.Background()

	reply, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, reply.ConversationID)
	assert.Equal(t, "Hello there! Quack.", reply.Response)
	assert.Equal(t, tools.StateNoCall, reply.State)
	assert.Nil(t, reply.Err)

	turns, err := store.ListTurns(ctx, "alice", reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, conversation.Turn{Role: conversation.RoleUser, Content: "hi", Timestamp: turns[0].Timestamp}, turns[0])
	assert.Equal(t, conversation.RoleAgent, turns[1].Role)
	assert.Equal(t, "Hello there! Quack.", turns[1].Content)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, []completion.Message{{Role: completion.RoleUser, Text: "hi"}}, req.Messages)
	assert.Contains(t, req.System, "duck assistant")
	assert.Contains(t, req.System, "schedule_meeting, get_time")
	assert.Len(t, req.Tools, 2)
	assert.True(t, client.deadline, "completion runs under a timeout")
}

func TestHandlePrompt_ReuseConversation(t *testing.T) {
	store := conversation.NewMemoryStore()
	client := &fakeCompletion{responses: []*completion.Response{text("one"), text("two"), text("three")}}
	o := newTestOrchestrator(store, client, &fakeCalendar{})
	ctx := context.Background()

	first, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "first"})
	require.NoError(t, err)
	before, err := store.ListTurns(ctx, "alice", first.ConversationID)
	require.NoError(t, err)

	for i, prompt := range []string{"second", "third"} {
		reply, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", ConversationID: first.ConversationID, Prompt: prompt})
		require.NoError(t, err)
		assert.Equal(t, first.ConversationID, reply.ConversationID)

		turns, err := store.ListTurns(ctx, "alice", first.ConversationID)
		require.NoError(t, err)
		assert.Len(t, turns, 2*(i+2))
		assert.Equal(t, before, turns[:len(before)], "prior turns are untouched")
	}

	// The third call sees the full history in order, followed by the prompt.
	last := client.requests[2].Messages
	want := []completion.Message{
		{Role: completion.RoleUser, Text: "first"},
		{Role: completion.RoleModel, Text: "one Quack."},
		{Role: completion.RoleUser, Text: "second"},
		{Role: completion.RoleModel, Text: "two Quack."},
		{Role: completion.RoleUser, Text: "third"},
	}
	assert.Equal(t, want, last)
}

func TestHandlePrompt_ScheduleMeeting(t *testing.T) {
	store := conversation.NewMemoryStore()
	cal := &fakeCalendar{}
	client := &fakeCompletion{responses: []*completion.Response{{
		Calls: []completion.FunctionCall{{Name: "schedule_meeting", Args: map[string]any{
			"date": "2025-12-25", "time": "14:00", "topic": "Xmas",
		}}},
	}}}
	o := newTestOrchestrator(store, client, cal)

	reply, err := o.HandlePrompt(context.Background(), PromptRequest{
		SubjectID:  "alice",
		Prompt:     "book xmas call",
		Credential: &google.Credential{AccessToken: "access"},
	})
	require.NoError(t, err)
	assert.Equal(t, tools.StateExecuted, reply.State)
	require.NotNil(t, reply.Event)
	assert.Equal(t, time.Date(2025, 12, 25, 15, 0, 0, 0, time.UTC), reply.Event.End)
	assert.Len(t, cal.created, 1)
}

func TestHandlePrompt_NeedsAuthorization(t *testing.T) {
	store := conversation.NewMemoryStore()
	client := &fakeCompletion{responses: []*completion.Response{{
		Calls: []completion.FunctionCall{{Name: "schedule_meeting", Args: map[string]any{"date": "2025-12-25", "time": "14:00"}}},
	}}}
	o := newTestOrchestrator(store, client, &fakeCalendar{})
	ctx := context.Background()

	reply, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "book"})
	require.NoError(t, err)
	assert.Equal(t, tools.StateNeedsAuthorization, reply.State)
	assert.Equal(t, "https://accounts.example.com/consent", reply.AuthorizationURL)

	turns, err := store.ListTurns(ctx, "alice", reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.NotContains(t, turns[1].Content, "https://")
}

func TestHandlePrompt_UnknownTool(t *testing.T) {
	store := conversation.NewMemoryStore()
	cal := &fakeCalendar{}
	client := &fakeCompletion{responses: []*completion.Response{{
		Calls: []completion.FunctionCall{{Name: "launch_rocket"}},
	}}}
	o := newTestOrchestrator(store, client, cal)
	ctx := context.Background()

	reply, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "launch"})
	require.NoError(t, err)
	assert.Equal(t, tools.StateFailed, reply.State)
	require.NotNil(t, reply.Err)
	assert.Equal(t, KindUnknownTool, reply.Err.Kind)
	assert.Contains(t, reply.ErrorMessage, "launch_rocket")
	assert.Empty(t, cal.created)

	turns, err := store.ListTurns(ctx, "alice", reply.ConversationID)
	require.NoError(t, err)
	assert.Len(t, turns, 2, "conversation still progresses")
}

func TestHandlePrompt_Validation(t *testing.T) {
	store := &failingStore{MemoryStore: conversation.NewMemoryStore()}
	client := &fakeCompletion{responses: []*completion.Response{text("x")}}
	o := newTestOrchestrator(store, client, &fakeCalendar{})
	ctx := context.Background()

	_, err := o.HandlePrompt(ctx, PromptRequest{Prompt: "hi"})
	assert.Equal(t, KindAuthentication, KindOf(err))

	_, err = o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "   "})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", ConversationID: "nope", Prompt: "hi"})
	assert.Equal(t, KindValidation, KindOf(err))
	assert.ErrorIs(t, err, conversation.ErrConversationNotFound)

	assert.Empty(t, client.requests, "nothing reaches the model")
}

func TestHandlePrompt_StoreFailureAbortsBeforeCompletion(t *testing.T) {
	store := &failingStore{MemoryStore: conversation.NewMemoryStore(), failCreate: true}
	client := &fakeCompletion{responses: []*completion.Response{text("x")}}
	o := newTestOrchestrator(store, client, &fakeCalendar{})

	_, err := o.HandlePrompt(context.Background(), PromptRequest{SubjectID: "alice", Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, KindOf(err).HTTPStatus())
	assert.Empty(t, client.requests)
}

func TestHandlePrompt_AgentAppendIsBestEffort(t *testing.T) {
	store := &failingStore{MemoryStore: conversation.NewMemoryStore(), failAgentAppend: true}
	client := &fakeCompletion{responses: []*completion.Response{text("hello")}}
	o := newTestOrchestrator(store, client, &fakeCalendar{})
	ctx := context.Background()

	reply, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello Quack.", reply.Response)
	assert.Zero(t, store.listCalls, "new conversations have no history to load")
}

func TestHandlePrompt_CompletionFailure(t *testing.T) {
	store := conversation.NewMemoryStore()
	client := &fakeCompletion{err: errors.New("503 model overloaded")}
	o := newTestOrchestrator(store, client, &fakeCalendar{})
	ctx := context.Background()

	_, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Len(t, client.requests, 1, "no retry")
}

func TestGenerate(t *testing.T) {
	client := &fakeCompletion{}
	o := newTestOrchestrator(conversation.NewMemoryStore(), client, &fakeCalendar{})

	out, err := o.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "generated: hello", out)

	_, err = o.Generate(context.Background(), "")
	assert.Equal(t, KindValidation, KindOf(err))

	client.err = errors.New("boom")
	_, err = o.Generate(context.Background(), "hello")
	assert.Equal(t, KindUpstream, KindOf(err))
}

func TestListConversations(t *testing.T) {
	store := conversation.NewMemoryStore()
	client := &fakeCompletion{responses: []*completion.Response{text("a")}}
	o := newTestOrchestrator(store, client, &fakeCalendar{})
	ctx := context.Background()

	reply, err := o.HandlePrompt(ctx, PromptRequest{SubjectID: "alice", Prompt: "hi"})
	require.NoError(t, err)
	empty, err := store.GetOrCreateConversation(ctx, "alice", "")
	require.NoError(t, err)

	convs, err := o.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Len(t, convs[reply.ConversationID], 2)
	assert.NotNil(t, convs[empty])
	assert.Empty(t, convs[empty])

	_, err = o.ListConversations(ctx, "")
	assert.Equal(t, KindAuthentication, KindOf(err))
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, KindValidation.HTTPStatus())
	assert.Equal(t, http.StatusUnauthorized, KindAuthentication.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindUpstream.HTTPStatus())
	assert.Equal(t, http.StatusOK, KindUnknownTool.HTTPStatus())
	assert.Equal(t, KindUpstream, KindOf(errors.New("plain")))

	err := newError(KindStore, "failed to record prompt", errors.New("disk full"))
	assert.Equal(t, "failed to record prompt: disk full", err.Error())
	assert.Equal(t, "disk full", newError(KindUpstream, "", errors.New("disk full")).Error())
}
