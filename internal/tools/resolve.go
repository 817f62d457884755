package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/completion"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/instrumentation"
	"github.com/teemow/urmindr/internal/logging"
)

// PersonaSuffix is appended to every plain model reply.
const PersonaSuffix = " Quack."

// TimeLayout formats the get_time result.
const TimeLayout = "Monday, 02 January 2006 15:04:05 MST"

// DefaultCalendarTimeout bounds a single calendar call.
const DefaultCalendarTimeout = 30 * time.Second

// Agent-visible texts.
const (
	textMissingDateTime   = "I need a date and time to schedule the meeting." + PersonaSuffix
	textInvalidDateTime   = "I couldn't understand the date or time of the meeting. Please use a date like 2025-12-25 and a time like 14:00." + PersonaSuffix
	textNeedAuthorization = "I need to authorize with your Google Calendar first."
	textScheduled         = "I've scheduled a meeting about '%s'." + PersonaSuffix
)

var (
	// ErrUnknownTool marks a call to a tool outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments marks a call whose arguments failed validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrUpstream marks a failed call to an external service.
	ErrUpstream = errors.New("upstream service failed")
)

// State is the resolution state of a completion response.
type State int

const (
	StateNoCall State = iota
	StateCallRequested
	StateNeedsAuthorization
	StateExecuted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoCall:
		return "no_call"
	case StateCallRequested:
		return "call_requested"
	case StateNeedsAuthorization:
		return "needs_authorization"
	case StateExecuted:
		return "executed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s ends resolution.
func (s State) Terminal() bool {
	return s != StateCallRequested
}

// Result is a terminal resolution.
type Result struct {
	State State
	Kind  Kind
	// Tool is the name the model used, also for unknown tools.
	Tool string
	// Text is the agent-visible reply and the content persisted as the
	// agent turn.
	Text             string
	Event            *calendar.EventRecord
	AuthorizationURL string
	// Credential is set when the delegated credential was refreshed.
	Credential *google.Credential
	Err        error
}

// Invocation carries the per-request context of a resolution.
type Invocation struct {
	SubjectID      string
	ConversationID string
	Credential     *google.Credential
}

// CredentialRefresher refreshes a delegated credential close to expiry.
type CredentialRefresher interface {
	RefreshIfNeeded(ctx context.Context, cred *google.Credential) (*google.Credential, bool, error)
}

// AuthorizationURLProvider starts a delegated-consent flow for a subject.
type AuthorizationURLProvider interface {
	AuthorizationURL(ctx context.Context, subjectID string) (string, error)
}

// Resolver dispatches tool calls.
type Resolver struct {
	calendar        calendar.Service
	refresher       CredentialRefresher
	authorizer      AuthorizationURLProvider
	calendarTimeout time.Duration
	now             func() time.Time
	metrics         *instrumentation.Metrics
	audit           *instrumentation.AuditLogger
	logger          *slog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithRefresher sets the credential refresher. Without one, credentials are
// used as given.
func WithRefresher(r CredentialRefresher) Option {
	return func(res *Resolver) { res.refresher = r }
}

// WithAuthorizer sets the consent URL provider.
func WithAuthorizer(a AuthorizationURLProvider) Option {
	return func(res *Resolver) { res.authorizer = a }
}

// WithCalendarTimeout bounds each calendar call.
func WithCalendarTimeout(d time.Duration) Option {
	return func(res *Resolver) {
		if d > 0 {
			res.calendarTimeout = d
		}
	}
}

// WithClock overrides the time source used by get_time.
func WithClock(now func() time.Time) Option {
	return func(res *Resolver) { res.now = now }
}

// WithMetrics records tool invocation metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(res *Resolver) { res.metrics = m }
}

// WithAuditLogger records every dispatched call.
func WithAuditLogger(a *instrumentation.AuditLogger) Option {
	return func(res *Resolver) { res.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(res *Resolver) { res.logger = l }
}

// NewResolver creates a Resolver backed by cal.
func NewResolver(cal calendar.Service, opts ...Option) *Resolver {
	r := &Resolver{
		calendar:        cal,
		calendarTimeout: DefaultCalendarTimeout,
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve turns a completion response into a terminal Result. Only the first
// function call is dispatched.
func (r *Resolver) Resolve(ctx context.Context, resp *completion.Response, inv Invocation) Result {
	call := resp.FirstCall()
	if call == nil {
		text := ""
		if resp != nil {
			text = resp.Text
		}
		return Result{State: StateNoCall, Text: text + PersonaSuffix}
	}

	if len(resp.Calls) > 1 {
		r.logger.Debug("ignoring additional function calls",
			logging.Tool(call.Name), slog.Int("ignored", len(resp.Calls)-1))
	}

	kind := ParseKind(call.Name)
	if kind == KindUnknown {
		r.logger.Warn("model requested unknown tool", logging.Tool(call.Name))
		return Result{
			State: StateFailed,
			Kind:  KindUnknown,
			Tool:  call.Name,
			Text:  fmt.Sprintf("Unknown function call: %s", call.Name),
			Err:   fmt.Errorf("%w: %s", ErrUnknownTool, call.Name),
		}
	}

	return r.dispatch(ctx, kind, call.Args, inv)
}

// dispatch runs a call in state CallRequested until it reaches a terminal
// state, recording metrics, a span and an audit entry.
func (r *Resolver) dispatch(ctx context.Context, kind Kind, args map[string]any, inv Invocation) (res Result) {
	ctx, span := instrumentation.StartToolSpan(ctx, kind.String(),
		attribute.String(instrumentation.SpanAttrConversation, inv.ConversationID))
	invocation := instrumentation.NewToolInvocation(ctx, kind.String()).
		WithConversation(inv.SubjectID, inv.ConversationID)
	start := time.Now()

	defer func() {
		span.SetAttributes(attribute.String(instrumentation.SpanAttrOutcome, res.State.String()))
		instrumentation.EndSpan(span, res.Err)
		r.metrics.RecordToolInvocation(ctx, kind.String(), res.State.String(), time.Since(start))
		r.audit.LogToolInvocation(invocation.Complete(res.State.String(), res.Err))
	}()

	switch kind {
	case KindScheduleMeeting:
		res = r.scheduleMeeting(ctx, args, inv)
	case KindGetTime:
		res = r.getTime()
	}
	res.Kind = kind
	res.Tool = kind.String()
	return res
}

func (r *Resolver) getTime() Result {
	return Result{State: StateExecuted, Text: r.now().Format(TimeLayout)}
}

func (r *Resolver) scheduleMeeting(ctx context.Context, raw map[string]any, inv Invocation) Result {
	cred, refreshed, err := r.credential(ctx, inv.Credential)
	if err != nil {
		r.logger.Info("delegated calendar access required",
			logging.SubjectHash(inv.SubjectID), logging.Err(err))
		return r.needAuthorization(ctx, inv.SubjectID)
	}

	args, err := ParseScheduleMeetingArgs(raw)
	switch {
	case errors.Is(err, ErrMissingDateTime):
		return withRefreshed(Result{State: StateFailed, Text: textMissingDateTime, Err: fmt.Errorf("%w: %w", ErrInvalidArguments, err)}, cred, refreshed)
	case err != nil:
		return withRefreshed(Result{State: StateFailed, Text: textInvalidDateTime, Err: fmt.Errorf("%w: %w", ErrInvalidArguments, err)}, cred, refreshed)
	}

	emails, names := splitAttendees(args.Attendees)
	input := calendar.EventInput{
		Summary:   args.Topic,
		Start:     args.Start,
		End:       args.End,
		Attendees: emails,
	}
	if len(names) > 0 {
		input.Description = "Attendees: " + strings.Join(names, ", ")
	}

	callCtx, cancel := context.WithTimeout(ctx, r.calendarTimeout)
	defer cancel()

	event, err := r.calendar.CreateEvent(callCtx, cred, input)
	if err != nil {
		res := Result{
			State: StateFailed,
			Text:  fmt.Sprintf("Error creating event: %v", err),
			Err:   fmt.Errorf("%w: %w", ErrUpstream, err),
		}
		if refreshed {
			res.Credential = cred
		}
		return res
	}

	res := Result{
		State: StateExecuted,
		Text:  fmt.Sprintf(textScheduled, args.Topic),
		Event: event,
	}
	if refreshed {
		res.Credential = cred
	}
	return res
}

// credential returns a usable credential, refreshing it when needed.
func (r *Resolver) credential(ctx context.Context, cred *google.Credential) (*google.Credential, bool, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, false, google.ErrNoCredential
	}
	if r.refresher == nil {
		return cred, false, nil
	}
	return r.refresher.RefreshIfNeeded(ctx, cred)
}

func (r *Resolver) needAuthorization(ctx context.Context, subjectID string) Result {
	if r.authorizer == nil {
		return Result{
			State: StateFailed,
			Text:  "Calendar access is not configured on this server." + PersonaSuffix,
			Err:   fmt.Errorf("%w: %w", ErrUpstream, google.ErrNotConfigured),
		}
	}
	url, err := r.authorizer.AuthorizationURL(ctx, subjectID)
	if err != nil {
		return Result{
			State: StateFailed,
			Text:  "I couldn't start the Google Calendar authorization." + PersonaSuffix,
			Err:   fmt.Errorf("%w: %w", ErrUpstream, err),
		}
	}
	return Result{State: StateNeedsAuthorization, Text: textNeedAuthorization, AuthorizationURL: url}
}

func splitAttendees(attendees []string) (emails, names []string) {
	for _, a := range attendees {
		if strings.Contains(a, "@") {
			emails = append(emails, a)
		} else {
			names = append(names, a)
		}
	}
	return emails, names
}

// withRefreshed hands a refreshed credential back to the caller even when the
// call fails after the refresh.
func withRefreshed(res Result, cred *google.Credential, refreshed bool) Result {
	if refreshed {
		res.Credential = cred
	}
	return res
}
