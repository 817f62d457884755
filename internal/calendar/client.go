package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/instrumentation"
)

// PrimaryCalendar is the calendar all events are written to.
const PrimaryCalendar = "primary"

// DefaultListLimit is the number of upcoming events returned when the
// caller does not ask for a specific count.
const DefaultListLimit = 15

// Service is the calendar capability the assistant depends on.
type Service interface {
	CreateEvent(ctx context.Context, cred *google.Credential, input EventInput) (*EventRecord, error)
	ListEvents(ctx context.Context, cred *google.Credential, maxResults int64) ([]EventRecord, error)
}

// Client talks to Google Calendar v3.
type Client struct {
	httpClient *http.Client
	endpoint   string
	metrics    *instrumentation.Metrics
	now        func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient sets the base transport under the OAuth2 transport.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithEndpoint overrides the Calendar API base URL.
func WithEndpoint(endpoint string) Option {
	return func(cl *Client) { cl.endpoint = endpoint }
}

// WithMetrics records Google API operation metrics.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(cl *Client) { cl.metrics = m }
}

// NewClient creates a Calendar client.
func NewClient(opts ...Option) *Client {
	c := &Client{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// service builds a Calendar service authorized with cred.
func (c *Client) service(ctx context.Context, cred *google.Credential) (*calendar.Service, error) {
	if cred == nil || cred.AccessToken == "" {
		return nil, google.ErrNoCredential
	}

	baseCtx := ctx
	if c.httpClient != nil {
		baseCtx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	// Static source: refreshing is the caller's job so the refreshed
	// credential can be handed back to the user.
	httpClient := oauth2.NewClient(baseCtx, oauth2.StaticTokenSource(cred.Token()))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// CreateEvent creates a timed event on the primary calendar. Times are sent
// in UTC.
func (c *Client) CreateEvent(ctx context.Context, cred *google.Credential, input EventInput) (record *EventRecord, err error) {
	if input.Summary == "" {
		return nil, errors.New("event summary is required")
	}
	if !input.End.After(input.Start) {
		return nil, errors.New("event end must be after start")
	}

	ctx, span := instrumentation.StartClientSpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationCreate)
	start := time.Now()
	defer func() {
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationCreate,
			instrumentation.StatusFor(err), time.Since(start))
		instrumentation.EndSpan(span, err)
	}()

	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Start: &calendar.EventDateTime{
			DateTime: input.Start.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
		End: &calendar.EventDateTime{
			DateTime: input.End.UTC().Format(time.RFC3339),
			TimeZone: "UTC",
		},
	}
	for _, email := range input.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := svc.Events.Insert(PrimaryCalendar, event).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	r := toEventRecord(created)
	return &r, nil
}

// ListEvents returns upcoming single events from now, ordered by start time.
func (c *Client) ListEvents(ctx context.Context, cred *google.Credential, maxResults int64) (records []EventRecord, err error) {
	if maxResults <= 0 {
		maxResults = DefaultListLimit
	}

	ctx, span := instrumentation.StartClientSpan(ctx, instrumentation.ServiceCalendar, instrumentation.OperationList)
	start := time.Now()
	defer func() {
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, instrumentation.OperationList,
			instrumentation.StatusFor(err), time.Since(start))
		instrumentation.EndSpan(span, err)
	}()

	svc, err := c.service(ctx, cred)
	if err != nil {
		return nil, err
	}

	events, err := svc.Events.List(PrimaryCalendar).
		TimeMin(c.now().UTC().Format(time.RFC3339)).
		MaxResults(maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	records = make([]EventRecord, 0, len(events.Items))
	for _, event := range events.Items {
		records = append(records, toEventRecord(event))
	}
	return records, nil
}
