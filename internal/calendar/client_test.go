package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/teemow/urmindr/internal/google"
)

type recordedRequest struct {
	method string
	path   string
	auth   string
	query  map[string]string
	event  calendar.Event
}

func newCalendarServer(t *testing.T, status int, response any) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			query:  map[string]string{},
		}
		for k := range r.URL.Query() {
			rec.query[k] = r.URL.Query().Get(k)
		}
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&rec.event))
		}
		requests = append(requests, rec)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testClient(srv *httptest.Server) *Client {
	return NewClient(WithHTTPClient(srv.Client()), WithEndpoint(srv.URL+"/calendar/v3/"))
}

func TestClient_CreateEvent(t *testing.T) {
	srv, requests := newCalendarServer(t, http.StatusOK, map[string]any{
		"id":       "evt-1",
		"summary":  "Planning",
		"htmlLink": "https://calendar.google.com/event?eid=evt-1",
		"status":   "confirmed",
		"start":    map[string]string{"dateTime": "2025-12-25T14:00:00Z", "timeZone": "UTC"},
		"end":      map[string]string{"dateTime": "2025-12-25T15:00:00Z", "timeZone": "UTC"},
		"attendees": []map[string]string{
			{"email": "bob@example.com"},
		},
	})
	c := testClient(srv)

	start := time.Date(2025, 12, 25, 14, 0, 0, 0, time.UTC)
	record, err := c.CreateEvent(context.Background(), &google.Credential{AccessToken: "access-123"}, EventInput{
		Summary:   "Planning",
		Start:     start,
		End:       start.Add(time.Hour),
		Attendees: []string{"bob@example.com"},
	})
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/calendar/v3/calendars/primary/events", req.path)
	assert.Equal(t, "Bearer access-123", req.auth)
	assert.Equal(t, "Planning", req.event.Summary)
	assert.Equal(t, "2025-12-25T14:00:00Z", req.event.Start.DateTime)
	assert.Equal(t, "2025-12-25T15:00:00Z", req.event.End.DateTime)
	assert.Equal(t, "UTC", req.event.Start.TimeZone)
	require.Len(t, req.event.Attendees, 1)

	assert.Equal(t, "evt-1", record.ID)
	assert.Equal(t, start, record.Start)
	assert.Equal(t, start.Add(time.Hour), record.End)
	assert.Equal(t, "confirmed", record.Status)
	assert.Equal(t, []string{"bob@example.com"}, record.Attendees)
}

func TestClient_CreateEvent_Errors(t *testing.T) {
	srv, requests := newCalendarServer(t, http.StatusUnauthorized, map[string]any{
		"error": map[string]any{"code": 401, "message": "Invalid Credentials"},
	})
	c := testClient(srv)
	start := time.Date(2025, 12, 25, 14, 0, 0, 0, time.UTC)
	input := EventInput{Summary: "x", Start: start, End: start.Add(time.Hour)}

	_, err := c.CreateEvent(context.Background(), nil, input)
	assert.ErrorIs(t, err, google.ErrNoCredential)

	_, err = c.CreateEvent(context.Background(), &google.Credential{AccessToken: "a"}, EventInput{Summary: "x", Start: start, End: start})
	assert.Error(t, err)
	assert.Empty(t, *requests, "invalid input never reaches the API")

	_, err = c.CreateEvent(context.Background(), &google.Credential{AccessToken: "a"}, input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid Credentials")
}

func TestClient_ListEvents(t *testing.T) {
	srv, requests := newCalendarServer(t, http.StatusOK, map[string]any{
		"items": []map[string]any{
			{"id": "a", "summary": "Standup", "start": map[string]string{"dateTime": "2025-12-25T09:00:00+01:00"}},
			{"id": "b", "summary": "Holiday", "start": map[string]string{"date": "2025-12-26"}},
		},
	})
	c := testClient(srv)
	now := time.Date(2025, 12, 24, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	records, err := c.ListEvents(context.Background(), &google.Credential{AccessToken: "a"}, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, time.Date(2025, 12, 25, 8, 0, 0, 0, time.UTC), records[0].Start)
	assert.Equal(t, time.Date(2025, 12, 26, 0, 0, 0, 0, time.UTC), records[1].Start)

	req := (*requests)[0]
	assert.Equal(t, http.MethodGet, req.method)
	assert.Equal(t, "/calendar/v3/calendars/primary/events", req.path)
	assert.Equal(t, "2025-12-24T08:00:00Z", req.query["timeMin"])
	assert.Equal(t, "15", req.query["maxResults"])
	assert.Equal(t, "true", req.query["singleEvents"])
	assert.Equal(t, "startTime", req.query["orderBy"])
}

func TestToEventRecord(t *testing.T) {
	assert.Equal(t, EventRecord{}, toEventRecord(nil))

	record := toEventRecord(&calendar.Event{
		Id:          "x",
		HangoutLink: "https://meet.google.com/abc",
		Start:       &calendar.EventDateTime{DateTime: "not-a-time"},
	})
	assert.Equal(t, "x", record.ID)
	assert.Equal(t, "https://meet.google.com/abc", record.MeetLink)
	assert.True(t, record.Start.IsZero())
	assert.True(t, record.End.IsZero())
}
