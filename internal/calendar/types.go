package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// EventInput is a new event on the primary calendar.
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// EventRecord is the caller-facing view of a calendar event.
type EventRecord struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	HTMLLink  string    `json:"html_link,omitempty"`
	Status    string    `json:"status,omitempty"`
	Attendees []string  `json:"attendees,omitempty"`
	MeetLink  string    `json:"meet_link,omitempty"`
}

// toEventRecord converts a Google Calendar event to an EventRecord
func toEventRecord(event *calendar.Event) EventRecord {
	if event == nil {
		return EventRecord{}
	}

	record := EventRecord{
		ID:       event.Id,
		Summary:  event.Summary,
		HTMLLink: event.HtmlLink,
		Status:   event.Status,
		MeetLink: event.HangoutLink,
		Start:    parseEventTime(event.Start),
		End:      parseEventTime(event.End),
	}

	for _, att := range event.Attendees {
		record.Attendees = append(record.Attendees, att.Email)
	}

	return record
}

// parseEventTime handles both timed and all-day events.
func parseEventTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t.UTC()
		}
	} else if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
