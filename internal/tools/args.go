package tools

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MeetingDuration is the fixed length of a scheduled meeting.
const MeetingDuration = time.Hour

// DefaultTopic is used when the model gives no topic.
const DefaultTopic = "Meeting"

var (
	// ErrMissingDateTime is returned when date or time is absent.
	ErrMissingDateTime = errors.New("meeting date and time are required")

	// ErrInvalidDateTime is returned when date or time cannot be parsed.
	ErrInvalidDateTime = errors.New("invalid meeting date or time")
)

// ScheduleMeetingArgs are the typed arguments of schedule_meeting.
type ScheduleMeetingArgs struct {
	Topic     string
	Attendees []string
	Start     time.Time
	End       time.Time
}

var timeLayouts = []string{"15:04", "15:04:05", "3:04PM", "3:04 PM", "3PM", "3 PM"}

// ParseScheduleMeetingArgs validates the raw argument map. Date and time are
// interpreted in UTC.
func ParseScheduleMeetingArgs(args map[string]any) (*ScheduleMeetingArgs, error) {
	date := stringArg(args, "date")
	clock := stringArg(args, "time")
	if date == "" || clock == "" {
		return nil, ErrMissingDateTime
	}

	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q", ErrInvalidDateTime, date)
	}

	var tod time.Time
	parsed := false
	for _, layout := range timeLayouts {
		if tod, err = time.ParseInLocation(layout, strings.ToUpper(clock), time.UTC); err == nil {
			parsed = true
			break
		}
	}
	if !parsed {
		return nil, fmt.Errorf("%w: time %q", ErrInvalidDateTime, clock)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)

	topic := stringArg(args, "topic")
	if topic == "" {
		topic = DefaultTopic
	}

	attendees, err := parseStringOrArray(args["attendees"], "attendees")
	if err != nil {
		return nil, err
	}

	return &ScheduleMeetingArgs{
		Topic:     topic,
		Attendees: attendees,
		Start:     start,
		End:       start.Add(MeetingDuration),
	}, nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return strings.TrimSpace(v)
}

// parseStringOrArray accepts a single string or a list of strings. Absent
// values yield nil.
func parseStringOrArray(param any, name string) ([]string, error) {
	switch v := param.(type) {
	case nil:
		return nil, nil
	case string:
		if v = strings.TrimSpace(v); v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", name, i)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", name)
	}
}
