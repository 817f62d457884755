package tools

// Kind identifies a tool in the catalog.
type Kind int

const (
	KindUnknown Kind = iota
	KindScheduleMeeting
	KindGetTime
)

// Tool names as declared to the model.
const (
	NameScheduleMeeting = "schedule_meeting"
	NameGetTime         = "get_time"
)

// ParseKind maps a tool name to its Kind.
func ParseKind(name string) Kind {
	switch name {
	case NameScheduleMeeting:
		return KindScheduleMeeting
	case NameGetTime:
		return KindGetTime
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindScheduleMeeting:
		return NameScheduleMeeting
	case KindGetTime:
		return NameGetTime
	default:
		return "unknown"
	}
}

// NeedsDelegatedAccess reports whether the tool acts on the user's calendar.
func (k Kind) NeedsDelegatedAccess() bool {
	return k == KindScheduleMeeting
}
