package tools

import (
	"github.com/teemow/urmindr/internal/completion"
)

// Catalog is the fixed set of tools offered to the model.
type Catalog struct {
	decls []completion.ToolDeclaration
}

// DefaultCatalog returns the catalog with every supported tool.
func DefaultCatalog() *Catalog {
	return &Catalog{decls: []completion.ToolDeclaration{
		{
			Name:        NameScheduleMeeting,
			Description: "Schedules a meeting with specified attendees at a given time and date.",
			Parameters: []completion.Parameter{
				{Name: "attendees", Type: completion.ParamStringArray, Description: "List of people attending the meeting."},
				{Name: "date", Type: completion.ParamString, Required: true, Description: "Date of the meeting (e.g., '2024-07-29')"},
				{Name: "time", Type: completion.ParamString, Required: true, Description: "Time of the meeting in UTC (e.g., '15:00')"},
				{Name: "topic", Type: completion.ParamString, Description: "The subject or topic of the meeting."},
			},
		},
		{
			Name:        NameGetTime,
			Description: "Gets the current time.",
		},
	}}
}

// Declarations returns a copy of the tool declarations.
func (c *Catalog) Declarations() []completion.ToolDeclaration {
	return append([]completion.ToolDeclaration(nil), c.decls...)
}

// Lookup returns the declaration for name.
func (c *Catalog) Lookup(name string) (completion.ToolDeclaration, bool) {
	for _, d := range c.decls {
		if d.Name == name {
			return d, true
		}
	}
	return completion.ToolDeclaration{}, false
}

// Names lists the declared tool names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.decls))
	for _, d := range c.decls {
		names = append(names, d.Name)
	}
	return names
}
