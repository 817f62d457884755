// Package calendar_tools exposes the assistant's calendar tools over MCP.
//
// The catalog tools (schedule_meeting, get_time) run through the same
// resolver the chat API uses, so argument checks, the authorization flow and
// the reply texts are identical. list_events reads upcoming events from the
// primary calendar. Tools that act on the calendar take the delegated
// credential as arguments.
package calendar_tools
