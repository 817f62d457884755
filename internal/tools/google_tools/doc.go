// Package google_tools provides MCP tools for the delegated Google Calendar
// consent flow.
//
// The flow:
//  1. Call google_get_auth_url to get a consent URL bound to the local subject
//  2. The user visits the URL and grants calendar access
//  3. Call google_save_auth_code with the state and code from the redirect
//  4. Pass the returned calendar_token to the calendar tools
//
// Credentials are returned to the caller and never stored by the server.
package google_tools
