// Package resources exposes conversation history as read-only MCP resources.
//
// urmindr://conversations lists every conversation of the local subject and
// urmindr://conversations/{id} returns the turns of one conversation.
package resources
