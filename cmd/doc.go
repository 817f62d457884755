// Package cmd implements the command-line interface for urmindr.
//
// This package provides the following commands:
//   - serve: Start the HTTP API used by the web frontend
//   - mcp: Serve the assistant's tools and conversations over MCP stdio
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
//
// Every flag can also be set through an environment variable. A flag given
// on the command line always wins over its environment variable.
package cmd
