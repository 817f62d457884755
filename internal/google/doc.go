// Package google manages delegated Google Calendar access.
//
// Callers hold their own delegated credential and pass it on every request.
// This package builds the authorization URL for the calendar scope, exchanges
// authorization codes, refreshes credentials that are about to expire and
// tracks the short-lived OAuth state values that tie a callback to the
// subject who started the flow.
package google
