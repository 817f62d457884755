// Package calendar creates and lists Google Calendar events on behalf of a
// user holding a delegated credential.
//
// A Client carries no credential of its own. Each call receives the caller's
// credential and builds a short-lived Calendar service for it, so one Client
// is shared by every request.
//
// Example usage:
//
//	client := calendar.NewClient()
//	events, err := client.ListEvents(ctx, cred, 15)
//	if err != nil {
//	    return err
//	}
package calendar
