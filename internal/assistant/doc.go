// Package assistant orchestrates one prompt end to end: it loads the
// conversation, records the user turn, asks the model, resolves any tool
// call and records the agent turn.
//
// The orchestrator trusts the subject id it is given. Authentication happens
// at the transport boundary.
package assistant
