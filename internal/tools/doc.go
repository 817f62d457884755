// Package tools holds the closed tool catalog offered to the model and the
// resolution step that turns a completion response into a reply.
//
// Resolution is single pass. A response without a function call resolves to
// NoCall. The first function call is dispatched by Kind; any further calls in
// the same response are ignored. Calendar tools need a delegated credential
// and resolve to NeedsAuthorization when none is usable. Every resolution
// ends in exactly one terminal State.
package tools
