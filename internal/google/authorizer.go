package google

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Authorizer runs the delegated-consent flow: it issues consent URLs bound
// to a subject and completes the callback.
type Authorizer struct {
	oauth *OAuth
	flows FlowStore
	ttl   time.Duration
}

// NewAuthorizer creates an Authorizer. A zero ttl uses DefaultFlowTTL.
func NewAuthorizer(oauth *OAuth, flows FlowStore, ttl time.Duration) *Authorizer {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &Authorizer{oauth: oauth, flows: flows, ttl: ttl}
}

// AuthorizationURL returns a consent URL whose state maps back to subjectID.
func (a *Authorizer) AuthorizationURL(ctx context.Context, subjectID string) (string, error) {
	if !a.oauth.Configured() {
		return "", ErrNotConfigured
	}
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}

	state, err := NewState()
	if err != nil {
		return "", err
	}
	if err := a.flows.Save(ctx, state, subjectID, a.ttl); err != nil {
		return "", err
	}
	return a.oauth.AuthURL(state)
}

// Complete consumes state and exchanges code. It returns the subject that
// started the flow together with the new credential.
func (a *Authorizer) Complete(ctx context.Context, state, code string) (string, *Credential, error) {
	if state == "" || code == "" {
		return "", nil, errors.New("state and code are required")
	}
	subjectID, err := a.flows.Consume(ctx, state)
	if err != nil {
		return "", nil, err
	}
	cred, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("authorization for flow failed: %w", err)
	}
	return subjectID, cred, nil
}
