package google

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential is a delegated calendar credential held by the caller. It is
// sent with each request and returned, possibly refreshed, in the reply.
type Credential struct {
	AccessToken  string    `json:"access_token" validate:"required"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Token converts the credential to an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// CredentialFromToken converts an oauth2 token.
func CredentialFromToken(tok *oauth2.Token) *Credential {
	if tok == nil {
		return nil
	}
	return &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry.UTC(),
	}
}
