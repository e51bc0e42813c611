// Package identity manages the sending identity and its OAuth2
// credential.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"golang.org/x/oauth2"
)

// GmailSendScope is the narrowest scope that permits sending mail.
const GmailSendScope = "https://www.googleapis.com/auth/gmail.send"

// googleEndpoint is Google's OAuth2 endpoint.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

var ErrNoRefreshToken = errors.New("identity has no refresh token")

// Provider yields the sending identity. The static config-file Identity
// satisfies it; a session-backed implementation would too.
type Provider interface {
	Identity(ctx context.Context) (from string, ts oauth2.TokenSource, err error)
}

// Identity is one authorized sending account. The refresh token is the
// durable credential; access tokens are minted on demand by the
// TokenSource and never stored.
type Identity struct {
	Email        string `yaml:"email" json:"email"`
	Name         string `yaml:"name" json:"name,omitempty"`
	ClientID     string `yaml:"client_id" json:"-"`
	ClientSecret string `yaml:"client_secret" json:"-"`
	RefreshToken string `yaml:"refresh_token" json:"-"`
}

// Validate checks that the identity can actually authenticate.
func (i *Identity) Validate() error {
	if _, err := mail.ParseAddress(i.Email); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", i.Email, err)
	}
	if i.ClientID == "" || i.ClientSecret == "" {
		return errors.New("missing OAuth2 client credentials")
	}
	if i.RefreshToken == "" {
		return ErrNoRefreshToken
	}
	return nil
}

// From returns the RFC 5322 From header value for this identity.
func (i *Identity) From() string {
	if i.Name == "" {
		return i.Email
	}
	addr := mail.Address{Name: i.Name, Address: i.Email}
	return addr.String()
}

// Identity implements Provider.
func (i *Identity) Identity(ctx context.Context) (string, oauth2.TokenSource, error) {
	if err := i.Validate(); err != nil {
		return "", nil, err
	}
	return i.From(), i.TokenSource(ctx), nil
}

// TokenSource returns a self-refreshing token source bound to ctx.
func (i *Identity) TokenSource(ctx context.Context) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     i.ClientID,
		ClientSecret: i.ClientSecret,
		Endpoint:     googleEndpoint,
		Scopes:       []string{GmailSendScope},
	}
	token := &oauth2.Token{RefreshToken: i.RefreshToken}
	return oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx, token))
}
