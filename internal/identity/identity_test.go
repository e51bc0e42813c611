package identity

import (
	"context"
	"errors"
	"testing"
)

func validIdentity() Identity {
	return Identity{
		Email:        "sender@example.com",
		Name:         "Example Sender",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Identity)
		wantErr bool
	}{
		{"valid", func(i *Identity) {}, false},
		{"bad email", func(i *Identity) { i.Email = "not-an-address" }, true},
		{"missing client id", func(i *Identity) { i.ClientID = "" }, true},
		{"missing client secret", func(i *Identity) { i.ClientSecret = "" }, true},
		{"missing refresh token", func(i *Identity) { i.RefreshToken = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := validIdentity()
			tt.mutate(&id)
			if err := id.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNoRefreshToken(t *testing.T) {
	id := validIdentity()
	id.RefreshToken = ""
	if err := id.Validate(); !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("Validate() error = %v, want ErrNoRefreshToken", err)
	}
}

func TestFrom(t *testing.T) {
	id := validIdentity()
	if got := id.From(); got != `"Example Sender" <sender@example.com>` {
		t.Errorf("From() = %q", got)
	}

	id.Name = ""
	if got := id.From(); got != "sender@example.com" {
		t.Errorf("From() without name = %q", got)
	}
}

func TestIdentityProvider(t *testing.T) {
	id := validIdentity()
	from, ts, err := id.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity() error = %v", err)
	}
	if from != `"Example Sender" <sender@example.com>` {
		t.Errorf("from = %q", from)
	}
	if ts == nil {
		t.Error("token source is nil")
	}

	id.RefreshToken = ""
	if _, _, err := id.Identity(context.Background()); err == nil {
		t.Error("expected error for incomplete identity")
	}
}
