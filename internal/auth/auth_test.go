package auth

import (
	"testing"

	"atrium-backend/internal/store"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := "test-secret"
	signed, err := GenerateAccessToken("user-1", 42, "read_only", []string{"editor"}, secret)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	claims, err := ParseAccessToken(signed, secret)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.TenantID != 42 {
		t.Errorf("tenant = %d", claims.TenantID)
	}
	if claims.Mode != "read_only" {
		t.Errorf("mode = %q", claims.Mode)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "editor" {
		t.Errorf("roles = %v", claims.Roles)
	}
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	signed, err := GenerateAccessToken("user-1", 1, "read_write", nil, "secret-a")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if _, err := ParseAccessToken(signed, "secret-b"); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestPrincipal_AccessMode(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		want store.AccessMode
	}{
		{"default is read write", Principal{Mode: ""}, store.ReadWrite},
		{"read only", Principal{Mode: "read_only"}, store.ReadOnly},
		{"cross tenant needs admin", Principal{Mode: "cross_tenant"}, store.ReadOnly},
		{"cross tenant admin", Principal{Mode: "cross_tenant", Roles: []string{"admin"}}, store.CrossTenantQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.AccessMode(); got != tt.want {
				t.Errorf("AccessMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword("hunter2", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}
