// ABOUTME: Tests for principal resolution
// ABOUTME: Covers each identity variant, coercion, and the raw-string fallback

package principal

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		principal    Principal
		wantUsername string
		wantMethod   Method
	}{
		{
			name:         "password identity",
			principal:    PasswordIdentity{Username: "alice"},
			wantUsername: "alice",
			wantMethod:   MethodPassword,
		},
		{
			name:         "passkey identity",
			principal:    PasskeyIdentity{ID: []byte{0x01, 0x02}, Name: "bob", DisplayName: "Bob B"},
			wantUsername: "bob",
			wantMethod:   MethodPasskey,
		},
		{
			name:         "raw principal",
			principal:    RawPrincipal("carol"),
			wantUsername: "carol",
			wantMethod:   MethodPassword,
		},
		{
			name:         "empty raw principal",
			principal:    RawPrincipal(""),
			wantUsername: "",
			wantMethod:   MethodPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			username, method := Resolve(tt.principal)
			if username != tt.wantUsername {
				t.Errorf("username: got %q, want %q", username, tt.wantUsername)
			}
			if method != tt.wantMethod {
				t.Errorf("method: got %v, want %v", method, tt.wantMethod)
			}
		})
	}
}

func TestFromValue(t *testing.T) {
	tests := []struct {
		name         string
		value        any
		wantUsername string
		wantMethod   Method
	}{
		{
			name:         "principal passes through",
			value:        PasskeyIdentity{Name: "alice"},
			wantUsername: "alice",
			wantMethod:   MethodPasskey,
		},
		{
			name:         "bare string",
			value:        "bob",
			wantUsername: "bob",
			wantMethod:   MethodPassword,
		},
		{
			name:         "arbitrary value stringified",
			value:        12345,
			wantUsername: "12345",
			wantMethod:   MethodPassword,
		},
		{
			name:         "nil stringified",
			value:        nil,
			wantUsername: "<nil>",
			wantMethod:   MethodPassword,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			username, method := Resolve(FromValue(tt.value))
			if username != tt.wantUsername {
				t.Errorf("username: got %q, want %q", username, tt.wantUsername)
			}
			if method != tt.wantMethod {
				t.Errorf("method: got %v, want %v", method, tt.wantMethod)
			}
		})
	}
}

func TestMethodString(t *testing.T) {
	if got := MethodPassword.String(); got != "Password" {
		t.Errorf("MethodPassword.String() = %q, want %q", got, "Password")
	}
	if got := MethodPasskey.String(); got != "Passkey" {
		t.Errorf("MethodPasskey.String() = %q, want %q", got, "Passkey")
	}
}
