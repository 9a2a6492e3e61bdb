// ABOUTME: Authenticated principal variants and username resolution
// ABOUTME: Maps password, passkey, and raw principals to a canonical username

package principal

import "fmt"

// Method identifies which login method authenticated a principal.
type Method int

const (
	// MethodPassword is username/password form login.
	MethodPassword Method = iota
	// MethodPasskey is WebAuthn public-key login.
	MethodPasskey
)

// String returns the display name of the method.
func (m Method) String() string {
	if m == MethodPasskey {
		return "Passkey"
	}
	return "Password"
}

// Principal is the closed set of authenticated identity shapes the
// authentication layer can produce. Adding a login method means adding a
// variant here and handling it in Resolve; the type switch keeps that a
// compile-visible change instead of an open-ended inspection cascade.
type Principal interface {
	principal()
}

// PasswordIdentity is the identity produced by a password login.
type PasswordIdentity struct {
	Username string
}

func (PasswordIdentity) principal() {}

// PasskeyIdentity is the identity produced by a passkey login. ID is the
// opaque credential-owner handle; Name is the account username.
type PasskeyIdentity struct {
	ID          []byte
	Name        string
	DisplayName string
}

func (PasskeyIdentity) principal() {}

// RawPrincipal is the fallback for values with no recognized identity shape.
// Legacy callers may hand the resolver a bare string; treating it as a
// degenerate password identity keeps resolution total instead of failing.
type RawPrincipal string

func (RawPrincipal) principal() {}

// FromValue coerces an arbitrary authentication result into a Principal.
// Recognized identity shapes pass through; anything else degrades to its
// string representation as a RawPrincipal.
func FromValue(v any) Principal {
	switch p := v.(type) {
	case Principal:
		return p
	case string:
		return RawPrincipal(p)
	default:
		return RawPrincipal(fmt.Sprint(v))
	}
}

// Resolve extracts the canonical username and login method from a principal.
// It has no side effects and never fails.
func Resolve(p Principal) (username string, method Method) {
	switch id := p.(type) {
	case PasswordIdentity:
		return id.Username, MethodPassword
	case PasskeyIdentity:
		return id.Name, MethodPasskey
	case RawPrincipal:
		return string(id), MethodPassword
	default:
		// Unreachable for the sealed set; mirror the RawPrincipal fallback.
		return fmt.Sprint(p), MethodPassword
	}
}
