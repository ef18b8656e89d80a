package grants

import (
	"time"

	"github.com/authplane/authplane/oauth2"
)

// AuthorizationCodeGrant binds an issued authorization code to the grant it
// authorizes. It exists only between code issuance and redemption; the
// repository's Consume contract guarantees at-most-once redemption.
type AuthorizationCodeGrant struct {
	Code                   string
	TenantID               string
	AuthorizationRequestID string
	Grant                  AuthorizationGrant

	// Issuance-time bindings re-checked at redemption (RFC 6749 §4.1.3).
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	Nonce               string
	AuthTime            time.Time

	ExpiresAt time.Time
}

// Exists reports whether the code grant was found.
func (g AuthorizationCodeGrant) Exists() bool {
	return g.Code != ""
}

// Expired reports whether the code may no longer be redeemed.
func (g AuthorizationCodeGrant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// BoundToClient reports whether the code was issued to the given client.
func (g AuthorizationCodeGrant) BoundToClient(clientID string) bool {
	return g.Grant.ClientID == clientID
}
