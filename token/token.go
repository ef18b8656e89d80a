package token

import (
	"time"

	"github.com/authplane/authplane/grants"
	"github.com/authplane/authplane/oauth2"
)

// OAuthToken is the server-side record of an issued token pair. Access
// tokens are self-contained JWTs identified by JTI; refresh tokens are
// opaque and resolved through this record.
type OAuthToken struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	GrantType oauth2.GrantType          `json:"grant_type"`
	Grant     grants.AuthorizationGrant `json:"grant"`

	AccessTokenJTI string `json:"access_token_jti"`
	RefreshToken   string `json:"refresh_token,omitempty"`

	// CertThumbprint is the cnf x5t#S256 value for certificate-bound
	// tokens (RFC 8705), empty otherwise.
	CertThumbprint string `json:"cert_thumbprint,omitempty"`

	IssuedAt              time.Time `json:"issued_at"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at,omitempty"`
}

// RefreshTokenExpired reports whether the refresh token may no longer be
// redeemed.
func (t *OAuthToken) RefreshTokenExpired(now time.Time) bool {
	return t.RefreshToken == "" || now.After(t.RefreshTokenExpiresAt)
}

// Repo persists issued token records. ConsumeRefreshToken is atomic:
// rotation removes the record and returns it in one step so a refresh
// token can only be redeemed once.
type Repo interface {
	Register(token *OAuthToken) error
	Get(tenantID, tokenID string) (*OAuthToken, error)
	ConsumeRefreshToken(tenantID, refreshToken string) (*OAuthToken, bool, error)
	Delete(tenantID, tokenID string) error
}
