package tenants

import (
	"time"

	"github.com/authplane/authplane/oauth2"
)

// SignerType identifies the JWS algorithm used to sign tokens for a tenant.
type SignerType string

const (
	SignerTypeHMAC  SignerType = "HS256"
	SignerTypeRS256 SignerType = "RS256"
	SignerTypeES256 SignerType = "ES256"
)

// Tenant represents a multi-tenant organization with its own authorization
// server configuration. Each tenant has its own issuer, endpoints and signing
// key, so tokens and consent are fully isolated between tenants.
type Tenant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`

	// Issuer is the OAuth2 issuer URL (e.g. "https://issuer.example/t1").
	Issuer string `json:"issuer"`

	// Audience is the default aud for issued access tokens
	// (e.g. "https://tenant-a.api.example.com").
	Audience string `json:"audience"`

	// Endpoint URLs, absolute. Client assertion audiences are matched
	// against these per RFC 7523 §3 and CIBA Core §7.1.
	TokenEndpoint         string `json:"token_endpoint"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	BackchannelEndpoint   string `json:"backchannel_authentication_endpoint"`

	// Signing key material. HMAC tenants carry a secret; asymmetric tenants
	// carry a PEM key pair referenced by KeyID for rotation.
	SignerType    SignerType `json:"signer_type"`
	KeyID         string     `json:"key_id"`
	HMACSecret    string     `json:"-"`
	PrivateKeyPEM string     `json:"-"`
	PublicKeyPEM  string     `json:"public_key_pem,omitempty"`

	// JWKS is the tenant's published key set as JSON, served at the
	// jwks_uri and used to verify id_token_hint values in CIBA.
	JWKS string `json:"jwks,omitempty"`

	// Policy surface.
	GrantTypes         []oauth2.GrantType `json:"grant_types_supported"`
	Scopes             []string           `json:"scopes_supported"`
	FAPIBaselineScopes []string           `json:"fapi_baseline_scopes,omitempty"`
	FAPIAdvancedScopes []string           `json:"fapi_advanced_scopes,omitempty"`

	// Token lifetimes. Zero values fall back to defaults at issuance time.
	AccessTokenExpiry  time.Duration `json:"access_token_expiry"`
	IDTokenExpiry      time.Duration `json:"id_token_expiry"`
	RefreshTokenExpiry time.Duration `json:"refresh_token_expiry"`
	AuthCodeExpiry     time.Duration `json:"auth_code_expiry"`

	// Authorization request bookkeeping.
	AuthRequestExpiry time.Duration `json:"auth_request_expiry"`
	DefaultMaxAge     int           `json:"default_max_age"`

	// CIBA settings.
	CIBARequestExpiry   time.Duration `json:"ciba_request_expiry"`
	CIBAPollingInterval time.Duration `json:"ciba_polling_interval"`

	// TLSBoundAccessTokens enables RFC 8705 certificate-bound access tokens
	// when the client side opts in as well.
	TLSBoundAccessTokens bool `json:"tls_bound_access_tokens"`

	// RefreshTokenGrants names the grant types for which a refresh token is
	// issued. client_credentials never receives one unless listed here.
	RefreshTokenGrants []oauth2.GrantType `json:"refresh_token_grants"`
}

// SupportsGrantType reports whether the tenant has the grant type enabled.
func (t *Tenant) SupportsGrantType(gt oauth2.GrantType) bool {
	for _, g := range t.GrantTypes {
		if g == gt {
			return true
		}
	}
	return false
}

// IssuesRefreshTokenFor reports whether the tenant issues refresh tokens for
// the given grant type.
func (t *Tenant) IssuesRefreshTokenFor(gt oauth2.GrantType) bool {
	for _, g := range t.RefreshTokenGrants {
		if g == gt {
			return true
		}
	}
	return false
}

// AssertionAudiences returns the values accepted as the aud of a client
// assertion JWT: the issuer identifier plus the token and backchannel
// authentication endpoints.
func (t *Tenant) AssertionAudiences() []string {
	audiences := []string{t.Issuer}
	if t.TokenEndpoint != "" {
		audiences = append(audiences, t.TokenEndpoint)
	}
	if t.BackchannelEndpoint != "" {
		audiences = append(audiences, t.BackchannelEndpoint)
	}
	return audiences
}

// ClassifyProfile resolves the protocol profile for a set of effective
// scopes: any FAPI-advanced scope wins over FAPI-baseline, which wins over
// the standard profile.
func (t *Tenant) ClassifyProfile(scopes oauth2.Scopes) oauth2.Profile {
	for _, s := range t.FAPIAdvancedScopes {
		if scopes.Contains(s) {
			return oauth2.ProfileFAPIAdvanced
		}
	}
	for _, s := range t.FAPIBaselineScopes {
		if scopes.Contains(s) {
			return oauth2.ProfileFAPIBaseline
		}
	}
	return oauth2.ProfileStandard
}
