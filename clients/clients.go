package clients

import (
	"github.com/authplane/authplane/oauth2"
)

type ClientType string

const (
	ClientTypeConfidential ClientType = "confidential" // Can keep secrets (server-side apps)
	ClientTypePublic       ClientType = "public"       // Cannot keep secrets (SPAs, mobile apps)
)

// CIBADeliveryMode is the backchannel token delivery mode registered for a
// client. Only poll mode is implemented; ping/push delivery belongs to the
// excluded notification layer.
type CIBADeliveryMode string

const (
	CIBADeliveryPoll CIBADeliveryMode = "poll"
	CIBADeliveryPing CIBADeliveryMode = "ping"
	CIBADeliveryPush CIBADeliveryMode = "push"
)

// Client is the registered configuration of an OAuth2 client within a
// tenant. The protocol engine treats it as a read-only snapshot per request.
type Client struct {
	ID          string     `json:"id"`
	Type        ClientType `json:"type"` // public or confidential
	Description string     `json:"description"`
	TenantID    string     `json:"tenantId"`

	// Secret is the shared secret for client_secret_basic/post/jwt methods.
	// Security: never log or serialize this value.
	Secret string `json:"-"`

	// AuthMethod is the single client authentication method this client is
	// registered for. A client configured for one method must not be
	// authenticatable by another.
	AuthMethod oauth2.AuthMethod `json:"token_endpoint_auth_method"`

	RedirectURIs []string           `json:"redirectURIs"`
	Scopes       []string           `json:"scopes"`      // Allowed scopes for this client
	GrantTypes   []oauth2.GrantType `json:"grant_types"` // Grant types this client may use

	// JWKS is the client's registered key set as JSON, used to verify
	// private_key_jwt assertions and signed request objects.
	JWKS string `json:"jwks,omitempty"`

	// RequireSignedRequestObject makes request-object claims authoritative
	// over plain parameters and rejects unsigned authorization requests.
	RequireSignedRequestObject bool `json:"require_signed_request_object"`

	// RequestURIs is the whitelist of registered request_uri values.
	RequestURIs []string `json:"request_uris,omitempty"`

	// mTLS client authentication bindings (RFC 8705).
	TLSSubjectDN    string `json:"tls_client_auth_subject_dn,omitempty"`
	TLSSANDNS       string `json:"tls_client_auth_san_dns,omitempty"`
	TLSThumbprint   string `json:"tls_client_cert_thumbprint,omitempty"` // self-signed binding, base64url SHA-256
	TLSBoundAccessTokens bool `json:"tls_client_certificate_bound_access_tokens"`

	// CIBA registration.
	CIBADeliveryMode CIBADeliveryMode `json:"backchannel_token_delivery_mode,omitempty"`
	RequireUserCode  bool             `json:"backchannel_user_code_parameter,omitempty"`
}

// IsPublic returns true if the client is a public client
func (c *Client) IsPublic() bool {
	return c.Type == ClientTypePublic
}

// HasScope checks if the client has permission for a specific scope
func (c *Client) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// HasGrantType reports whether the client is authorized for the grant type.
func (c *Client) HasGrantType(gt oauth2.GrantType) bool {
	for _, g := range c.GrantTypes {
		if g == gt {
			return true
		}
	}
	return false
}

// HasRedirectURI reports whether uri exactly matches a registered redirect
// URI. Exact comparison prevents open-redirect variants.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// HasRequestURI reports whether uri is on the registered request_uri whitelist.
func (c *Client) HasRequestURI(uri string) bool {
	for _, registered := range c.RequestURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// FilterScopes intersects the requested scopes with the client's allowed
// scope policy, preserving request order. Unknown scopes are dropped, not
// rejected; callers that require an exact match compare sizes.
func (c *Client) FilterScopes(requested oauth2.Scopes) oauth2.Scopes {
	allowed := make(oauth2.Scopes, 0, len(c.Scopes))
	allowed = append(allowed, c.Scopes...)
	return requested.Intersect(allowed)
}
