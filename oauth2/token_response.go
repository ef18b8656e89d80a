package oauth2

import "encoding/json"

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749.
// Returned from the /token endpoint for all grant types.
type TokenResponse struct {
	// AccessToken is the JWT token used to access protected resources.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	// Lifespan: Short-lived (typically 15 minutes - 1 hour)
	AccessToken *string `json:"access_token,omitempty"`

	// IdToken is the OpenID Connect ID token containing user identity information.
	// Only present: When the "openid" scope was granted
	IdToken *string `json:"id_token,omitempty"`

	// TokenType indicates how to use the access token (always "Bearer").
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Note: This is a hint - the authoritative expiration is the JWT's "exp" claim
	ExpiresIn int `json:"expires_in,omitempty"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Usage: Send to /token endpoint with grant_type=refresh_token
	// Security: Rotates on each use; the prior value is invalidated
	RefreshToken *string `json:"refresh_token,omitempty"`

	// Scope indicates the access token's granted permissions.
	// Space-separated list; may be narrower than requested.
	Scope string `json:"scope,omitempty"`

	// AuthorizationDetails echoes the granted rich authorization request
	// details (RFC 9396) when the grant carried any.
	AuthorizationDetails []map[string]any `json:"authorization_details,omitempty"`
}

// BackchannelAuthResponse is the successful response from the backchannel
// authentication endpoint (CIBA Core §7.3).
type BackchannelAuthResponse struct {
	// AuthReqID uniquely identifies the authentication request; the client
	// presents it back at the token endpoint with the CIBA grant type.
	AuthReqID string `json:"auth_req_id"`

	// ExpiresIn is the lifetime of the auth_req_id in seconds.
	ExpiresIn int `json:"expires_in"`

	// Interval is the minimum number of seconds the client must wait
	// between token endpoint polls.
	Interval int `json:"interval,omitempty"`
}

// MarshalAuthorizationDetails renders authorization details for embedding in
// a signed token payload; it returns nil when details are absent so the
// claim is omitted entirely.
func MarshalAuthorizationDetails(details []map[string]any) json.RawMessage {
	if len(details) == 0 {
		return nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return raw
}
