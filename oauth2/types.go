package oauth2

// ResponseType represents the OAuth 2.0 response type.
// Determines what is returned from the authorization endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow.
	// Returns an authorization code that must be exchanged for tokens at the token endpoint.
	// Example: /oauth2/authorize?response_type=code&client_id=...
	CodeResponseType ResponseType = "code"
)

// ResponseModeType denotes how the authorization response parameters are returned to the client.
// Determines the mechanism used to send the auth code/error back to the redirect_uri.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	// Example: https://client.example.com/callback?code=ABC123&state=xyz
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	// Example: https://client.example.com/callback#code=ABC123&state=xyz
	FragmentResponseMode ResponseModeType = "fragment"

	// FormPostResponseMode returns parameters via HTTP POST with an auto-submitting HTML form.
	// Keeps parameters out of the URL, browser history and server logs.
	FormPostResponseMode ResponseModeType = "form_post"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
// Used to prevent authorization code interception attacks (especially for public clients).
type CodeMethodType string

const (
	// CodeMethodTypeS256 indicates SHA-256 hashing is used for the code challenge.
	// Client sends: code_challenge = BASE64URL(SHA256(code_verifier))
	CodeMethodTypeS256 CodeMethodType = "S256"

	// CodeMethodTypePlain means no hashing, the code_verifier is sent directly.
	// Only protects against passive attacks; S256 is strongly preferred.
	CodeMethodTypePlain CodeMethodType = "plain"
)

// GrantType represents the OAuth 2.0 grant type presented at the token endpoint.
// The token issuance dispatcher keys its service registry on this closed set.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypePassword          GrantType = "password"

	// GrantTypeCIBA is the Client Initiated Backchannel Authentication grant.
	// The client polls the token endpoint with an auth_req_id until the
	// out-of-band authentication reaches a terminal state.
	GrantTypeCIBA GrantType = "urn:openid:params:grant-type:ciba"

	// GrantTypeJWTBearer exchanges a signed JWT assertion for an access token (RFC 7523).
	GrantTypeJWTBearer GrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// KnownGrantType reports whether value names a grant type this server implements.
func KnownGrantType(value string) bool {
	switch GrantType(value) {
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials,
		GrantTypePassword, GrantTypeCIBA, GrantTypeJWTBearer:
		return true
	}
	return false
}

// AuthMethod represents the client authentication method configured for a client
// at the token endpoint (token_endpoint_auth_method).
type AuthMethod string

const (
	AuthMethodClientSecretBasic AuthMethod = "client_secret_basic"
	AuthMethodClientSecretPost  AuthMethod = "client_secret_post"
	AuthMethodClientSecretJWT   AuthMethod = "client_secret_jwt"
	AuthMethodPrivateKeyJWT     AuthMethod = "private_key_jwt"
	AuthMethodTLSClientAuth     AuthMethod = "tls_client_auth"
	AuthMethodSelfSignedTLSAuth AuthMethod = "self_signed_tls_client_auth"

	// AuthMethodNone is permitted only for clients explicitly registered as public.
	AuthMethodNone AuthMethod = "none"
)

// Profile classifies the protocol profile an authorization or backchannel
// request is handled under. Higher-assurance profiles tighten request-object
// and client-authentication requirements.
type Profile string

const (
	ProfileStandard     Profile = "standard"
	ProfileFAPIBaseline Profile = "fapi_baseline"
	ProfileFAPIAdvanced Profile = "fapi_advanced"
)

// TokenTypeBearer is the access token type returned in token responses.
const TokenTypeBearer = "Bearer"
