package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Discovery
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteWellKnownJWKS         = "/.well-known/jwks.json"

	// OAuth2 / OIDC
	RouteOAuth2Authorize  = "/oauth2/authorize"
	RouteOAuth2Token      = "/oauth2/token"
	RouteOAuth2Introspect = "/oauth2/introspect"
	RouteOAuth2Revoke     = "/oauth2/revoke"

	// Interaction layer callbacks (login/consent UI talks to these)
	RouteAuthorizeApprove = "/oauth2/authorize/approve"
	RouteAuthorizeDeny    = "/oauth2/authorize/deny"

	// CIBA
	RouteBackchannelAuth    = "/backchannel/authentication"
	RouteBackchannelApprove = "/backchannel/authentication/approve"
	RouteBackchannelDeny    = "/backchannel/authentication/deny"

	// Upstream identity federation
	RouteFederationLogin    = "/federation/{provider}/login"
	RouteFederationCallback = "/federation/callback"
)
