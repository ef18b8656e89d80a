package token

import (
	"context"
	"net/url"
	"time"

	"github.com/authplane/authplane/ciba"
	"github.com/authplane/authplane/clientauth"
	"github.com/authplane/authplane/clients"
	"github.com/authplane/authplane/grants"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/tenants"
	"github.com/authplane/authplane/users"
)

// Token endpoint parameter names.
const (
	ParamGrantType    = "grant_type"
	ParamCode         = "code"
	ParamRedirectURI  = "redirect_uri"
	ParamCodeVerifier = "code_verifier"
	ParamRefreshToken = "refresh_token"
	ParamScope        = "scope"
	ParamUsername     = "username"
	ParamPassword     = "password"
	ParamAuthReqID    = "auth_req_id"
	ParamAssertion    = "assertion"
)

// Request carries the parsed token request form plus the client
// authentication material the transport extracted.
type Request struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	Username     string
	Password     string
	AuthReqID    string
	Assertion    string

	Auth clientauth.Request
}

// ParseRequest extracts the token request from form values.
func ParseRequest(values url.Values, auth clientauth.Request) Request {
	return Request{
		GrantType:    values.Get(ParamGrantType),
		Code:         values.Get(ParamCode),
		RedirectURI:  values.Get(ParamRedirectURI),
		CodeVerifier: values.Get(ParamCodeVerifier),
		RefreshToken: values.Get(ParamRefreshToken),
		Scope:        values.Get(ParamScope),
		Username:     values.Get(ParamUsername),
		Password:     values.Get(ParamPassword),
		AuthReqID:    values.Get(ParamAuthReqID),
		Assertion:    values.Get(ParamAssertion),
		Auth:         auth,
	}
}

// Repos bundles the stores the token service depends on.
type Repos struct {
	Tenants      tenants.Repo
	Clients      clients.Repo
	Users        users.UserRepo
	CodeGrants   grants.CodeGrantRepo
	Granted      grants.GrantedRepo
	Tokens       Repo
	CIBARequests ciba.Repo
}

// grantContext is everything a grant service needs: the resolved tenant and
// client, the authentication outcome, and the parsed request.
type grantContext struct {
	tenant *tenants.Tenant
	client *clients.Client
	creds  clientauth.Credentials
	req    Request
}

type grantService func(ctx context.Context, g *grantContext) (*oauth2.TokenResponse, *oauth2.Error)

// Service is the token endpoint core. It validates the request envelope,
// authenticates the client, and dispatches to the grant service registered
// for the grant type. The registry is fixed at construction.
type Service struct {
	repos         Repos
	authenticator *clientauth.Authenticator
	issuer        *Issuer
	services      map[oauth2.GrantType]grantService
	nowFunc       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceNowFunc overrides the clock, for tests.
func WithServiceNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFunc = now }
}

// NewService builds the token service with one grant service per supported
// grant type.
func NewService(repos Repos, authenticator *clientauth.Authenticator, issuer *Issuer, options ...ServiceOption) *Service {
	s := &Service{
		repos:         repos,
		authenticator: authenticator,
		issuer:        issuer,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.services = map[oauth2.GrantType]grantService{
		oauth2.GrantTypeAuthorizationCode: s.authorizationCodeGrant,
		oauth2.GrantTypeRefreshToken:      s.refreshTokenGrant,
		oauth2.GrantTypeClientCredentials: s.clientCredentialsGrant,
		oauth2.GrantTypePassword:          s.passwordGrant,
		oauth2.GrantTypeCIBA:              s.cibaGrant,
		oauth2.GrantTypeJWTBearer:         s.jwtBearerGrant,
	}
	return s
}

// Handle processes a token request for the tenant identified by issuer.
// Validation order is fixed: grant type recognition, tenant support,
// grant-specific required parameters, then client authentication, then
// client authorization for the grant type.
func (s *Service) Handle(ctx context.Context, issuer string, values url.Values, auth clientauth.Request) (*oauth2.TokenResponse, *oauth2.Error) {
	tenant, err := s.repos.Tenants.GetByIssuer(issuer)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "unknown issuer")
	}

	req := ParseRequest(values, auth)
	if req.GrantType == "" {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "grant_type is required")
	}
	if !oauth2.KnownGrantType(req.GrantType) {
		return nil, oauth2.NewError(oauth2.ErrUnsupportedGrantType, "grant type %q is not supported", req.GrantType)
	}
	grantType := oauth2.GrantType(req.GrantType)
	if !tenant.SupportsGrantType(grantType) {
		return nil, oauth2.NewError(oauth2.ErrUnsupportedGrantType, "grant type %q is not enabled", req.GrantType)
	}

	// Grant-specific required parameters are checked before client
	// authentication so their absence is reported as invalid_request, never
	// masked by an authentication outcome.
	switch grantType {
	case oauth2.GrantTypeCIBA:
		if req.AuthReqID == "" {
			return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "auth_req_id is required")
		}
	case oauth2.GrantTypeJWTBearer:
		if req.Assertion == "" {
			return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "assertion is required")
		}
	}

	if auth.ClientID == "" {
		return nil, oauth2.NewError(oauth2.ErrInvalidClient, "client authentication failed")
	}
	client, err := s.repos.Clients.Get(tenant.ID, auth.ClientID)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrInvalidClient, "client authentication failed")
	}
	creds, err := s.authenticator.Authenticate(tenant, client, auth)
	if err != nil {
		if oerr, ok := err.(*oauth2.Error); ok {
			return nil, oerr
		}
		return nil, oauth2.NewError(oauth2.ErrInvalidClient, "client authentication failed")
	}
	if !client.HasGrantType(grantType) {
		return nil, oauth2.NewError(oauth2.ErrUnauthorizedClient, "client is not authorized for grant type %q", req.GrantType)
	}

	return s.services[grantType](ctx, &grantContext{
		tenant: tenant,
		client: client,
		creds:  creds,
		req:    req,
	})
}
