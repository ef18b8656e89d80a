package ciba

import (
	"context"
	"net/url"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"

	"github.com/authplane/authplane/clientauth"
	"github.com/authplane/authplane/clients"
	"github.com/authplane/authplane/jose"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/tenants"
	"github.com/authplane/authplane/users"
)

const (
	defaultRequestExpiry   = 5 * time.Minute
	defaultPollingInterval = 5 * time.Second
)

// Notifier delivers the out-of-band authentication prompt to the end
// user's authentication device. Poll-mode deployments without a push
// channel can run without one.
type Notifier interface {
	Notify(ctx context.Context, tenant *tenants.Tenant, user *users.User, request *BackchannelAuthRequest) error
}

// Repos bundles the stores the backchannel service depends on.
type Repos struct {
	Tenants  tenants.Repo
	Clients  clients.Repo
	Users    users.UserRepo
	Requests Repo
}

// Service is the backchannel authentication endpoint core: it
// authenticates the client, resolves the end user from the request hint,
// and opens a pending authentication the client polls for.
type Service struct {
	repos         Repos
	authenticator *clientauth.Authenticator
	notifier      Notifier
	nowFunc       func() time.Time
	newID         func() string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithNotifier installs the authentication-device notifier.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(s *Service) { s.notifier = notifier }
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFunc = now }
}

// WithAuthReqIDFunc overrides auth_req_id generation, for tests.
func WithAuthReqIDFunc(newID func() string) ServiceOption {
	return func(s *Service) { s.newID = newID }
}

// NewService builds the backchannel authentication service.
func NewService(repos Repos, authenticator *clientauth.Authenticator, options ...ServiceOption) *Service {
	s := &Service{
		repos:         repos,
		authenticator: authenticator,
		nowFunc:       time.Now,
		newID:         NewAuthReqID,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// HandleRequest processes a backchannel authentication request. All errors
// are direct protocol errors; the backchannel endpoint never redirects.
func (s *Service) HandleRequest(ctx context.Context, issuer string, values url.Values, auth clientauth.Request) (*oauth2.BackchannelAuthResponse, *oauth2.Error) {
	tenant, err := s.repos.Tenants.GetByIssuer(issuer)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "unknown issuer")
	}
	if !tenant.SupportsGrantType(oauth2.GrantTypeCIBA) {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "backchannel authentication is not enabled")
	}

	client, err := s.repos.Clients.Get(tenant.ID, auth.ClientID)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrInvalidClient, "client authentication failed")
	}
	if _, err := s.authenticator.Authenticate(tenant, client, auth); err != nil {
		if oerr, ok := err.(*oauth2.Error); ok {
			return nil, oerr
		}
		return nil, oauth2.NewError(oauth2.ErrInvalidClient, "client authentication failed")
	}
	if !client.HasGrantType(oauth2.GrantTypeCIBA) {
		return nil, oauth2.NewError(oauth2.ErrUnauthorizedClient, "client is not authorized for backchannel authentication")
	}

	params, joseCtx, oerr := s.analyzeParameters(client, NewParameters(values))
	if oerr != nil {
		return nil, oerr
	}

	requested := params.Scopes()
	if len(requested) == 0 {
		return nil, oauth2.NewError(oauth2.ErrInvalidScope, "scope is required")
	}
	effective := client.FilterScopes(requested).Intersect(oauth2.Scopes(tenant.Scopes))
	if len(effective) == 0 {
		return nil, oauth2.NewError(oauth2.ErrInvalidScope, "no requested scope is allowed for the client")
	}

	profile := tenant.ClassifyProfile(effective)
	if profile == oauth2.ProfileFAPIAdvanced && !joseCtx.HasSignature() {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "a signed request object is required for the requested scopes")
	}

	user, oerr := s.resolveUser(tenant, client, params)
	if oerr != nil {
		return nil, oerr
	}
	if oerr := s.checkUserCode(client, user, params); oerr != nil {
		return nil, oerr
	}

	now := s.nowFunc()
	interval := tenant.CIBAPollingInterval
	if interval <= 0 {
		interval = defaultPollingInterval
	}
	expiry := tenant.CIBARequestExpiry
	if expiry <= 0 {
		expiry = defaultRequestExpiry
	}
	if requestedExpiry := params.RequestedExpiry(); requestedExpiry > 0 {
		requested := time.Duration(requestedExpiry) * time.Second
		if requested < expiry {
			expiry = requested
		}
	}

	request := &BackchannelAuthRequest{
		AuthReqID:      s.newID(),
		TenantID:       tenant.ID,
		ClientID:       client.ID,
		Subject:        user.ID,
		Scopes:         effective,
		Profile:        profile,
		AcrValues:      params.AcrValues(),
		BindingMessage: params.BindingMessage(),
		Status:         StatusPending,
		Interval:       interval,
		CreatedAt:      now,
		ExpiresAt:      now.Add(expiry),
	}
	if err := s.repos.Requests.Register(request); err != nil {
		return nil, oauth2.NewError(oauth2.ErrServerError, "could not register authentication request")
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, tenant, user, request); err != nil {
			_ = s.repos.Requests.Delete(tenant.ID, request.AuthReqID)
			return nil, oauth2.NewError(oauth2.ErrServerError, "could not notify the authentication device")
		}
	}

	return &oauth2.BackchannelAuthResponse{
		AuthReqID: request.AuthReqID,
		ExpiresIn: int(expiry / time.Second),
		Interval:  int(interval / time.Second),
	}, nil
}

// analyzeParameters applies the request-object pattern when the request
// parameter is present.
func (s *Service) analyzeParameters(client *clients.Client, params Parameters) (Parameters, jose.Context, *oauth2.Error) {
	if !params.Has(ParamRequest) {
		if client.RequireSignedRequestObject {
			return Parameters{}, jose.Context{}, oauth2.NewError(oauth2.ErrInvalidRequest, "client requires a signed request object")
		}
		return params, jose.EmptyContext(), nil
	}

	options := []jose.ParserOption{jose.WithSecret(client.Secret)}
	if client.JWKS != "" {
		set, err := jwk.ParseString(client.JWKS)
		if err != nil {
			return Parameters{}, jose.Context{}, oauth2.NewError(oauth2.ErrInvalidRequestObject, "client key set is not usable")
		}
		options = append(options, jose.WithClientKeys(set))
	}
	if !client.RequireSignedRequestObject {
		options = append(options, jose.WithAllowUnsigned())
	}

	joseCtx, err := jose.NewParser(options...).Parse(params.Request())
	if err != nil || !joseCtx.Exists() {
		return Parameters{}, jose.Context{}, oauth2.NewError(oauth2.ErrInvalidRequestObject, "request object verification failed")
	}
	if client.RequireSignedRequestObject && !joseCtx.HasSignature() {
		return Parameters{}, jose.Context{}, oauth2.NewError(oauth2.ErrInvalidRequestObject, "request object must be signed")
	}
	if exp := joseCtx.TimeClaim("exp"); joseCtx.HasClaim("exp") && s.nowFunc().After(exp) {
		return Parameters{}, jose.Context{}, oauth2.NewError(oauth2.ErrInvalidRequestObject, "request object has expired")
	}
	return params.Overlay(joseCtx.Claims()), joseCtx, nil
}

// resolveUser resolves the end user from the request hints, trying
// login_hint, then login_hint_token, then id_token_hint. A missing or
// unresolvable hint is unknown_user_id, never a hint-format detail.
func (s *Service) resolveUser(tenant *tenants.Tenant, client *clients.Client, params Parameters) (*users.User, *oauth2.Error) {
	unknown := oauth2.NewError(oauth2.ErrUnknownUserID, "the end user could not be identified")

	var user *users.User
	switch {
	case params.Has(ParamLoginHint):
		kind, value := users.ParseHint(params.LoginHint())
		found, err := s.repos.Users.FindByHint(tenant.ID, kind, value)
		if err != nil {
			return nil, unknown
		}
		user = found

	case params.Has(ParamLoginHintToken):
		user = s.userFromHintToken(tenant, client, params.LoginHintToken())

	case params.Has(ParamIDTokenHint):
		user = s.userFromIDTokenHint(tenant, params.IDTokenHint())

	default:
		return nil, unknown
	}

	if user == nil || !user.Active() {
		return nil, unknown
	}
	return user, nil
}

// userFromHintToken reads the subject hint from a login_hint_token. The
// token is verified against the client's keys; its payload may identify
// the user by sub, email or phone_number.
func (s *Service) userFromHintToken(tenant *tenants.Tenant, client *clients.Client, token string) *users.User {
	options := []jose.ParserOption{jose.WithSecret(client.Secret)}
	if client.JWKS != "" {
		set, err := jwk.ParseString(client.JWKS)
		if err != nil {
			return nil
		}
		options = append(options, jose.WithClientKeys(set))
	}
	joseCtx, err := jose.NewParser(options...).Parse(token)
	if err != nil || !joseCtx.HasSignature() {
		return nil
	}

	lookups := []struct {
		kind  users.HintKind
		value string
	}{
		{users.HintSubject, joseCtx.StringClaim("sub")},
		{users.HintEmail, joseCtx.StringClaim("email")},
		{users.HintPhone, joseCtx.StringClaim("phone_number")},
	}
	for _, lookup := range lookups {
		if lookup.value == "" {
			continue
		}
		if user, err := s.repos.Users.FindByHint(tenant.ID, lookup.kind, lookup.value); err == nil {
			return user
		}
	}
	return nil
}

// userFromIDTokenHint verifies an id_token_hint against the tenant's own
// published keys and resolves the subject.
func (s *Service) userFromIDTokenHint(tenant *tenants.Tenant, token string) *users.User {
	if tenant.JWKS == "" {
		return nil
	}
	set, err := jwk.ParseString(tenant.JWKS)
	if err != nil {
		return nil
	}
	parser := jose.NewParser(jose.WithServerKeys(set), jose.WithSecret(tenant.HMACSecret))
	joseCtx, err := parser.Parse(token)
	if err != nil || !joseCtx.HasSignature() {
		return nil
	}
	if iss := joseCtx.StringClaim("iss"); iss != tenant.Issuer {
		return nil
	}
	sub := joseCtx.StringClaim("sub")
	if sub == "" {
		return nil
	}
	user, err := s.repos.Users.GetByID(tenant.ID, sub)
	if err != nil {
		return nil
	}
	return user
}

func (s *Service) checkUserCode(client *clients.Client, user *users.User, params Parameters) *oauth2.Error {
	if client.RequireUserCode && !params.Has(ParamUserCode) {
		return oauth2.NewError(oauth2.ErrMissingUserCode, "user_code is required")
	}
	if params.Has(ParamUserCode) && !user.CheckUserCode(params.UserCode()) {
		return oauth2.NewError(oauth2.ErrInvalidUserCode, "user_code is not valid")
	}
	return nil
}

// Approve records the end user's approval on the authentication device.
func (s *Service) Approve(ctx context.Context, tenantID, authReqID string) error {
	return s.finish(tenantID, authReqID, (*BackchannelAuthRequest).Approve)
}

// Deny records the end user's denial on the authentication device.
func (s *Service) Deny(ctx context.Context, tenantID, authReqID string) error {
	return s.finish(tenantID, authReqID, (*BackchannelAuthRequest).Deny)
}

func (s *Service) finish(tenantID, authReqID string, transition func(*BackchannelAuthRequest) error) error {
	request, err := s.repos.Requests.Find(tenantID, authReqID)
	if err != nil {
		return errors.Wrap(err, "[finish] finding backchannel request")
	}
	if request.Expired(s.nowFunc()) && !request.Terminal() {
		if err := request.Expire(); err == nil {
			_ = s.repos.Requests.Update(request)
		}
		return errors.New("[finish] backchannel request has expired")
	}
	if err := transition(request); err != nil {
		return errors.Wrap(err, "[finish] transition")
	}
	return errors.Wrap(s.repos.Requests.Update(request), "[finish] updating backchannel request")
}
