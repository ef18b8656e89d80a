package authorize

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/authplane/authplane/clients"
	"github.com/authplane/authplane/grants"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/tenants"
)

const defaultAuthCodeExpiry = 10 * time.Minute

// Status is the outcome of handling an authorization request.
type Status string

const (
	// StatusOK means interaction is required; the caller drives login/consent
	// with the returned request ID.
	StatusOK Status = "OK"
	// StatusOKSessionEnable means a usable session exists and the interaction
	// layer may offer single sign-on.
	StatusOKSessionEnable Status = "OK_SESSION_ENABLE"
	// StatusOKAccountCreation means the client asked for account creation
	// (prompt=create).
	StatusOKAccountCreation Status = "OK_ACCOUNT_CREATION"
	// StatusNoInteractionOK means prompt=none succeeded: the response
	// redirect already carries the authorization code.
	StatusNoInteractionOK Status = "NO_INTERACTION_OK"
	// StatusRedirectableBadRequest means the error is delivered to the
	// client's validated redirect URI.
	StatusRedirectableBadRequest Status = "REDIRECTABLE_BAD_REQUEST"
	// StatusBadRequest means the error must be shown directly; the redirect
	// URI was absent or unverified.
	StatusBadRequest Status = "BAD_REQUEST"
	// StatusServerError is an unexpected internal failure.
	StatusServerError Status = "SERVER_ERROR"
)

// Response is the outcome of Authorize, Approve or Deny. RedirectURI is the
// fully assembled redirect for query/fragment response modes; for form_post
// the HTTP layer renders Params against RedirectURI instead.
type Response struct {
	Status                 Status
	AuthorizationRequestID string
	SessionKey             string
	RedirectURI            string
	ResponseMode           oauth2.ResponseModeType
	Params                 url.Values
	Err                    *oauth2.Error
}

// Session is the resource-owner session the interaction layer resolved for
// the inbound user agent.
type Session struct {
	Subject   string
	AuthTime  time.Time
	ExpiresAt time.Time
}

// Active reports whether the session is usable at the given instant, within
// the request's max_age window when one applies.
func (s *Session) Active(now time.Time, maxAge int) bool {
	if s == nil || s.Subject == "" || now.After(s.ExpiresAt) {
		return false
	}
	if maxAge > 0 && now.After(s.AuthTime.Add(time.Duration(maxAge)*time.Second)) {
		return false
	}
	return true
}

// SessionResolver resolves the session bound to the inbound user agent.
// Returning (nil, nil) means no session exists; that is not an error.
type SessionResolver interface {
	Resolve(ctx context.Context, tenantID string) (*Session, error)
}

// Consent is the resource owner's decision redeemed through Approve.
type Consent struct {
	Subject          string
	AuthTime         time.Time
	IDTokenClaims    []string
	UserinfoClaims   []string
	CustomProperties map[string]string
	ConsentClaims    map[string]time.Time

	// ReplaceExisting overwrites the stored consent record instead of
	// merging into it.
	ReplaceExisting bool
}

// Repos bundles the stores the authorization service depends on.
type Repos struct {
	Tenants    tenants.Repo
	Clients    clients.Repo
	Requests   RequestRepo
	Granted    grants.GrantedRepo
	CodeGrants grants.CodeGrantRepo
}

// Service is the authorization endpoint core: it analyzes requests, decides
// whether interaction is needed, and redeems the resource owner's decision
// into a single-use authorization code.
type Service struct {
	repos    Repos
	creator  *ContextCreator
	sessions SessionResolver
	nowFunc  func() time.Time
	newCode  func() (string, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSessionResolver installs the session collaborator. Without one,
// prompt=none always fails with login_required.
func WithSessionResolver(resolver SessionResolver) ServiceOption {
	return func(s *Service) { s.sessions = resolver }
}

// WithServiceNowFunc overrides the clock, for tests.
func WithServiceNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) { s.nowFunc = now }
}

// WithCodeFunc overrides authorization code generation, for tests.
func WithCodeFunc(newCode func() (string, error)) ServiceOption {
	return func(s *Service) { s.newCode = newCode }
}

// NewService builds the authorization service.
func NewService(repos Repos, creator *ContextCreator, options ...ServiceOption) *Service {
	s := &Service{
		repos:   repos,
		creator: creator,
		nowFunc: time.Now,
		newCode: newAuthorizationCode,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Authorize handles an inbound authorization request for the tenant
// identified by issuer. It never returns a Go error; every failure is
// mapped onto a Response status.
func (s *Service) Authorize(ctx context.Context, issuer string, values url.Values) *Response {
	tenant, err := s.repos.Tenants.GetByIssuer(issuer)
	if err != nil {
		return badRequest(oauth2.NewError(oauth2.ErrInvalidRequest, "unknown issuer"))
	}

	params := NewParameters(values)
	if params.ClientID() == "" {
		return badRequest(oauth2.NewError(oauth2.ErrInvalidRequest, "client_id is required"))
	}
	client, err := s.repos.Clients.Get(tenant.ID, params.ClientID())
	if err != nil {
		return badRequest(oauth2.NewError(oauth2.ErrInvalidRequest, "client is not registered"))
	}

	authCtx, oerr := s.creator.Create(ctx, tenant, client, params)
	if oerr != nil {
		return s.errorResponse(oerr)
	}
	request := authCtx.Request()
	if err := s.repos.Requests.Register(request); err != nil {
		return serverError()
	}

	session := s.resolveSession(ctx, tenant.ID)

	if params.HasPrompt("none") {
		return s.authorizeWithoutInteraction(tenant, request, session)
	}

	status := StatusOK
	switch {
	case params.HasPrompt("create"):
		status = StatusOKAccountCreation
	case session.Active(s.nowFunc(), request.MaxAge) && !params.HasPrompt("login"):
		status = StatusOKSessionEnable
	}
	return &Response{
		Status:                 status,
		AuthorizationRequestID: request.ID,
		SessionKey:             uuid.NewString(),
	}
}

// authorizeWithoutInteraction implements prompt=none: it succeeds only when
// a usable session exists and prior consent already covers the request.
func (s *Service) authorizeWithoutInteraction(tenant *tenants.Tenant, request *AuthorizationRequest, session *Session) *Response {
	now := s.nowFunc()
	if !session.Active(now, request.MaxAge) {
		return s.errorResponse(s.redirectError(request, oauth2.ErrLoginRequired, "no active session"))
	}

	granted, err := s.repos.Granted.FindByClientAndSubject(tenant.ID, request.ClientID, session.Subject)
	if err != nil || !granted.Exists() || !granted.IsGrantedScopes(request.Scopes) {
		return s.errorResponse(s.redirectError(request, oauth2.ErrInteractionRequired, "consent is required"))
	}

	response, err := s.issueCode(tenant, request, granted.Grant, session.AuthTime)
	if err != nil {
		return serverError()
	}
	_ = s.repos.Requests.Delete(tenant.ID, request.ID)
	response.Status = StatusNoInteractionOK
	return response
}

// Approve redeems the resource owner's approval of a pending authorization
// request: it records consent and answers with a single-use code redirect.
func (s *Service) Approve(ctx context.Context, issuer, requestID string, consent Consent) *Response {
	tenant, request, resp := s.redeemRequest(issuer, requestID)
	if resp != nil {
		return resp
	}
	if consent.Subject == "" {
		return badRequest(oauth2.NewError(oauth2.ErrInvalidRequest, "subject is required"))
	}

	now := s.nowFunc()
	authTime := consent.AuthTime
	if authTime.IsZero() {
		authTime = now
	}

	incoming := grants.NewAuthorizationGrant(consent.Subject, request.ClientID, request.Scopes,
		grants.WithIDTokenClaims(consent.IDTokenClaims...),
		grants.WithUserinfoClaims(consent.UserinfoClaims...),
		grants.WithCustomProperties(consent.CustomProperties),
		grants.WithAuthorizationDetails(request.AuthorizationDetails),
		grants.WithConsentClaims(consent.ConsentClaims),
	)

	if err := s.recordConsent(tenant, request, incoming, consent.ReplaceExisting, now); err != nil {
		return serverError()
	}

	response, err := s.issueCode(tenant, request, incoming, authTime)
	if err != nil {
		return serverError()
	}
	_ = s.repos.Requests.Delete(tenant.ID, request.ID)
	response.Status = StatusOK
	return response
}

// Deny redeems a denial: the pending request is dropped and the client is
// told access_denied at its redirect URI.
func (s *Service) Deny(ctx context.Context, issuer, requestID string) *Response {
	tenant, request, resp := s.redeemRequest(issuer, requestID)
	if resp != nil {
		return resp
	}
	_ = s.repos.Requests.Delete(tenant.ID, request.ID)
	return s.errorResponse(s.redirectError(request, oauth2.ErrAccessDenied, "the resource owner denied the request"))
}

func (s *Service) redeemRequest(issuer, requestID string) (*tenants.Tenant, *AuthorizationRequest, *Response) {
	tenant, err := s.repos.Tenants.GetByIssuer(issuer)
	if err != nil {
		return nil, nil, badRequest(oauth2.NewError(oauth2.ErrInvalidRequest, "unknown issuer"))
	}
	request, err := s.repos.Requests.Find(tenant.ID, requestID)
	if err != nil {
		return nil, nil, badRequest(oauth2.NewError(oauth2.ErrInvalidRequest, "unknown authorization request"))
	}
	if request.Expired(s.nowFunc()) {
		_ = s.repos.Requests.Delete(tenant.ID, request.ID)
		return nil, nil, s.errorResponse(s.redirectError(request, oauth2.ErrInvalidRequest, "authorization request expired"))
	}
	return tenant, request, nil
}

func (s *Service) recordConsent(tenant *tenants.Tenant, request *AuthorizationRequest, incoming grants.AuthorizationGrant, replace bool, now time.Time) error {
	granted, err := s.repos.Granted.FindByClientAndSubject(tenant.ID, request.ClientID, incoming.Subject)
	if err != nil || !granted.Exists() {
		granted = grants.AuthorizationGranted{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			Grant:     incoming,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else if replace {
		granted = granted.Replace(incoming, now)
	} else {
		granted = granted.Merge(incoming, now)
	}
	return errors.Wrap(s.repos.Granted.Put(granted), "[recordConsent] storing consent")
}

// issueCode mints a single-use authorization code bound to the request and
// builds the success redirect.
func (s *Service) issueCode(tenant *tenants.Tenant, request *AuthorizationRequest, grant grants.AuthorizationGrant, authTime time.Time) (*Response, error) {
	code, err := s.newCode()
	if err != nil {
		return nil, errors.Wrap(err, "[issueCode] generating code")
	}

	expiry := tenant.AuthCodeExpiry
	if expiry <= 0 {
		expiry = defaultAuthCodeExpiry
	}
	codeGrant := grants.AuthorizationCodeGrant{
		Code:                   code,
		TenantID:               tenant.ID,
		AuthorizationRequestID: request.ID,
		Grant:                  grant,
		RedirectURI:            request.RedirectURI,
		CodeChallenge:          request.CodeChallenge,
		CodeChallengeMethod:    request.CodeChallengeMethod,
		Nonce:                  request.Nonce,
		AuthTime:               authTime,
		ExpiresAt:              s.nowFunc().Add(expiry),
	}
	if err := s.repos.CodeGrants.Register(codeGrant); err != nil {
		return nil, errors.Wrap(err, "[issueCode] registering code grant")
	}

	params := url.Values{}
	params.Set("code", code)
	if request.State != "" {
		params.Set("state", request.State)
	}
	return &Response{
		AuthorizationRequestID: request.ID,
		RedirectURI:            buildRedirect(request.RedirectURI, request.ResponseMode, params),
		ResponseMode:           request.ResponseMode,
		Params:                 params,
	}, nil
}

func (s *Service) resolveSession(ctx context.Context, tenantID string) *Session {
	if s.sessions == nil {
		return nil
	}
	session, err := s.sessions.Resolve(ctx, tenantID)
	if err != nil {
		return nil
	}
	return session
}

func (s *Service) redirectError(request *AuthorizationRequest, code oauth2.ErrorCode, description string) *oauth2.Error {
	oerr := oauth2.NewRedirectableError(code, request.RedirectURI, request.State, "%s", description)
	oerr.ResponseMode = request.ResponseMode
	return oerr
}

func (s *Service) errorResponse(oerr *oauth2.Error) *Response {
	if !oerr.Redirectable() {
		return badRequest(oerr)
	}
	params := url.Values{}
	params.Set("error", string(oerr.Code))
	if oerr.Description != "" {
		params.Set("error_description", oerr.Description)
	}
	if oerr.State != "" {
		params.Set("state", oerr.State)
	}
	return &Response{
		Status:       StatusRedirectableBadRequest,
		RedirectURI:  buildRedirect(oerr.RedirectURI, oerr.ResponseMode, params),
		ResponseMode: oerr.ResponseMode,
		Params:       params,
		Err:          oerr,
	}
}

func badRequest(oerr *oauth2.Error) *Response {
	return &Response{Status: StatusBadRequest, Err: oerr}
}

func serverError() *Response {
	return &Response{Status: StatusServerError, Err: oauth2.NewError(oauth2.ErrServerError, "internal error")}
}

// buildRedirect assembles the redirect for query and fragment response
// modes. form_post keeps the base URI; the HTTP layer renders the form.
func buildRedirect(redirectURI string, mode oauth2.ResponseModeType, params url.Values) string {
	if mode == oauth2.FormPostResponseMode {
		return redirectURI
	}
	target, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	if mode == oauth2.FragmentResponseMode {
		target.Fragment = params.Encode()
		return target.String()
	}
	query := target.Query()
	for key, values := range params {
		for _, v := range values {
			query.Set(key, v)
		}
	}
	target.RawQuery = query.Encode()
	return target.String()
}

// newAuthorizationCode returns a 256-bit random, URL-safe code.
func newAuthorizationCode() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
