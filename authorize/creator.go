package authorize

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/authplane/authplane/clients"
	"github.com/authplane/authplane/jose"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/tenants"
)

const defaultAuthRequestExpiry = 10 * time.Minute

// ObjectFetcher retrieves a request object referenced by request_uri. The
// transport, caching and timeout policy belong to the implementation; the
// creator only cares about the compact JWT string or an error.
type ObjectFetcher interface {
	Fetch(ctx context.Context, uri string) (string, error)
}

// analysis is what a pattern factory produces: the effective parameter set
// after any request-object overlay, plus the verified JOSE envelope.
type analysis struct {
	params Parameters
	jose   jose.Context
}

type patternFactory func(ctx context.Context, client *clients.Client, params Parameters, redirect redirectTarget) (analysis, *oauth2.Error)

// redirectTarget is the already-validated redirect destination for errors
// raised during analysis.
type redirectTarget struct {
	uri          string
	state        string
	responseMode oauth2.ResponseModeType
}

func (r redirectTarget) errorf(code oauth2.ErrorCode, format string, args ...any) *oauth2.Error {
	err := oauth2.NewRedirectableError(code, r.uri, r.state, format, args...)
	err.ResponseMode = r.responseMode
	return err
}

// ContextCreator analyzes inbound authorization requests. It detects the
// conveyance pattern, resolves and verifies request objects, applies scope
// policy and produces an immutable Context. One creator serves all tenants.
type ContextCreator struct {
	fetcher   ObjectFetcher
	factories map[RequestPattern]patternFactory
	nowFunc   func() time.Time
	newID     func() string
}

// CreatorOption configures a ContextCreator.
type CreatorOption func(*ContextCreator)

// WithObjectFetcher installs the request_uri fetcher. Without one, every
// request_uri request is rejected.
func WithObjectFetcher(fetcher ObjectFetcher) CreatorOption {
	return func(c *ContextCreator) { c.fetcher = fetcher }
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) CreatorOption {
	return func(c *ContextCreator) { c.nowFunc = now }
}

// WithRequestIDFunc overrides request ID generation, for tests.
func WithRequestIDFunc(newID func() string) CreatorOption {
	return func(c *ContextCreator) { c.newID = newID }
}

// NewContextCreator builds a creator with one factory per request pattern.
// The factory table is fixed at construction; unknown patterns cannot occur
// because DetectPattern is total.
func NewContextCreator(options ...CreatorOption) *ContextCreator {
	c := &ContextCreator{
		nowFunc: time.Now,
		newID:   NewRequestID,
	}
	for _, opt := range options {
		opt(c)
	}
	c.factories = map[RequestPattern]patternFactory{
		PatternNormal:        c.normalPattern,
		PatternRequestObject: c.requestObjectPattern,
		PatternRequestURI:    c.requestURIPattern,
	}
	return c
}

// Create analyzes the raw parameters for the given tenant and client and
// returns the authorization context. A returned *oauth2.Error is
// redirectable only once the redirect URI has been validated against the
// client's registration; everything before that stays non-redirectable so
// errors are never sent to an unverified destination.
func (c *ContextCreator) Create(ctx context.Context, tenant *tenants.Tenant, client *clients.Client, params Parameters) (Context, *oauth2.Error) {
	for _, key := range []string{
		ParamClientID, ParamRedirectURI, ParamResponseType, ParamScope,
		ParamState, ParamRequest, ParamRequestURI, ParamCodeChallenge,
	} {
		if params.MultiValued(key) {
			return Context{}, oauth2.NewError(oauth2.ErrInvalidRequest, "duplicate %s parameter", key)
		}
	}

	redirectURI, oerr := resolveRedirectURI(client, params)
	if oerr != nil {
		return Context{}, oerr
	}
	redirect := redirectTarget{
		uri:          redirectURI,
		state:        params.State(),
		responseMode: params.ResponseMode(),
	}

	pattern := DetectPattern(params)
	result, oerr := c.factories[pattern](ctx, client, params, redirect)
	if oerr != nil {
		return Context{}, oerr
	}

	// The request object's claims are authoritative: refresh the
	// state/response_mode echoed in errors and adopt its redirect_uri once
	// it passes registration, so an unverified destination never wins.
	redirect.state = result.params.State()
	redirect.responseMode = result.params.ResponseMode()
	if uri := result.params.RedirectURI(); uri != redirect.uri {
		if !client.HasRedirectURI(uri) {
			return Context{}, oauth2.NewError(oauth2.ErrInvalidRequest, "redirect_uri is not registered for the client")
		}
		redirect.uri = uri
	}

	request, oerr := c.buildRequest(tenant, client, pattern, result, redirect)
	if oerr != nil {
		return Context{}, oerr
	}

	return Context{
		tenant:  tenant,
		client:  client,
		request: request,
		pattern: pattern,
		jose:    result.jose,
	}, nil
}

func (c *ContextCreator) normalPattern(_ context.Context, client *clients.Client, params Parameters, redirect redirectTarget) (analysis, *oauth2.Error) {
	if client.RequireSignedRequestObject {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequest, "client requires a signed request object")
	}
	return analysis{params: params, jose: jose.EmptyContext()}, nil
}

func (c *ContextCreator) requestObjectPattern(_ context.Context, client *clients.Client, params Parameters, redirect redirectTarget) (analysis, *oauth2.Error) {
	return c.analyzeRequestObject(client, params, params.Request(), redirect)
}

func (c *ContextCreator) requestURIPattern(ctx context.Context, client *clients.Client, params Parameters, redirect redirectTarget) (analysis, *oauth2.Error) {
	uri := params.RequestURI()
	if c.fetcher == nil {
		return analysis{}, redirect.errorf(oauth2.ErrRequestURINotSupported, "request_uri is not supported")
	}
	if !client.HasRequestURI(uri) {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequestURI, "request_uri is not registered for the client")
	}
	object, err := c.fetcher.Fetch(ctx, uri)
	if err != nil {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequestURI, "request object could not be retrieved")
	}
	return c.analyzeRequestObject(client, params, object, redirect)
}

// analyzeRequestObject verifies the request object and overlays its claims
// onto the plain parameters. Verification failures fail closed with a
// redirectable error; the redirect URI itself was validated from the plain
// parameters beforehand.
func (c *ContextCreator) analyzeRequestObject(client *clients.Client, params Parameters, object string, redirect redirectTarget) (analysis, *oauth2.Error) {
	parser, err := c.requestObjectParser(client)
	if err != nil {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequestObject, "client key set is not usable")
	}

	joseCtx, err := parser.Parse(object)
	if err != nil || !joseCtx.Exists() {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequestObject, "request object verification failed")
	}
	if client.RequireSignedRequestObject && !joseCtx.HasSignature() {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequestObject, "request object must be signed")
	}
	if exp := joseCtx.TimeClaim("exp"); joseCtx.HasClaim("exp") && c.nowFunc().After(exp) {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequestObject, "request object has expired")
	}
	if id := joseCtx.StringClaim("client_id"); id != "" && id != client.ID {
		return analysis{}, redirect.errorf(oauth2.ErrInvalidRequestObject, "request object client_id mismatch")
	}

	return analysis{params: params.Overlay(joseCtx.Claims()), jose: joseCtx}, nil
}

func (c *ContextCreator) requestObjectParser(client *clients.Client) (*jose.Parser, error) {
	options := []jose.ParserOption{jose.WithSecret(client.Secret)}
	if client.JWKS != "" {
		set, err := jwk.ParseString(client.JWKS)
		if err != nil {
			return nil, err
		}
		options = append(options, jose.WithClientKeys(set))
	}
	if !client.RequireSignedRequestObject {
		options = append(options, jose.WithAllowUnsigned())
	}
	return jose.NewParser(options...), nil
}

// buildRequest validates the effective parameters and assembles the
// persisted request entity.
func (c *ContextCreator) buildRequest(tenant *tenants.Tenant, client *clients.Client, pattern RequestPattern, result analysis, redirect redirectTarget) (*AuthorizationRequest, *oauth2.Error) {
	params := result.params

	if params.ResponseType() != oauth2.CodeResponseType {
		return nil, redirect.errorf(oauth2.ErrUnsupportedResponseType, "only the code response type is supported")
	}
	switch params.ResponseMode() {
	case "", oauth2.QueryResponseMode, oauth2.FragmentResponseMode, oauth2.FormPostResponseMode:
	default:
		return nil, redirect.errorf(oauth2.ErrInvalidRequest, "unsupported response_mode %q", params.ResponseMode())
	}

	requested := params.Scopes()
	if len(requested) == 0 {
		return nil, redirect.errorf(oauth2.ErrInvalidScope, "scope is required")
	}
	effective := client.FilterScopes(requested).Intersect(oauth2.Scopes(tenant.Scopes))
	if len(effective) == 0 {
		return nil, redirect.errorf(oauth2.ErrInvalidScope, "no requested scope is allowed for the client")
	}

	challenge := params.CodeChallenge()
	method := params.CodeChallengeMethod()
	if challenge == "" && client.IsPublic() {
		return nil, redirect.errorf(oauth2.ErrInvalidRequest, "code_challenge is required for public clients")
	}
	if challenge != "" {
		switch method {
		case "":
			method = oauth2.CodeMethodTypePlain
		case oauth2.CodeMethodTypeS256, oauth2.CodeMethodTypePlain:
		default:
			return nil, redirect.errorf(oauth2.ErrInvalidRequest, "unsupported code_challenge_method %q", method)
		}
	}

	profile := tenant.ClassifyProfile(effective)
	if profile == oauth2.ProfileFAPIAdvanced && !result.jose.HasSignature() {
		return nil, redirect.errorf(oauth2.ErrInvalidRequest, "a signed request object is required for the requested scopes")
	}

	maxAge := params.MaxAge()
	if maxAge < 0 {
		maxAge = tenant.DefaultMaxAge
	}

	expiry := tenant.AuthRequestExpiry
	if expiry <= 0 {
		expiry = defaultAuthRequestExpiry
	}
	now := c.nowFunc()

	return &AuthorizationRequest{
		ID:                   c.newID(),
		TenantID:             tenant.ID,
		ClientID:             client.ID,
		Pattern:              pattern,
		Profile:              profile,
		ResponseType:         params.ResponseType(),
		ResponseMode:         params.ResponseMode(),
		RedirectURI:          redirect.uri,
		Scopes:               effective,
		State:                params.State(),
		Nonce:                params.Nonce(),
		Display:              params.Display(),
		Prompt:               params.Get(ParamPrompt),
		MaxAge:               maxAge,
		UILocales:            params.UILocales(),
		IDTokenHint:          params.IDTokenHint(),
		LoginHint:            params.LoginHint(),
		AcrValues:            params.AcrValues(),
		ClaimsValue:          params.ClaimsValue(),
		CodeChallenge:        challenge,
		CodeChallengeMethod:  method,
		AuthorizationDetails: params.AuthorizationDetails(),
		CreatedAt:            now,
		ExpiresAt:            now.Add(expiry),
	}, nil
}

// resolveRedirectURI validates the redirect_uri parameter against the
// client registration. Until this succeeds no error is redirectable.
func resolveRedirectURI(client *clients.Client, params Parameters) (string, *oauth2.Error) {
	uri := params.RedirectURI()
	if uri == "" {
		if len(client.RedirectURIs) == 1 {
			return client.RedirectURIs[0], nil
		}
		return "", oauth2.NewError(oauth2.ErrInvalidRequest, "redirect_uri is required")
	}
	if !client.HasRedirectURI(uri) {
		return "", oauth2.NewError(oauth2.ErrInvalidRequest, "redirect_uri is not registered for the client")
	}
	return uri, nil
}
