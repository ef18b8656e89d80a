package token

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/authplane/authplane/ciba"
	"github.com/authplane/authplane/grants"
	"github.com/authplane/authplane/internal/utils"
	"github.com/authplane/authplane/jose"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/users"
)

// authorizationCodeGrant redeems a single-use authorization code. The
// repository's atomic consume means a replayed code can never succeed, and
// every binding from issuance time is re-checked here.
func (s *Service) authorizationCodeGrant(ctx context.Context, g *grantContext) (*oauth2.TokenResponse, *oauth2.Error) {
	if g.req.Code == "" {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "code is required")
	}

	codeGrant, found, err := s.repos.CodeGrants.Consume(g.tenant.ID, g.req.Code)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrServerError, "could not redeem code")
	}
	if !found {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "code is invalid or already used")
	}
	if codeGrant.Expired(s.nowFunc()) {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "code has expired")
	}
	if !codeGrant.BoundToClient(g.client.ID) {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "code was issued to another client")
	}
	if codeGrant.RedirectURI != "" && g.req.RedirectURI != codeGrant.RedirectURI {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if !verifyPKCE(codeGrant, g.req.CodeVerifier) {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "code_verifier is not valid")
	}

	return s.issue(g, codeGrant.Grant, issueOptions{
		grantType:   oauth2.GrantTypeAuthorizationCode,
		nonce:       codeGrant.Nonce,
		authTime:    codeGrant.AuthTime,
		withIDToken: true,
		withRefresh: g.tenant.IssuesRefreshTokenFor(oauth2.GrantTypeAuthorizationCode),
	})
}

// refreshTokenGrant rotates a refresh token: the presented token is
// atomically consumed and a fresh pair is issued against the stored grant.
func (s *Service) refreshTokenGrant(ctx context.Context, g *grantContext) (*oauth2.TokenResponse, *oauth2.Error) {
	if g.req.RefreshToken == "" {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "refresh_token is required")
	}

	record, found, err := s.repos.Tokens.ConsumeRefreshToken(g.tenant.ID, g.req.RefreshToken)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrServerError, "could not redeem refresh token")
	}
	if !found {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "refresh token is invalid")
	}
	if record.Grant.ClientID != g.client.ID {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "refresh token was issued to another client")
	}
	if record.RefreshTokenExpired(s.nowFunc()) {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "refresh token has expired")
	}

	grant := record.Grant
	if g.req.Scope != "" {
		requested := oauth2.SplitScopes(g.req.Scope)
		if !grant.Scopes.ContainsAll(requested) {
			return nil, oauth2.NewError(oauth2.ErrInvalidScope, "requested scope exceeds the original grant")
		}
		grant.Scopes = requested
	}

	if grant.Subject != "" {
		user, err := s.repos.Users.GetByID(g.tenant.ID, grant.Subject)
		if err != nil || !user.Active() {
			return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "resource owner is no longer active")
		}
	}

	return s.issue(g, grant, issueOptions{
		grantType:   record.GrantType,
		withIDToken: true,
		withRefresh: true,
	})
}

// clientCredentialsGrant issues a token for the client itself. A refresh
// token is issued only when the tenant explicitly enables it for this grant.
func (s *Service) clientCredentialsGrant(ctx context.Context, g *grantContext) (*oauth2.TokenResponse, *oauth2.Error) {
	scopes, oerr := s.resolveScopes(g)
	if oerr != nil {
		return nil, oerr
	}

	grant := grants.NewAuthorizationGrant("", g.client.ID, scopes)
	return s.issue(g, grant, issueOptions{
		grantType:   oauth2.GrantTypeClientCredentials,
		withRefresh: g.tenant.IssuesRefreshTokenFor(oauth2.GrantTypeClientCredentials),
	})
}

// passwordGrant authenticates the resource owner directly. Every credential
// failure maps to the same invalid_grant so the response does not reveal
// whether the username exists.
func (s *Service) passwordGrant(ctx context.Context, g *grantContext) (*oauth2.TokenResponse, *oauth2.Error) {
	if g.req.Username == "" || g.req.Password == "" {
		return nil, oauth2.NewError(oauth2.ErrInvalidRequest, "username and password are required")
	}

	badCredentials := oauth2.NewError(oauth2.ErrInvalidGrant, "invalid username or password")
	user, err := s.repos.Users.FindByHint(g.tenant.ID, users.HintName, g.req.Username)
	if err != nil {
		return nil, badCredentials
	}
	if !user.CheckPassword(g.req.Password) || !user.Active() {
		return nil, badCredentials
	}

	scopes, oerr := s.resolveScopes(g)
	if oerr != nil {
		return nil, oerr
	}

	grant := grants.NewAuthorizationGrant(user.ID, g.client.ID, scopes)
	return s.issue(g, grant, issueOptions{
		grantType:   oauth2.GrantTypePassword,
		withIDToken: true,
		withRefresh: g.tenant.IssuesRefreshTokenFor(oauth2.GrantTypePassword),
	})
}

// cibaGrant is the poll side of backchannel authentication. The pending
// request gates the outcome: authorization_pending while the end user has
// not decided, slow_down when the client polls too fast, access_denied or
// expired_token for the terminal failures, and tokens exactly once on
// approval.
func (s *Service) cibaGrant(ctx context.Context, g *grantContext) (*oauth2.TokenResponse, *oauth2.Error) {
	request, err := s.repos.CIBARequests.Find(g.tenant.ID, g.req.AuthReqID)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "auth_req_id is not valid")
	}
	if request.ClientID != g.client.ID {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "auth_req_id was issued to another client")
	}

	now := s.nowFunc()
	switch request.Status {
	case ciba.StatusPending:
		if request.Expired(now) {
			if err := request.Expire(); err == nil {
				_ = s.repos.CIBARequests.Update(request)
			}
			return nil, oauth2.NewError(oauth2.ErrExpiredToken, "auth_req_id has expired")
		}
		if request.TooEarly(now) {
			return nil, oauth2.NewError(oauth2.ErrSlowDown, "polling too frequently")
		}
		request.LastPolledAt = now
		_ = s.repos.CIBARequests.Update(request)
		return nil, oauth2.NewError(oauth2.ErrAuthorizationPending, "the end user has not yet been authenticated")

	case ciba.StatusDenied:
		_ = s.repos.CIBARequests.Delete(g.tenant.ID, request.AuthReqID)
		return nil, oauth2.NewError(oauth2.ErrAccessDenied, "the end user denied the request")

	case ciba.StatusExpired:
		return nil, oauth2.NewError(oauth2.ErrExpiredToken, "auth_req_id has expired")

	case ciba.StatusApproved:
		_ = s.repos.CIBARequests.Delete(g.tenant.ID, request.AuthReqID)
		grant := grants.NewAuthorizationGrant(request.Subject, g.client.ID, request.Scopes)
		return s.issue(g, grant, issueOptions{
			grantType:   oauth2.GrantTypeCIBA,
			withIDToken: true,
			withRefresh: g.tenant.IssuesRefreshTokenFor(oauth2.GrantTypeCIBA),
		})
	}
	return nil, oauth2.NewError(oauth2.ErrServerError, "unexpected authentication request state")
}

// jwtBearerGrant exchanges a signed JWT assertion for an access token
// (RFC 7523 §2.1). The assertion's subject names the resource owner.
func (s *Service) jwtBearerGrant(ctx context.Context, g *grantContext) (*oauth2.TokenResponse, *oauth2.Error) {
	invalid := oauth2.NewError(oauth2.ErrInvalidGrant, "assertion is not valid")

	options := []jose.ParserOption{jose.WithSecret(g.client.Secret)}
	if g.client.JWKS != "" {
		set, err := jwk.ParseString(g.client.JWKS)
		if err != nil {
			return nil, invalid
		}
		options = append(options, jose.WithClientKeys(set))
	}
	joseCtx, err := jose.NewParser(options...).Parse(g.req.Assertion)
	if err != nil || !joseCtx.HasSignature() {
		return nil, invalid
	}

	if iss := joseCtx.StringClaim("iss"); iss == "" {
		return nil, invalid
	}
	if !audienceAccepted(joseCtx.StringsClaim("aud"), g.tenant.AssertionAudiences()) {
		return nil, invalid
	}
	exp := joseCtx.TimeClaim("exp")
	if exp.IsZero() || s.nowFunc().After(exp) {
		return nil, invalid
	}
	sub := joseCtx.StringClaim("sub")
	if sub == "" {
		return nil, invalid
	}

	user, err := s.repos.Users.GetByID(g.tenant.ID, sub)
	if err != nil || !user.Active() {
		return nil, oauth2.NewError(oauth2.ErrInvalidGrant, "assertion subject is not a known user")
	}

	scopes, oerr := s.resolveScopes(g)
	if oerr != nil {
		return nil, oerr
	}

	grant := grants.NewAuthorizationGrant(user.ID, g.client.ID, scopes)
	return s.issue(g, grant, issueOptions{
		grantType:   oauth2.GrantTypeJWTBearer,
		withIDToken: true,
		withRefresh: g.tenant.IssuesRefreshTokenFor(oauth2.GrantTypeJWTBearer),
	})
}

type issueOptions struct {
	grantType   oauth2.GrantType
	nonce       string
	authTime    time.Time
	withIDToken bool
	withRefresh bool
}

// issue mints the token pair for a grant, records it, and assembles the
// response. Certificate binding from the authentication outcome flows into
// the access token's cnf claim.
func (s *Service) issue(g *grantContext, grant grants.AuthorizationGrant, opts issueOptions) (*oauth2.TokenResponse, *oauth2.Error) {
	access, err := s.issuer.IssueAccessToken(g.tenant, grant, g.creds.CertThumbprint)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrServerError, "could not issue access token")
	}

	now := s.nowFunc()
	record := &OAuthToken{
		ID:                   uuid.NewString(),
		TenantID:             g.tenant.ID,
		GrantType:            opts.grantType,
		Grant:                grant,
		AccessTokenJTI:       access.JTI,
		CertThumbprint:       g.creds.CertThumbprint,
		IssuedAt:             now,
		AccessTokenExpiresAt: access.ExpiresAt,
	}

	response := &oauth2.TokenResponse{
		AccessToken:          utils.Ptr(access.Signed),
		TokenType:            oauth2.TokenTypeBearer,
		ExpiresIn:            int(access.ExpiresAt.Sub(now).Seconds()),
		Scope:                grant.Scopes.String(),
		AuthorizationDetails: grant.AuthorizationDetails,
	}

	if opts.withIDToken && grant.HasOpenIDScope() && grant.Subject != "" {
		user, err := s.repos.Users.GetByID(g.tenant.ID, grant.Subject)
		if err != nil {
			return nil, oauth2.NewError(oauth2.ErrServerError, "could not resolve the token subject")
		}
		idToken, err := s.issuer.IssueIDToken(g.tenant, user, g.client.ID, opts.nonce, opts.authTime, grant.IDTokenClaims)
		if err != nil {
			return nil, oauth2.NewError(oauth2.ErrServerError, "could not issue id token")
		}
		response.IdToken = utils.Ptr(idToken)
	}

	if opts.withRefresh {
		refreshToken, err := s.issuer.NewRefreshToken()
		if err != nil {
			return nil, oauth2.NewError(oauth2.ErrServerError, "could not issue refresh token")
		}
		record.RefreshToken = refreshToken
		record.RefreshTokenExpiresAt = now.Add(s.issuer.RefreshTokenExpiry(g.tenant))
		response.RefreshToken = utils.Ptr(refreshToken)
	}

	if err := s.repos.Tokens.Register(record); err != nil {
		return nil, oauth2.NewError(oauth2.ErrServerError, "could not record issued token")
	}
	return response, nil
}

// resolveScopes applies client and tenant scope policy to the requested
// scope parameter, defaulting to the client's full registration when the
// parameter is absent.
func (s *Service) resolveScopes(g *grantContext) (oauth2.Scopes, *oauth2.Error) {
	var requested oauth2.Scopes
	if g.req.Scope != "" {
		requested = oauth2.SplitScopes(g.req.Scope)
	} else {
		requested = oauth2.Scopes(g.client.Scopes)
	}
	effective := g.client.FilterScopes(requested).Intersect(oauth2.Scopes(g.tenant.Scopes))
	if len(effective) == 0 {
		return nil, oauth2.NewError(oauth2.ErrInvalidScope, "no requested scope is allowed for the client")
	}
	return effective, nil
}

// verifyPKCE checks the code_verifier against the challenge captured at
// authorization time. A code issued without a challenge ignores the
// verifier; a code with one requires it.
func verifyPKCE(grant grants.AuthorizationCodeGrant, verifier string) bool {
	if grant.CodeChallenge == "" {
		return true
	}
	if verifier == "" {
		return false
	}
	switch grant.CodeChallengeMethod {
	case oauth2.CodeMethodTypeS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(grant.CodeChallenge)) == 1
	default: // plain
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(grant.CodeChallenge)) == 1
	}
}

func audienceAccepted(presented, accepted []string) bool {
	for _, p := range presented {
		for _, a := range accepted {
			if p == a {
				return true
			}
		}
	}
	return false
}
