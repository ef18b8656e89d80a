package token_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/ciba"
	fakecibarepo "github.com/authplane/authplane/ciba/repofake"
	"github.com/authplane/authplane/clientauth"
	"github.com/authplane/authplane/clients"
	fakeclientrepo "github.com/authplane/authplane/clients/fakerepo"
	"github.com/authplane/authplane/grants"
	fakegrantrepo "github.com/authplane/authplane/grants/repofake"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/tenants"
	tenantrepofakes "github.com/authplane/authplane/tenants/repofakes"
	"github.com/authplane/authplane/token"
	faketokenrepo "github.com/authplane/authplane/token/repofake"
	"github.com/authplane/authplane/users"
	fakeuserrepo "github.com/authplane/authplane/users/repofake"
)

const (
	testIssuer       = "https://tenant-1.auth.example.com"
	testTenantID     = "tenant-1"
	testClientID     = "client-1"
	testClientSecret = "token-client-secret"
	testUserID       = "user-1"
	testUsername     = "janedoe"
	testUserPassword = "correct horse battery staple"
	testRedirectURI  = "http://localhost:3000/callback"
	testCodeVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type serviceFixture struct {
	tenants    tenants.Repo
	clients    clients.Repo
	users      users.UserRepo
	codeGrants grants.CodeGrantRepo
	granted    grants.GrantedRepo
	tokens     token.Repo
	cibaReqs   ciba.Repo
	issuer     *token.Issuer
	service    *token.Service
	tenant     *tenants.Tenant
	now        time.Time
}

func setupServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		tenants:    tenantrepofakes.NewFakeTenantRepo(),
		clients:    fakeclientrepo.NewFakeClientRepo(),
		users:      fakeuserrepo.NewFakeUserRepo(),
		codeGrants: fakegrantrepo.NewFakeCodeGrantRepo(),
		granted:    fakegrantrepo.NewFakeGrantedRepo(),
		tokens:     faketokenrepo.NewFakeTokenRepo(),
		cibaReqs:   fakecibarepo.NewFakeRepo(),
		now:        time.Now().Truncate(time.Second),
	}

	f.tenant = &tenants.Tenant{
		ID:            testTenantID,
		Issuer:        testIssuer,
		TokenEndpoint: testIssuer + "/oauth2/token",
		Audience:      "https://api.example.com",
		SignerType:    tenants.SignerTypeHMAC,
		Scopes:        []string{"openid", "profile", "email", "api:read"},
		GrantTypes: []oauth2.GrantType{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypeRefreshToken,
			oauth2.GrantTypeClientCredentials,
			oauth2.GrantTypePassword,
			oauth2.GrantTypeCIBA,
			oauth2.GrantTypeJWTBearer,
		},
		RefreshTokenGrants: []oauth2.GrantType{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypePassword,
			oauth2.GrantTypeCIBA,
		},
	}
	_, err := token.GenerateSignerForTenant(f.tenant)
	require.NoError(t, err)
	require.NoError(t, f.tenants.Upsert(f.tenant))

	require.NoError(t, f.clients.Upsert(testTenantID, &clients.Client{
		ID:         testClientID,
		TenantID:   testTenantID,
		Type:       clients.ClientTypeConfidential,
		Secret:     testClientSecret,
		AuthMethod: oauth2.AuthMethodClientSecretPost,
		Scopes:     []string{"openid", "profile", "email", "api:read"},
		GrantTypes: f.tenant.GrantTypes,
	}))

	passwordHash, err := users.HashPassword(testUserPassword)
	require.NoError(t, err)
	require.NoError(t, f.users.Upsert(&users.User{
		ID:           testUserID,
		TenantID:     testTenantID,
		Username:     testUsername,
		Email:        "jane.doe@example.com",
		PasswordHash: passwordHash,
		Verified:     true,
	}))

	f.issuer = token.NewIssuer(token.WithNowFunc(func() time.Time { return f.now }))
	f.service = token.NewService(token.Repos{
		Tenants:      f.tenants,
		Clients:      f.clients,
		Users:        f.users,
		CodeGrants:   f.codeGrants,
		Granted:      f.granted,
		Tokens:       f.tokens,
		CIBARequests: f.cibaReqs,
	}, clientauth.NewAuthenticator(), f.issuer,
		token.WithServiceNowFunc(func() time.Time { return f.now }),
	)

	return f
}

func (f *serviceFixture) handle(values url.Values) (*oauth2.TokenResponse, *oauth2.Error) {
	return f.service.Handle(context.Background(), testIssuer, values, clientauth.Request{
		ClientID:   testClientID,
		PostSecret: testClientSecret,
	})
}

// registerCode places an authorization-code grant as the authorize flow
// would, with PKCE S256 bindings derived from testCodeVerifier.
func (f *serviceFixture) registerCode(t *testing.T, code string, scopes oauth2.Scopes) {
	t.Helper()
	sum := sha256.Sum256([]byte(testCodeVerifier))
	require.NoError(t, f.codeGrants.Register(grants.AuthorizationCodeGrant{
		Code:                code,
		TenantID:            testTenantID,
		Grant:               grants.NewAuthorizationGrant(testUserID, testClientID, scopes),
		RedirectURI:         testRedirectURI,
		CodeChallenge:       base64.RawURLEncoding.EncodeToString(sum[:]),
		CodeChallengeMethod: oauth2.CodeMethodTypeS256,
		Nonce:               "n-0S6_WzA2Mj",
		AuthTime:            f.now.Add(-time.Minute),
		ExpiresAt:           f.now.Add(time.Minute),
	}))
}

func (f *serviceFixture) parseClaims(t *testing.T, signed string) jwt.MapClaims {
	t.Helper()
	parsed, err := jwt.Parse(signed, func(*jwt.Token) (any, error) {
		return []byte(f.tenant.HMACSecret), nil
	})
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	return claims
}

func codeValues(code string) url.Values {
	return url.Values{
		"grant_type":    {string(oauth2.GrantTypeAuthorizationCode)},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {testCodeVerifier},
	}
}

func TestAuthorizationCodeGrantIssuesTokens(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCode(t, "code-1", oauth2.Scopes{"openid", "profile"})

	resp, oerr := f.handle(codeValues("code-1"))
	require.Nil(t, oerr)
	require.NotNil(t, resp.AccessToken)
	require.NotNil(t, resp.IdToken)
	require.NotNil(t, resp.RefreshToken)
	require.Equal(t, oauth2.TokenTypeBearer, resp.TokenType)
	require.Equal(t, "openid profile", resp.Scope)

	access := f.parseClaims(t, *resp.AccessToken)
	require.Equal(t, testIssuer, access["iss"])
	require.Equal(t, testUserID, access["sub"])
	require.Equal(t, "https://api.example.com", access["aud"])
	require.Equal(t, testClientID, access["client_id"])

	idToken := f.parseClaims(t, *resp.IdToken)
	require.Equal(t, testUserID, idToken["sub"])
	require.Equal(t, testClientID, idToken["aud"])
	require.Equal(t, "n-0S6_WzA2Mj", idToken["nonce"])
	require.EqualValues(t, f.now.Add(-time.Minute).Unix(), idToken["auth_time"])
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCode(t, "code-1", oauth2.Scopes{"openid"})

	_, oerr := f.handle(codeValues("code-1"))
	require.Nil(t, oerr)

	_, oerr = f.handle(codeValues("code-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestAuthorizationCodeRequiresMatchingVerifier(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCode(t, "code-1", oauth2.Scopes{"openid"})

	values := codeValues("code-1")
	values.Set("code_verifier", "not-the-registered-verifier")
	_, oerr := f.handle(values)
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)

	f.registerCode(t, "code-2", oauth2.Scopes{"openid"})
	values = codeValues("code-2")
	values.Del("code_verifier")
	_, oerr = f.handle(values)
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestAuthorizationCodeRedirectURIMismatch(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCode(t, "code-1", oauth2.Scopes{"openid"})

	values := codeValues("code-1")
	values.Set("redirect_uri", "http://localhost:3000/other")
	_, oerr := f.handle(values)
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestAuthorizationCodeBoundToClient(t *testing.T) {
	f := setupServiceFixture(t)
	require.NoError(t, f.clients.Upsert(testTenantID, &clients.Client{
		ID:         "other-client",
		TenantID:   testTenantID,
		Type:       clients.ClientTypeConfidential,
		Secret:     testClientSecret,
		AuthMethod: oauth2.AuthMethodClientSecretPost,
		Scopes:     []string{"openid"},
		GrantTypes: []oauth2.GrantType{oauth2.GrantTypeAuthorizationCode},
	}))
	f.registerCode(t, "code-1", oauth2.Scopes{"openid"})

	_, oerr := f.service.Handle(context.Background(), testIssuer, codeValues("code-1"), clientauth.Request{
		ClientID:   "other-client",
		PostSecret: testClientSecret,
	})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestAuthorizationCodeExpired(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCode(t, "code-1", oauth2.Scopes{"openid"})

	f.now = f.now.Add(5 * time.Minute)
	_, oerr := f.handle(codeValues("code-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestRefreshTokenRotation(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCode(t, "code-1", oauth2.Scopes{"openid", "profile", "api:read"})

	first, oerr := f.handle(codeValues("code-1"))
	require.Nil(t, oerr)
	require.NotNil(t, first.RefreshToken)

	refreshed, oerr := f.handle(url.Values{
		"grant_type":    {string(oauth2.GrantTypeRefreshToken)},
		"refresh_token": {*first.RefreshToken},
	})
	require.Nil(t, oerr)
	require.NotNil(t, refreshed.AccessToken)
	require.NotNil(t, refreshed.RefreshToken)
	require.NotEqual(t, *first.RefreshToken, *refreshed.RefreshToken)

	// the consumed token cannot be redeemed again
	_, oerr = f.handle(url.Values{
		"grant_type":    {string(oauth2.GrantTypeRefreshToken)},
		"refresh_token": {*first.RefreshToken},
	})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestRefreshTokenScopeNarrowing(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCode(t, "code-1", oauth2.Scopes{"openid", "profile", "api:read"})

	first, oerr := f.handle(codeValues("code-1"))
	require.Nil(t, oerr)

	narrowed, oerr := f.handle(url.Values{
		"grant_type":    {string(oauth2.GrantTypeRefreshToken)},
		"refresh_token": {*first.RefreshToken},
		"scope":         {"openid profile"},
	})
	require.Nil(t, oerr)
	require.Equal(t, "openid profile", narrowed.Scope)

	// widening beyond the original grant is refused
	_, oerr = f.handle(url.Values{
		"grant_type":    {string(oauth2.GrantTypeRefreshToken)},
		"refresh_token": {*narrowed.RefreshToken},
		"scope":         {"openid profile email"},
	})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidScope, oerr.Code)
}

func TestClientCredentialsGrant(t *testing.T) {
	f := setupServiceFixture(t)

	resp, oerr := f.handle(url.Values{
		"grant_type": {string(oauth2.GrantTypeClientCredentials)},
		"scope":      {"api:read"},
	})
	require.Nil(t, oerr)
	require.NotNil(t, resp.AccessToken)
	require.Nil(t, resp.IdToken)
	require.Nil(t, resp.RefreshToken) // tenant issues no refresh token for this grant
	require.Equal(t, "api:read", resp.Scope)

	claims := f.parseClaims(t, *resp.AccessToken)
	require.Equal(t, testClientID, claims["sub"])
	require.Equal(t, testClientID, claims["client_id"])
}

func TestPasswordGrant(t *testing.T) {
	f := setupServiceFixture(t)

	resp, oerr := f.handle(url.Values{
		"grant_type": {string(oauth2.GrantTypePassword)},
		"username":   {testUsername},
		"password":   {testUserPassword},
		"scope":      {"openid profile"},
	})
	require.Nil(t, oerr)
	require.NotNil(t, resp.AccessToken)
	require.NotNil(t, resp.IdToken)
	require.NotNil(t, resp.RefreshToken)
}

func TestPasswordGrantFailureIsUniform(t *testing.T) {
	f := setupServiceFixture(t)

	_, wrongPassword := f.handle(url.Values{
		"grant_type": {string(oauth2.GrantTypePassword)},
		"username":   {testUsername},
		"password":   {"wrong"},
	})
	require.NotNil(t, wrongPassword)
	require.Equal(t, oauth2.ErrInvalidGrant, wrongPassword.Code)

	_, unknownUser := f.handle(url.Values{
		"grant_type": {string(oauth2.GrantTypePassword)},
		"username":   {"nobody"},
		"password":   {testUserPassword},
	})
	require.NotNil(t, unknownUser)
	require.Equal(t, wrongPassword.Code, unknownUser.Code)
	require.Equal(t, wrongPassword.Description, unknownUser.Description)
}

func (f *serviceFixture) registerCIBARequest(t *testing.T, authReqID string, status ciba.Status) {
	t.Helper()
	require.NoError(t, f.cibaReqs.Register(&ciba.BackchannelAuthRequest{
		AuthReqID: authReqID,
		TenantID:  testTenantID,
		ClientID:  testClientID,
		Subject:   testUserID,
		Scopes:    oauth2.Scopes{"openid", "profile"},
		Status:    status,
		Interval:  5 * time.Second,
		CreatedAt: f.now,
		ExpiresAt: f.now.Add(2 * time.Minute),
	}))
}

func cibaPoll(authReqID string) url.Values {
	return url.Values{
		"grant_type":  {string(oauth2.GrantTypeCIBA)},
		"auth_req_id": {authReqID},
	}
}

func TestCIBAGrantPendingAndSlowDown(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCIBARequest(t, "req-1", ciba.StatusPending)

	_, oerr := f.handle(cibaPoll("req-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrAuthorizationPending, oerr.Code)

	// polling again inside the interval
	f.now = f.now.Add(time.Second)
	_, oerr = f.handle(cibaPoll("req-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrSlowDown, oerr.Code)

	// waiting out the interval goes back to pending
	f.now = f.now.Add(10 * time.Second)
	_, oerr = f.handle(cibaPoll("req-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrAuthorizationPending, oerr.Code)
}

func TestCIBAGrantApprovedIssuesTokensOnce(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCIBARequest(t, "req-1", ciba.StatusApproved)

	resp, oerr := f.handle(cibaPoll("req-1"))
	require.Nil(t, oerr)
	require.NotNil(t, resp.AccessToken)
	require.NotNil(t, resp.IdToken)
	require.NotNil(t, resp.RefreshToken)

	claims := f.parseClaims(t, *resp.AccessToken)
	require.Equal(t, testUserID, claims["sub"])

	// the request is consumed with the tokens
	_, oerr = f.handle(cibaPoll("req-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestCIBAGrantDenied(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCIBARequest(t, "req-1", ciba.StatusDenied)

	_, oerr := f.handle(cibaPoll("req-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrAccessDenied, oerr.Code)
}

func TestCIBAGrantExpired(t *testing.T) {
	f := setupServiceFixture(t)
	f.registerCIBARequest(t, "req-1", ciba.StatusPending)

	f.now = f.now.Add(time.Hour)
	_, oerr := f.handle(cibaPoll("req-1"))
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrExpiredToken, oerr.Code)
}

func TestCIBAGrantBoundToClient(t *testing.T) {
	f := setupServiceFixture(t)
	require.NoError(t, f.clients.Upsert(testTenantID, &clients.Client{
		ID:         "other-client",
		TenantID:   testTenantID,
		Type:       clients.ClientTypeConfidential,
		Secret:     testClientSecret,
		AuthMethod: oauth2.AuthMethodClientSecretPost,
		Scopes:     []string{"openid"},
		GrantTypes: []oauth2.GrantType{oauth2.GrantTypeCIBA},
	}))
	f.registerCIBARequest(t, "req-1", ciba.StatusApproved)

	_, oerr := f.service.Handle(context.Background(), testIssuer, cibaPoll("req-1"), clientauth.Request{
		ClientID:   "other-client",
		PostSecret: testClientSecret,
	})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestJWTBearerGrant(t *testing.T) {
	f := setupServiceFixture(t)

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testClientID,
		"sub": testUserID,
		"aud": f.tenant.TokenEndpoint,
		"exp": f.now.Add(5 * time.Minute).Unix(),
	}).SignedString([]byte(testClientSecret))
	require.NoError(t, err)

	resp, oerr := f.handle(url.Values{
		"grant_type": {string(oauth2.GrantTypeJWTBearer)},
		"assertion":  {assertion},
		"scope":      {"api:read"},
	})
	require.Nil(t, oerr)
	require.NotNil(t, resp.AccessToken)

	claims := f.parseClaims(t, *resp.AccessToken)
	require.Equal(t, testUserID, claims["sub"])
}

func TestJWTBearerRejectsWrongAudience(t *testing.T) {
	f := setupServiceFixture(t)

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": testClientID,
		"sub": testUserID,
		"aud": "https://other-server.example.com/token",
		"exp": f.now.Add(5 * time.Minute).Unix(),
	}).SignedString([]byte(testClientSecret))
	require.NoError(t, err)

	_, oerr := f.handle(url.Values{
		"grant_type": {string(oauth2.GrantTypeJWTBearer)},
		"assertion":  {assertion},
	})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidGrant, oerr.Code)
}

func TestJWTBearerMissingAssertionPrecedesClientAuth(t *testing.T) {
	f := setupServiceFixture(t)

	// the missing parameter is reported even though the credentials are bad
	_, oerr := f.service.Handle(context.Background(), testIssuer, url.Values{
		"grant_type": {string(oauth2.GrantTypeJWTBearer)},
	}, clientauth.Request{
		ClientID:   testClientID,
		PostSecret: "wrong-secret",
	})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidRequest, oerr.Code)
}

func TestHandleUnknownGrantType(t *testing.T) {
	f := setupServiceFixture(t)

	_, oerr := f.handle(url.Values{"grant_type": {"urn:example:made-up"}})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrUnsupportedGrantType, oerr.Code)

	_, oerr = f.handle(url.Values{})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidRequest, oerr.Code)
}

func TestHandleTenantDisabledGrantType(t *testing.T) {
	f := setupServiceFixture(t)
	f.tenant.GrantTypes = []oauth2.GrantType{oauth2.GrantTypeAuthorizationCode}
	require.NoError(t, f.tenants.Upsert(f.tenant))

	_, oerr := f.handle(url.Values{"grant_type": {string(oauth2.GrantTypeClientCredentials)}})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrUnsupportedGrantType, oerr.Code)
}

func TestHandleClientWithoutGrantType(t *testing.T) {
	f := setupServiceFixture(t)
	require.NoError(t, f.clients.Upsert(testTenantID, &clients.Client{
		ID:         "code-only",
		TenantID:   testTenantID,
		Type:       clients.ClientTypeConfidential,
		Secret:     testClientSecret,
		AuthMethod: oauth2.AuthMethodClientSecretPost,
		Scopes:     []string{"api:read"},
		GrantTypes: []oauth2.GrantType{oauth2.GrantTypeAuthorizationCode},
	}))

	_, oerr := f.service.Handle(context.Background(), testIssuer, url.Values{
		"grant_type": {string(oauth2.GrantTypeClientCredentials)},
	}, clientauth.Request{ClientID: "code-only", PostSecret: testClientSecret})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrUnauthorizedClient, oerr.Code)
}

func TestHandleRejectsBadClientCredentials(t *testing.T) {
	f := setupServiceFixture(t)

	_, oerr := f.service.Handle(context.Background(), testIssuer, url.Values{
		"grant_type": {string(oauth2.GrantTypeClientCredentials)},
	}, clientauth.Request{ClientID: testClientID, PostSecret: "wrong-secret"})
	require.NotNil(t, oerr)
	require.Equal(t, oauth2.ErrInvalidClient, oerr.Code)
}
