package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/authorize"
	fakeauthorizerepo "github.com/authplane/authplane/authorize/repofake"
	"github.com/authplane/authplane/ciba"
	fakecibarepo "github.com/authplane/authplane/ciba/repofake"
	"github.com/authplane/authplane/clientauth"
	"github.com/authplane/authplane/clients"
	fakeclientrepo "github.com/authplane/authplane/clients/fakerepo"
	fakegrantrepo "github.com/authplane/authplane/grants/repofake"
	"github.com/authplane/authplane/internal/config"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/server"
	"github.com/authplane/authplane/tenants"
	tenantrepofakes "github.com/authplane/authplane/tenants/repofakes"
	"github.com/authplane/authplane/token"
	faketokenrepo "github.com/authplane/authplane/token/repofake"
	"github.com/authplane/authplane/users"
	fakeuserrepo "github.com/authplane/authplane/users/repofake"
)

const (
	testDomain       = "tenant-1.auth.example.com"
	testIssuer       = "https://" + testDomain
	testTenantID     = "tenant-1"
	testClientID     = "client-1"
	testClientSecret = "server-test-secret"
	testUserID       = "user-1"
	testRedirectURI  = "http://localhost:3000/callback"
)

type testConfig struct{}

func (testConfig) GetPort() string                          { return ":0" }
func (testConfig) GetAppName() string                       { return "AuthPlane" }
func (testConfig) GetBaseDomain() string                    { return "auth.example.com" }
func (testConfig) GetEnv() string                           { return "TEST" }
func (testConfig) GetLogLevel() string                      { return "disabled" }
func (testConfig) GetAllowedOrigins() config.AllowedOrigins {
	return config.AllowedOrigins{"http://app.example.com": {}}
}
func (testConfig) GetAllowedMethods() string                { return "GET, POST, OPTIONS" }
func (testConfig) GetAllowedHeaders() string                { return "Content-Type, Authorization" }

type serverFixture struct {
	server *server.Server
}

func setupServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	tenantRepo := tenantrepofakes.NewFakeTenantRepo()
	clientRepo := fakeclientrepo.NewFakeClientRepo()
	userRepo := fakeuserrepo.NewFakeUserRepo()
	requestRepo := fakeauthorizerepo.NewFakeRequestRepo()
	grantedRepo := fakegrantrepo.NewFakeGrantedRepo()
	codeGrantRepo := fakegrantrepo.NewFakeCodeGrantRepo()
	tokenRepo := faketokenrepo.NewFakeTokenRepo()
	cibaRepo := fakecibarepo.NewFakeRepo()

	tenant := &tenants.Tenant{
		ID:            testTenantID,
		Domain:        testDomain,
		Issuer:        testIssuer,
		TokenEndpoint: testIssuer + "/oauth2/token",
		Audience:      "https://api.example.com",
		SignerType:    tenants.SignerTypeRS256,
		KeyID:         "key-1",
		Scopes:        []string{"openid", "profile", "email"},
		GrantTypes: []oauth2.GrantType{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypeRefreshToken,
			oauth2.GrantTypeCIBA,
		},
		RefreshTokenGrants: []oauth2.GrantType{oauth2.GrantTypeAuthorizationCode},
	}
	_, err := token.GenerateSignerForTenant(tenant)
	require.NoError(t, err)
	require.NoError(t, tenantRepo.Upsert(tenant))

	require.NoError(t, clientRepo.Upsert(testTenantID, &clients.Client{
		ID:           testClientID,
		TenantID:     testTenantID,
		Type:         clients.ClientTypeConfidential,
		Secret:       testClientSecret,
		AuthMethod:   oauth2.AuthMethodClientSecretPost,
		RedirectURIs: []string{testRedirectURI},
		Scopes:       []string{"openid", "profile", "email"},
		GrantTypes:   tenant.GrantTypes,
	}))

	require.NoError(t, userRepo.Upsert(&users.User{
		ID:       testUserID,
		TenantID: testTenantID,
		Username: "janedoe",
		Email:    "jane.doe@example.com",
		Verified: true,
	}))

	authenticator := clientauth.NewAuthenticator()
	creator := authorize.NewContextCreator()
	authorizeService := authorize.NewService(authorize.Repos{
		Tenants:    tenantRepo,
		Clients:    clientRepo,
		Requests:   requestRepo,
		Granted:    grantedRepo,
		CodeGrants: codeGrantRepo,
	}, creator)

	issuer := token.NewIssuer()
	tokenService := token.NewService(token.Repos{
		Tenants:      tenantRepo,
		Clients:      clientRepo,
		Users:        userRepo,
		CodeGrants:   codeGrantRepo,
		Granted:      grantedRepo,
		Tokens:       tokenRepo,
		CIBARequests: cibaRepo,
	}, authenticator, issuer)

	backchannel := ciba.NewService(ciba.Repos{
		Tenants:  tenantRepo,
		Clients:  clientRepo,
		Users:    userRepo,
		Requests: cibaRepo,
	}, authenticator)

	srv, err := server.New(testConfig{}, server.Services{
		Tenants:     tenantRepo,
		Authorize:   authorizeService,
		Tokens:      tokenService,
		Backchannel: backchannel,
		Issuer:      issuer,
	})
	require.NoError(t, err)

	return &serverFixture{server: srv}
}

func (f *serverFixture) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Host = testDomain
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestDiscoveryDocument(t *testing.T) {
	f := setupServerFixture(t)

	recorder := f.do(http.MethodGet, "/.well-known/openid-configuration", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	doc := decodeJSON(t, recorder)
	require.Equal(t, testIssuer, doc["issuer"])
	require.Equal(t, testIssuer+"/oauth2/token", doc["token_endpoint"])
	require.Equal(t, testIssuer+"/oauth2/authorize", doc["authorization_endpoint"])
	require.Equal(t, testIssuer+"/backchannel/authentication", doc["backchannel_authentication_endpoint"])
	require.Contains(t, doc["grant_types_supported"], string(oauth2.GrantTypeAuthorizationCode))
}

func TestDiscoveryUnknownHost(t *testing.T) {
	f := setupServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil)
	req.Host = "unregistered.example.com"
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestJWKSEndpoint(t *testing.T) {
	f := setupServerFixture(t)

	recorder := f.do(http.MethodGet, "/.well-known/jwks.json", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "key-1", jwks.Keys[0]["kid"])
}

// authorizeAndApprove drives login and consent through the interaction
// endpoints and returns the authorization code delivered on the redirect.
func (f *serverFixture) authorizeAndApprove(t *testing.T) string {
	t.Helper()

	recorder := f.do(http.MethodGet, "/oauth2/authorize?"+url.Values{
		"client_id":     {testClientID},
		"redirect_uri":  {testRedirectURI},
		"response_type": {"code"},
		"scope":         {"openid profile"},
		"state":         {"af0ifjsldkj"},
	}.Encode(), nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeJSON(t, recorder)
	require.Equal(t, "OK", body["status"])
	requestID, _ := body["authorization_request_id"].(string)
	require.NotEmpty(t, requestID)

	recorder = f.do(http.MethodPost, "/oauth2/authorize/approve", url.Values{
		"authorization_request_id": {requestID},
		"subject":                  {testUserID},
	})
	require.Equal(t, http.StatusSeeOther, recorder.Code)

	location, err := url.Parse(recorder.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "af0ifjsldkj", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := setupServerFixture(t)
	code := f.authorizeAndApprove(t)

	recorder := f.do(http.MethodPost, "/oauth2/token", url.Values{
		"grant_type":    {string(oauth2.GrantTypeAuthorizationCode)},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "no-store", recorder.Header().Get("Cache-Control"))

	body := decodeJSON(t, recorder)
	accessToken, _ := body["access_token"].(string)
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, body["id_token"])
	require.NotEmpty(t, body["refresh_token"])

	// the issued token introspects as active
	recorder = f.do(http.MethodPost, "/oauth2/introspect", url.Values{"token": {accessToken}})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, true, decodeJSON(t, recorder)["active"])

	// revocation flips it to inactive
	recorder = f.do(http.MethodPost, "/oauth2/revoke", url.Values{"token": {accessToken}})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = f.do(http.MethodPost, "/oauth2/introspect", url.Values{"token": {accessToken}})
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, false, decodeJSON(t, recorder)["active"])
}

func TestRevokeToleratesInvalidToken(t *testing.T) {
	f := setupServerFixture(t)

	recorder := f.do(http.MethodPost, "/oauth2/revoke", url.Values{"token": {"not.a.token"}})
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestTokenEndpointInvalidClient(t *testing.T) {
	f := setupServerFixture(t)

	recorder := f.do(http.MethodPost, "/oauth2/token", url.Values{
		"grant_type":    {string(oauth2.GrantTypeAuthorizationCode)},
		"code":          {"whatever"},
		"client_id":     {testClientID},
		"client_secret": {"wrong-secret"},
	})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotEmpty(t, recorder.Header().Get("WWW-Authenticate"))
	require.Equal(t, "invalid_client", decodeJSON(t, recorder)["error"])
}

func TestAuthorizeEndpointProtocolError(t *testing.T) {
	f := setupServerFixture(t)

	// unregistered redirect_uri cannot be redirected to
	recorder := f.do(http.MethodGet, "/oauth2/authorize?"+url.Values{
		"client_id":     {testClientID},
		"redirect_uri":  {"http://evil.example.com/callback"},
		"response_type": {"code"},
		"scope":         {"openid"},
	}.Encode(), nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "invalid_request", decodeJSON(t, recorder)["error"])
}

func TestBackchannelFlow(t *testing.T) {
	f := setupServerFixture(t)

	recorder := f.do(http.MethodPost, "/backchannel/authentication", url.Values{
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
		"scope":         {"openid profile"},
		"login_hint":    {"email:jane.doe@example.com"},
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	body := decodeJSON(t, recorder)
	authReqID, _ := body["auth_req_id"].(string)
	require.NotEmpty(t, authReqID)

	poll := url.Values{
		"grant_type":    {string(oauth2.GrantTypeCIBA)},
		"auth_req_id":   {authReqID},
		"client_id":     {testClientID},
		"client_secret": {testClientSecret},
	}
	recorder = f.do(http.MethodPost, "/oauth2/token", poll)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, "authorization_pending", decodeJSON(t, recorder)["error"])

	recorder = f.do(http.MethodPost, "/backchannel/authentication/approve", url.Values{
		"auth_req_id": {authReqID},
	})
	require.Equal(t, http.StatusNoContent, recorder.Code)

	recorder = f.do(http.MethodPost, "/oauth2/token", poll)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.NotEmpty(t, decodeJSON(t, recorder)["access_token"])
}

func TestCORSMiddleware(t *testing.T) {
	f := setupServerFixture(t)
	handler := f.server.CorsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// preflight from an allowed origin
	req := httptest.NewRequest(http.MethodOptions, "/oauth2/token", nil)
	req.Header.Set("Origin", "http://app.example.com")
	recorder := httptest.NewRecorder()
	handler(recorder, req)
	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Equal(t, "http://app.example.com", recorder.Header().Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, recorder.Header().Get("Access-Control-Allow-Methods"))

	// preflight from anywhere else is refused
	req = httptest.NewRequest(http.MethodOptions, "/oauth2/token", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	recorder = httptest.NewRecorder()
	handler(recorder, req)
	require.Equal(t, http.StatusForbidden, recorder.Code)

	// same-origin requests pass straight through
	req = httptest.NewRequest(http.MethodPost, "/oauth2/token", nil)
	recorder = httptest.NewRecorder()
	handler(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}
