package federation_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/federation"
)

const (
	testTenantID   = "tenant-1"
	testProviderID = "corp-idp"
)

func TestStateStoreConsumeIsSingleUse(t *testing.T) {
	store := federation.NewInMemoryStateStore(10 * time.Minute)

	require.NoError(t, store.Put(federation.AuthState{
		State:      "state-1",
		Nonce:      "nonce-1",
		TenantID:   testTenantID,
		ProviderID: testProviderID,
		CreatedAt:  time.Now(),
	}))

	found, ok, err := store.Consume("state-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "nonce-1", found.Nonce)

	_, ok, err = store.Consume("state-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateStoreExpiredStateIsNotRedeemable(t *testing.T) {
	store := federation.NewInMemoryStateStore(time.Minute)

	require.NoError(t, store.Put(federation.AuthState{
		State:     "state-1",
		TenantID:  testTenantID,
		CreatedAt: time.Now().Add(-5 * time.Minute),
	}))

	_, ok, err := store.Consume("state-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateStoreRequiresStateValue(t *testing.T) {
	store := federation.NewInMemoryStateStore(time.Minute)
	require.Error(t, store.Put(federation.AuthState{}))
}

func TestProviderRepo(t *testing.T) {
	repo := federation.NewInMemoryProviderRepo()

	require.NoError(t, repo.Upsert(federation.Provider{
		ID:        testProviderID,
		TenantID:  testTenantID,
		Name:      "Corporate IdP",
		IssuerURL: "https://idp.example.com",
		ClientID:  "downstream-client",
	}))

	provider, err := repo.Get(testTenantID, testProviderID)
	require.NoError(t, err)
	require.Equal(t, "Corporate IdP", provider.Name)

	// mutating the returned copy does not touch the stored record
	provider.Name = "changed"
	provider, err = repo.Get(testTenantID, testProviderID)
	require.NoError(t, err)
	require.Equal(t, "Corporate IdP", provider.Name)

	// providers are tenant scoped
	_, err = repo.Get("other-tenant", testProviderID)
	require.Error(t, err)

	listed, err := repo.List(testTenantID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, repo.Delete(testTenantID, testProviderID))
	_, err = repo.Get(testTenantID, testProviderID)
	require.Error(t, err)
}

// fakeUpstream serves just enough OIDC discovery metadata for the broker to
// build an authorization URL.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 server.URL,
			"authorization_endpoint": server.URL + "/auth",
			"token_endpoint":         server.URL + "/token",
			"jwks_uri":               server.URL + "/keys",
		})
	})
	return server
}

func TestBrokerAuthURL(t *testing.T) {
	upstream := fakeUpstream(t)

	providers := federation.NewInMemoryProviderRepo()
	require.NoError(t, providers.Upsert(federation.Provider{
		ID:           testProviderID,
		TenantID:     testTenantID,
		IssuerURL:    upstream.URL,
		ClientID:     "downstream-client",
		ClientSecret: "downstream-secret",
		RedirectURL:  "https://tenant-1.auth.example.com/federation/callback",
	}))

	states := federation.NewInMemoryStateStore(10 * time.Minute)
	broker := federation.NewBroker(providers, states)

	authURL, err := broker.AuthURL(context.Background(), testTenantID, testProviderID, "/continue")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "/auth", parsed.Path)

	query := parsed.Query()
	require.Equal(t, "downstream-client", query.Get("client_id"))
	require.Equal(t, "https://tenant-1.auth.example.com/federation/callback", query.Get("redirect_uri"))
	require.Equal(t, "openid profile email", query.Get("scope"))
	require.Equal(t, "S256", query.Get("code_challenge_method"))
	require.NotEmpty(t, query.Get("state"))
	require.NotEmpty(t, query.Get("nonce"))
	require.NotEmpty(t, query.Get("code_challenge"))

	// the pending state is redeemable exactly once and carries the login
	authState, ok, err := states.Consume(query.Get("state"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, query.Get("nonce"), authState.Nonce)
	require.Equal(t, testProviderID, authState.ProviderID)
	require.Equal(t, "/continue", authState.ReturnURL)
}

func TestBrokerAuthURLUnknownProvider(t *testing.T) {
	broker := federation.NewBroker(federation.NewInMemoryProviderRepo(),
		federation.NewInMemoryStateStore(time.Minute))

	_, err := broker.AuthURL(context.Background(), testTenantID, "missing", "")
	require.Error(t, err)
}

func TestBrokerExchangeRejectsForeignState(t *testing.T) {
	states := federation.NewInMemoryStateStore(time.Minute)
	require.NoError(t, states.Put(federation.AuthState{
		State:      "state-1",
		TenantID:   "other-tenant",
		ProviderID: testProviderID,
		CreatedAt:  time.Now(),
	}))
	broker := federation.NewBroker(federation.NewInMemoryProviderRepo(), states)

	_, _, err := broker.Exchange(context.Background(), testTenantID, "state-1", "code-1")
	require.Error(t, err)

	// unknown state fails the same way
	_, _, err = broker.Exchange(context.Background(), testTenantID, "unseen", "code-1")
	require.Error(t, err)
}
