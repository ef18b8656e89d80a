package federation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Provider is an upstream OpenID Connect provider a tenant federates
// login to.
type Provider struct {
	ID           string   `json:"id"`
	TenantID     string   `json:"tenant_id"`
	Name         string   `json:"name"`
	IssuerURL    string   `json:"issuer_url"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"-"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Identity is the verified end-user identity returned from an upstream
// provider.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

type upstream struct {
	config   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// Broker drives federated login against upstream OIDC providers:
// authorization URL construction with state, nonce and PKCE, then code
// exchange and ID token verification on the callback. Discovered provider
// metadata is cached per provider.
type Broker struct {
	mu        sync.RWMutex
	upstreams map[string]*upstream // key: tenantID/providerID
	providers ProviderRepo
	states    StateStore
	nowFunc   func() time.Time
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.nowFunc = now }
}

// NewBroker builds a federation broker over the given provider registry
// and state store.
func NewBroker(providers ProviderRepo, states StateStore, options ...BrokerOption) *Broker {
	b := &Broker{
		upstreams: make(map[string]*upstream),
		providers: providers,
		states:    states,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// AuthURL starts a federated login: it records fresh state, nonce and PKCE
// verifier, and returns the upstream authorization URL to redirect to.
func (b *Broker) AuthURL(ctx context.Context, tenantID, providerID, returnURL string) (string, error) {
	provider, err := b.providers.Get(tenantID, providerID)
	if err != nil {
		return "", errors.Wrap(err, "[AuthURL] unknown provider")
	}
	up, err := b.upstreamFor(ctx, *provider)
	if err != nil {
		return "", err
	}

	state, err := generateRandomString(32)
	if err != nil {
		return "", errors.Wrap(err, "[AuthURL] state")
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return "", errors.Wrap(err, "[AuthURL] nonce")
	}
	verifier, err := generateRandomString(32)
	if err != nil {
		return "", errors.Wrap(err, "[AuthURL] code verifier")
	}

	if err := b.states.Put(AuthState{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		TenantID:     provider.TenantID,
		ProviderID:   provider.ID,
		ReturnURL:    returnURL,
		CreatedAt:    b.nowFunc(),
	}); err != nil {
		return "", errors.Wrap(err, "[AuthURL] storing state")
	}

	challenge := sha256.Sum256([]byte(verifier))
	return up.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", base64.RawURLEncoding.EncodeToString(challenge[:])),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// Exchange finishes a federated login on the callback: it redeems the
// state to recover the originating tenant and provider, exchanges the code
// with the PKCE verifier, verifies the upstream ID token, and checks the
// nonce. The tenantID guards against a state minted for another tenant.
func (b *Broker) Exchange(ctx context.Context, tenantID, state, code string) (*Identity, string, error) {
	authState, ok, err := b.states.Consume(state)
	if err != nil || !ok {
		return nil, "", errors.New("[Exchange] invalid state parameter")
	}
	if authState.TenantID != tenantID {
		return nil, "", errors.New("[Exchange] state does not belong to this tenant")
	}

	provider, err := b.providers.Get(authState.TenantID, authState.ProviderID)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Exchange] unknown provider")
	}
	up, err := b.upstreamFor(ctx, *provider)
	if err != nil {
		return nil, "", err
	}

	oauth2Token, err := up.config.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", authState.CodeVerifier))
	if err != nil {
		return nil, "", errors.Wrap(err, "[Exchange] token exchange failed")
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, "", errors.New("[Exchange] no ID token in response")
	}
	idToken, err := up.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Exchange] ID token verification failed")
	}

	var claims struct {
		Nonce string `json:"nonce"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, "", errors.Wrap(err, "[Exchange] extracting claims")
	}
	if claims.Nonce != authState.Nonce {
		return nil, "", errors.New("[Exchange] invalid nonce")
	}

	return &Identity{
		Subject: claims.Sub,
		Email:   claims.Email,
		Name:    claims.Name,
	}, authState.ReturnURL, nil
}

func (b *Broker) upstreamFor(ctx context.Context, provider Provider) (*upstream, error) {
	key := provider.TenantID + "/" + provider.ID

	b.mu.RLock()
	up, ok := b.upstreams[key]
	b.mu.RUnlock()
	if ok {
		return up, nil
	}

	discovered, err := oidc.NewProvider(ctx, provider.IssuerURL)
	if err != nil {
		return nil, errors.Wrapf(err, "discovering provider %s", provider.IssuerURL)
	}

	scopes := provider.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	up = &upstream{
		config: &oauth2.Config{
			ClientID:     provider.ClientID,
			ClientSecret: provider.ClientSecret,
			RedirectURL:  provider.RedirectURL,
			Endpoint:     discovered.Endpoint(),
			Scopes:       scopes,
		},
		verifier: discovered.Verifier(&oidc.Config{ClientID: provider.ClientID}),
	}

	b.mu.Lock()
	b.upstreams[key] = up
	b.mu.Unlock()
	return up, nil
}
