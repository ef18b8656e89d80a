package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/authplane/authplane/authorize"
	fakeauthorizerepo "github.com/authplane/authplane/authorize/repofake"
	"github.com/authplane/authplane/ciba"
	fakecibarepo "github.com/authplane/authplane/ciba/repofake"
	"github.com/authplane/authplane/clientauth"
	"github.com/authplane/authplane/clients"
	fakeclientrepo "github.com/authplane/authplane/clients/fakerepo"
	"github.com/authplane/authplane/federation"
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

const demoTenantID = "demo"

// buildServices wires the protocol services over in-memory repositories
// and seeds a demo tenant so the server is usable out of the box.
func buildServices(c config.Config) (server.Services, error) {
	tenantRepo := tenantrepofakes.NewFakeTenantRepo()
	clientRepo := fakeclientrepo.NewFakeClientRepo()
	userRepo := fakeuserrepo.NewFakeUserRepo()
	requestRepo := fakeauthorizerepo.NewFakeRequestRepo()
	grantedRepo := fakegrantrepo.NewFakeGrantedRepo()
	codeGrantRepo := fakegrantrepo.NewFakeCodeGrantRepo()
	tokenRepo := faketokenrepo.NewFakeTokenRepo()
	cibaRepo := fakecibarepo.NewFakeRepo()
	providerRepo := federation.NewInMemoryProviderRepo()

	if err := seedDemoTenant(c, tenantRepo, clientRepo, userRepo); err != nil {
		return server.Services{}, fmt.Errorf("seeding demo tenant: %w", err)
	}

	authenticator := clientauth.NewAuthenticator()

	creator := authorize.NewContextCreator(
		authorize.WithObjectFetcher(authorize.NewHTTPObjectFetcher(nil)),
	)
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

	cibaService := ciba.NewService(ciba.Repos{
		Tenants:  tenantRepo,
		Clients:  clientRepo,
		Users:    userRepo,
		Requests: cibaRepo,
	}, authenticator, ciba.WithNotifier(logNotifier{}))

	broker := federation.NewBroker(providerRepo, federation.NewInMemoryStateStore(10*time.Minute))

	return server.Services{
		Tenants:     tenantRepo,
		Authorize:   authorizeService,
		Tokens:      tokenService,
		Backchannel: cibaService,
		Issuer:      issuer,
		Federation:  broker,
		Providers:   providerRepo,
	}, nil
}

func seedDemoTenant(c config.Config, tenantRepo tenants.Repo, clientRepo clients.Repo, userRepo users.UserRepo) error {
	issuerURL := fmt.Sprintf("http://%s%s", c.GetBaseDomain(), c.GetPort())

	tenant := &tenants.Tenant{
		ID:                    demoTenantID,
		Name:                  "Demo Tenant",
		Domain:                c.GetBaseDomain(),
		Issuer:                issuerURL,
		Audience:              issuerURL + "/api",
		TokenEndpoint:         issuerURL + server.RouteOAuth2Token,
		AuthorizationEndpoint: issuerURL + server.RouteOAuth2Authorize,
		BackchannelEndpoint:   issuerURL + server.RouteBackchannelAuth,
		SignerType:            tenants.SignerTypeRS256,
		KeyID:                 "demo-key-1",
		GrantTypes: []oauth2.GrantType{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypeRefreshToken,
			oauth2.GrantTypeClientCredentials,
			oauth2.GrantTypePassword,
			oauth2.GrantTypeCIBA,
			oauth2.GrantTypeJWTBearer,
		},
		Scopes: []string{"openid", "profile", "email", "offline_access", "api:read", "api:write"},
		RefreshTokenGrants: []oauth2.GrantType{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypePassword,
			oauth2.GrantTypeCIBA,
		},
	}

	if _, err := token.GenerateSignerForTenant(tenant); err != nil {
		return fmt.Errorf("generating tenant signing key: %w", err)
	}
	if err := tenantRepo.Upsert(tenant); err != nil {
		return fmt.Errorf("storing tenant: %w", err)
	}

	clientSecret, err := randomSecret()
	if err != nil {
		return err
	}
	webClient := &clients.Client{
		ID:           "demo-web",
		Type:         clients.ClientTypeConfidential,
		Description:  "Demo server-side web application",
		TenantID:     demoTenantID,
		Secret:       clientSecret,
		AuthMethod:   oauth2.AuthMethodClientSecretBasic,
		RedirectURIs: []string{"http://localhost:3000/callback"},
		Scopes:       []string{"openid", "profile", "email", "offline_access", "api:read"},
		GrantTypes: []oauth2.GrantType{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypeRefreshToken,
			oauth2.GrantTypeClientCredentials,
			oauth2.GrantTypeCIBA,
		},
		CIBADeliveryMode: clients.CIBADeliveryPoll,
	}
	if err := clientRepo.Upsert(demoTenantID, webClient); err != nil {
		return fmt.Errorf("storing web client: %w", err)
	}

	spaClient := &clients.Client{
		ID:           "demo-spa",
		Type:         clients.ClientTypePublic,
		Description:  "Demo single-page application (PKCE)",
		TenantID:     demoTenantID,
		AuthMethod:   oauth2.AuthMethodNone,
		RedirectURIs: []string{"http://localhost:3000/spa/callback"},
		Scopes:       []string{"openid", "profile", "email"},
		GrantTypes: []oauth2.GrantType{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypeRefreshToken,
		},
	}
	if err := clientRepo.Upsert(demoTenantID, spaClient); err != nil {
		return fmt.Errorf("storing spa client: %w", err)
	}

	password, err := randomSecret()
	if err != nil {
		return err
	}
	passwordHash, err := users.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing demo password: %w", err)
	}
	demoUser := &users.User{
		ID:           "demo-user",
		TenantID:     demoTenantID,
		Email:        "demo@" + c.GetBaseDomain(),
		Username:     "demo",
		PasswordHash: passwordHash,
		FirstName:    "Demo",
		LastName:     "User",
		DateJoined:   time.Now(),
		Verified:     true,
	}
	if err := userRepo.Upsert(demoUser); err != nil {
		return fmt.Errorf("storing demo user: %w", err)
	}

	log.Info().
		Str("issuer", issuerURL).
		Str("client_id", webClient.ID).
		Str("client_secret", clientSecret).
		Str("username", demoUser.Username).
		Str("password", password).
		Msg("Demo tenant seeded")

	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// logNotifier is a development stand-in for a push/SMS notification
// channel: it just logs the pending backchannel request.
type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, tenant *tenants.Tenant, user *users.User, request *ciba.BackchannelAuthRequest) error {
	log.Info().
		Str("tenant", tenant.ID).
		Str("user", user.ID).
		Str("auth_req_id", request.AuthReqID).
		Str("binding_message", request.BindingMessage).
		Msg("Backchannel authentication requested")
	return nil
}
