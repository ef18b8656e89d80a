package server

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/authplane/authplane/authorize"
	"github.com/authplane/authplane/ciba"
	"github.com/authplane/authplane/federation"
	"github.com/authplane/authplane/internal/config"
	"github.com/authplane/authplane/tenants"
	"github.com/authplane/authplane/token"
)

// Services bundles the protocol services the HTTP layer fronts.
type Services struct {
	Tenants     tenants.Repo
	Authorize   *authorize.Service
	Tokens      *token.Service
	Backchannel *ciba.Service
	Issuer      *token.Issuer
	Federation  *federation.Broker
	Providers   federation.ProviderRepo
}

type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	services Services
}

func New(config config.Config, services Services) (*Server, error) {
	if services.Tenants == nil {
		return nil, errors.New("[Server New] tenant repository is required")
	}

	s := &Server{
		mux:      http.NewServeMux(),
		config:   config,
		services: services,
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) initRoutes() {
	// Discovery
	s.RegisterRouteHandler("GET "+RouteWellKnownOpenIDConfig, ChainMiddleware(s.WellKnownOpenIDConfig(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteWellKnownJWKS, ChainMiddleware(s.JWKS(), s.APIMiddleware()...))

	// OAuth2 / OIDC
	s.RegisterRouteHandler("GET "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Authorize, ChainMiddleware(s.Authorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Token, ChainMiddleware(s.Token(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Introspect, ChainMiddleware(s.Introspect(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteOAuth2Revoke, ChainMiddleware(s.Revoke(), s.APIMiddleware()...))

	// Interaction layer callbacks
	s.RegisterRouteHandler("POST "+RouteAuthorizeApprove, ChainMiddleware(s.AuthorizeApprove(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthorizeDeny, ChainMiddleware(s.AuthorizeDeny(), s.APIMiddleware()...))

	// CIBA
	s.RegisterRouteHandler("POST "+RouteBackchannelAuth, ChainMiddleware(s.BackchannelAuthentication(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteBackchannelApprove, ChainMiddleware(s.BackchannelApprove(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteBackchannelDeny, ChainMiddleware(s.BackchannelDeny(), s.APIMiddleware()...))

	// Federation
	if s.services.Federation != nil {
		s.RegisterRouteHandler("GET "+RouteFederationLogin, ChainMiddleware(s.FederationLogin(), s.APIMiddleware()...))
		s.RegisterRouteHandler("GET "+RouteFederationCallback, ChainMiddleware(s.FederationCallback(), s.APIMiddleware()...))
	}
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			log.Debug().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			log.Debug().Str("path", parts[0]).Msg("route registered")
		}
	}
}

// tenantFromHost resolves the tenant serving the request host. Each tenant
// owns a dedicated domain (e.g. "tenant-a.auth.example.com").
func (s *Server) tenantFromHost(host string) (*tenants.Tenant, error) {
	splitHost := strings.SplitN(host, ":", 2)
	host = splitHost[0]

	t, err := s.services.Tenants.GetByDomain(host)
	if err != nil {
		return nil, errors.Wrapf(err, "[Server tenantFromHost] unknown tenant for host %s", host)
	}
	return t, nil
}
