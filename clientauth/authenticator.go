package clientauth

import (
	"crypto/subtle"
	"time"

	"github.com/authplane/authplane/clients"
	"github.com/authplane/authplane/jose"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/tenants"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// methodAuthenticator verifies one client authentication method.
type methodAuthenticator func(a *Authenticator, tenant *tenants.Tenant, client *clients.Client, req Request) error

// Authenticator verifies client identity using the single method the client
// is registered for. The method registry is built once at construction and
// never mutated; a failure of the configured method is always surfaced as
// invalid_client so callers cannot probe which method is configured.
type Authenticator struct {
	methods map[oauth2.AuthMethod]methodAuthenticator
	nowFunc func() time.Time
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithNowFunc sets the clock (primarily for testing).
func WithNowFunc(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) { a.nowFunc = now }
}

// NewAuthenticator builds the fixed method registry.
func NewAuthenticator(options ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{nowFunc: time.Now}
	a.methods = map[oauth2.AuthMethod]methodAuthenticator{
		oauth2.AuthMethodClientSecretBasic: (*Authenticator).authenticateSecretBasic,
		oauth2.AuthMethodClientSecretPost:  (*Authenticator).authenticateSecretPost,
		oauth2.AuthMethodClientSecretJWT:   (*Authenticator).authenticateSecretJWT,
		oauth2.AuthMethodPrivateKeyJWT:     (*Authenticator).authenticatePrivateKeyJWT,
		oauth2.AuthMethodTLSClientAuth:     (*Authenticator).authenticateTLSClientAuth,
		oauth2.AuthMethodSelfSignedTLSAuth: (*Authenticator).authenticateSelfSignedTLS,
		oauth2.AuthMethodNone:              (*Authenticator).authenticateNone,
	}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Authenticate verifies the request against the client's configured method
// and returns the resulting credentials. Any failure, including material
// for a different method than configured, yields invalid_client.
func (a *Authenticator) Authenticate(tenant *tenants.Tenant, client *clients.Client, req Request) (Credentials, error) {
	method := client.AuthMethod
	if method == "" {
		method = oauth2.AuthMethodClientSecretBasic
	}

	verify, ok := a.methods[method]
	if !ok {
		return Credentials{}, oauth2.NewError(oauth2.ErrInvalidClient, "client authentication failed")
	}
	if err := verify(a, tenant, client, req); err != nil {
		return Credentials{}, err
	}

	credentials := Credentials{
		ClientID:   client.ID,
		Method:     method,
		ClientCert: req.ClientCert,
	}
	if req.ClientCert != nil && tenant.TLSBoundAccessTokens && client.TLSBoundAccessTokens {
		credentials.CertThumbprint = CertificateThumbprint(req.ClientCert)
	}
	return credentials, nil
}

func invalidClient() *oauth2.Error {
	// One message for every failure mode; the configured method must not
	// be inferable from the response.
	return oauth2.NewError(oauth2.ErrInvalidClient, "client authentication failed")
}

func secretsEqual(provided, configured string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(configured)) == 1
}

func (a *Authenticator) authenticateSecretBasic(tenant *tenants.Tenant, client *clients.Client, req Request) error {
	if !req.HasBasic || req.ClientID != client.ID {
		return invalidClient()
	}
	if !secretsEqual(req.BasicSecret, client.Secret) {
		return invalidClient()
	}
	return nil
}

func (a *Authenticator) authenticateSecretPost(tenant *tenants.Tenant, client *clients.Client, req Request) error {
	if req.PostSecret == "" {
		return invalidClient()
	}
	if !secretsEqual(req.PostSecret, client.Secret) {
		return invalidClient()
	}
	return nil
}

func (a *Authenticator) authenticateSecretJWT(tenant *tenants.Tenant, client *clients.Client, req Request) error {
	ctx, err := a.verifyAssertion(tenant, client, req, jose.NewParser(jose.WithSecret(client.Secret)))
	if err != nil {
		return err
	}
	// client_secret_jwt is symmetric only.
	switch ctx.Algorithm() {
	case "HS256", "HS384", "HS512":
		return nil
	}
	return invalidClient()
}

func (a *Authenticator) authenticatePrivateKeyJWT(tenant *tenants.Tenant, client *clients.Client, req Request) error {
	if client.JWKS == "" {
		return invalidClient()
	}
	keySet, err := jwk.ParseString(client.JWKS)
	if err != nil {
		return invalidClient()
	}
	ctx, verifyErr := a.verifyAssertion(tenant, client, req, jose.NewParser(jose.WithClientKeys(keySet)))
	if verifyErr != nil {
		return verifyErr
	}
	switch ctx.Algorithm() {
	case "HS256", "HS384", "HS512":
		return invalidClient()
	}
	return nil
}

// verifyAssertion checks a client assertion JWT per RFC 7523 §3: signed
// (alg none rejected by the parser), iss and sub both equal to the client
// id, aud identifying this authorization server, jti present, exp in the
// future.
func (a *Authenticator) verifyAssertion(tenant *tenants.Tenant, client *clients.Client, req Request, parser *jose.Parser) (jose.Context, error) {
	if req.Assertion == "" || req.AssertionType != AssertionTypeJWTBearer {
		return jose.Context{}, invalidClient()
	}
	ctx, err := parser.Parse(req.Assertion)
	if err != nil || !ctx.HasSignature() {
		return jose.Context{}, invalidClient()
	}

	iss := ctx.StringClaim("iss")
	sub := ctx.StringClaim("sub")
	if iss == "" || iss != client.ID || sub != iss {
		return jose.Context{}, invalidClient()
	}
	if req.ClientID != "" && req.ClientID != iss {
		return jose.Context{}, invalidClient()
	}

	audiences := ctx.StringsClaim("aud")
	if !audienceAccepted(audiences, tenant.AssertionAudiences()) {
		return jose.Context{}, invalidClient()
	}

	if ctx.StringClaim("jti") == "" {
		return jose.Context{}, invalidClient()
	}

	exp := ctx.TimeClaim("exp")
	if exp.IsZero() || exp.Before(a.nowFunc()) {
		return jose.Context{}, invalidClient()
	}
	return ctx, nil
}

func audienceAccepted(presented, accepted []string) bool {
	for _, aud := range presented {
		for _, want := range accepted {
			if aud == want {
				return true
			}
		}
	}
	return false
}

func (a *Authenticator) authenticateTLSClientAuth(tenant *tenants.Tenant, client *clients.Client, req Request) error {
	cert := req.ClientCert
	if cert == nil {
		return invalidClient()
	}
	if client.TLSSubjectDN != "" && cert.Subject.String() == client.TLSSubjectDN {
		return nil
	}
	if client.TLSSANDNS != "" {
		for _, dns := range cert.DNSNames {
			if dns == client.TLSSANDNS {
				return nil
			}
		}
	}
	return invalidClient()
}

func (a *Authenticator) authenticateSelfSignedTLS(tenant *tenants.Tenant, client *clients.Client, req Request) error {
	cert := req.ClientCert
	if cert == nil || client.TLSThumbprint == "" {
		return invalidClient()
	}
	if CertificateThumbprint(cert) != client.TLSThumbprint {
		return invalidClient()
	}
	return nil
}

func (a *Authenticator) authenticateNone(tenant *tenants.Tenant, client *clients.Client, req Request) error {
	if !client.IsPublic() {
		return invalidClient()
	}
	return nil
}
