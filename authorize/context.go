package authorize

import (
	"github.com/authplane/authplane/clients"
	"github.com/authplane/authplane/jose"
	"github.com/authplane/authplane/tenants"
)

// Context is the fully analyzed authorization request: the persisted
// request entity plus everything resolved while analyzing it. It is built
// once by the ContextCreator and read-only afterwards.
type Context struct {
	tenant  *tenants.Tenant
	client  *clients.Client
	request *AuthorizationRequest
	pattern RequestPattern
	jose    jose.Context
}

func (c Context) Tenant() *tenants.Tenant        { return c.tenant }
func (c Context) Client() *clients.Client        { return c.client }
func (c Context) Request() *AuthorizationRequest { return c.request }
func (c Context) Pattern() RequestPattern        { return c.pattern }
func (c Context) RequestObject() jose.Context    { return c.jose }

// CanRedirect reports whether protocol errors may be returned to the
// client's redirect URI. True only once the redirect URI has been validated
// against the client's registration.
func (c Context) CanRedirect() bool {
	return c.request != nil && c.request.RedirectURI != ""
}
