package grants

import (
	"time"

	"github.com/authplane/authplane/oauth2"
)

// ClaimSet is a named claim collection (id_token or userinfo claims
// requested via the claims parameter or implied by scopes).
type ClaimSet []string

// Contains reports whether the named claim is in the set.
func (c ClaimSet) Contains(name string) bool {
	for _, v := range c {
		if v == name {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every claim in other is in the set.
func (c ClaimSet) ContainsAll(other ClaimSet) bool {
	for _, v := range other {
		if !c.Contains(v) {
			return false
		}
	}
	return true
}

// Union merges other into the set without duplicates.
func (c ClaimSet) Union(other ClaimSet) ClaimSet {
	result := make(ClaimSet, 0, len(c)+len(other))
	result = append(result, c...)
	for _, v := range other {
		if !result.Contains(v) {
			result = append(result, v)
		}
	}
	return result
}

// Difference returns the claims not present in other.
func (c ClaimSet) Difference(other ClaimSet) ClaimSet {
	result := make(ClaimSet, 0, len(c))
	for _, v := range c {
		if !other.Contains(v) {
			result = append(result, v)
		}
	}
	return result
}

// AuthorizationDetails is a list of rich authorization request entries
// (RFC 9396). Entries are opaque JSON objects to the core; merging
// concatenates because repeated details are legitimate.
type AuthorizationDetails []map[string]any

// AuthorizationGrant represents what has been authorized: the subject, the
// client, the granted scopes, the requested claim sets, custom properties
// and authorization details. Every optional field defaults to an
// empty-but-present value so downstream code can query safely.
type AuthorizationGrant struct {
	Subject              string
	ClientID             string
	Scopes               oauth2.Scopes
	IDTokenClaims        ClaimSet
	UserinfoClaims       ClaimSet
	CustomProperties     map[string]string
	AuthorizationDetails AuthorizationDetails
	ConsentClaims        map[string]time.Time
}

// GrantOption customizes an AuthorizationGrant at construction.
type GrantOption func(*AuthorizationGrant)

func WithIDTokenClaims(claims ...string) GrantOption {
	return func(g *AuthorizationGrant) { g.IDTokenClaims = ClaimSet(claims) }
}

func WithUserinfoClaims(claims ...string) GrantOption {
	return func(g *AuthorizationGrant) { g.UserinfoClaims = ClaimSet(claims) }
}

func WithCustomProperties(props map[string]string) GrantOption {
	return func(g *AuthorizationGrant) {
		for k, v := range props {
			g.CustomProperties[k] = v
		}
	}
}

func WithAuthorizationDetails(details AuthorizationDetails) GrantOption {
	return func(g *AuthorizationGrant) { g.AuthorizationDetails = details }
}

func WithConsentClaims(claims map[string]time.Time) GrantOption {
	return func(g *AuthorizationGrant) {
		for k, v := range claims {
			g.ConsentClaims[k] = v
		}
	}
}

// NewAuthorizationGrant builds a grant with every optional collection
// initialized, never nil.
func NewAuthorizationGrant(subject, clientID string, scopes oauth2.Scopes, options ...GrantOption) AuthorizationGrant {
	grant := AuthorizationGrant{
		Subject:              subject,
		ClientID:             clientID,
		Scopes:               append(oauth2.Scopes{}, scopes...),
		IDTokenClaims:        ClaimSet{},
		UserinfoClaims:       ClaimSet{},
		CustomProperties:     map[string]string{},
		AuthorizationDetails: AuthorizationDetails{},
		ConsentClaims:        map[string]time.Time{},
	}
	for _, opt := range options {
		opt(&grant)
	}
	return grant
}

// Exists reports whether the grant has been populated.
func (g AuthorizationGrant) Exists() bool {
	return g.Subject != "" || g.ClientID != ""
}

// HasOpenIDScope reports whether the grant covers an OIDC flow.
func (g AuthorizationGrant) HasOpenIDScope() bool {
	return g.Scopes.HasOpenID()
}
