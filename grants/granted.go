package grants

import (
	"time"

	"github.com/authplane/authplane/oauth2"
)

// AuthorizationGranted is the persisted consent record for one
// (subject, client) pair. Consent is monotonically expandable through Merge
// unless explicitly overwritten with Replace.
type AuthorizationGranted struct {
	ID        string
	TenantID  string
	Grant     AuthorizationGrant
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Exists reports whether a consent record is present.
func (a AuthorizationGranted) Exists() bool {
	return a.ID != ""
}

// Replace overwrites the prior consent with the incoming grant.
func (a AuthorizationGranted) Replace(incoming AuthorizationGrant, now time.Time) AuthorizationGranted {
	return AuthorizationGranted{
		ID:        a.ID,
		TenantID:  a.TenantID,
		Grant:     incoming,
		CreatedAt: a.CreatedAt,
		UpdatedAt: now,
	}
}

// Merge unions the incoming grant into the existing consent: scopes and
// claim sets union (idempotent), incoming custom properties override
// same-keyed existing ones, authorization details concatenate (repeats are
// legitimate), and consent claims keep the earliest consent time.
func (a AuthorizationGranted) Merge(incoming AuthorizationGrant, now time.Time) AuthorizationGranted {
	existing := a.Grant

	props := make(map[string]string, len(existing.CustomProperties)+len(incoming.CustomProperties))
	for k, v := range existing.CustomProperties {
		props[k] = v
	}
	for k, v := range incoming.CustomProperties {
		props[k] = v
	}

	consent := make(map[string]time.Time, len(existing.ConsentClaims)+len(incoming.ConsentClaims))
	for k, v := range existing.ConsentClaims {
		consent[k] = v
	}
	for k, v := range incoming.ConsentClaims {
		if prior, ok := consent[k]; !ok || v.Before(prior) {
			consent[k] = v
		}
	}

	details := make(AuthorizationDetails, 0, len(existing.AuthorizationDetails)+len(incoming.AuthorizationDetails))
	details = append(details, existing.AuthorizationDetails...)
	details = append(details, incoming.AuthorizationDetails...)

	merged := AuthorizationGrant{
		Subject:              existing.Subject,
		ClientID:             existing.ClientID,
		Scopes:               existing.Scopes.Union(incoming.Scopes),
		IDTokenClaims:        existing.IDTokenClaims.Union(incoming.IDTokenClaims),
		UserinfoClaims:       existing.UserinfoClaims.Union(incoming.UserinfoClaims),
		CustomProperties:     props,
		AuthorizationDetails: details,
		ConsentClaims:        consent,
	}
	if merged.Subject == "" {
		merged.Subject = incoming.Subject
	}
	if merged.ClientID == "" {
		merged.ClientID = incoming.ClientID
	}

	return AuthorizationGranted{
		ID:        a.ID,
		TenantID:  a.TenantID,
		Grant:     merged,
		CreatedAt: a.CreatedAt,
		UpdatedAt: now,
	}
}

// IsGrantedScopes reports whether every requested scope has already been
// consented to. Used to decide whether a fresh consent interaction is needed.
func (a AuthorizationGranted) IsGrantedScopes(requested oauth2.Scopes) bool {
	return a.Grant.Scopes.ContainsAll(requested)
}

// UnauthorizedScopes returns the requested scopes not yet consented to.
func (a AuthorizationGranted) UnauthorizedScopes(requested oauth2.Scopes) oauth2.Scopes {
	return requested.Difference(a.Grant.Scopes)
}

// IsGrantedIDTokenClaims reports whether the requested id_token claims are
// covered by prior consent.
func (a AuthorizationGranted) IsGrantedIDTokenClaims(requested ClaimSet) bool {
	return a.Grant.IDTokenClaims.ContainsAll(requested)
}

// IsGrantedUserinfoClaims reports whether the requested userinfo claims are
// covered by prior consent.
func (a AuthorizationGranted) IsGrantedUserinfoClaims(requested ClaimSet) bool {
	return a.Grant.UserinfoClaims.ContainsAll(requested)
}
