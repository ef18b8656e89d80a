package authorize

import (
	"time"

	"github.com/segmentio/ksuid"

	"github.com/authplane/authplane/grants"
	"github.com/authplane/authplane/oauth2"
)

// AuthorizationRequest is the normalized, persisted form of an inbound
// authorization request. It survives the interaction round-trip: the
// interaction layer holds only its ID and redeems it when the resource
// owner approves or denies.
type AuthorizationRequest struct {
	ID                   string                      `json:"id"`
	TenantID             string                      `json:"tenant_id"`
	ClientID             string                      `json:"client_id"`
	Pattern              RequestPattern              `json:"pattern"`
	Profile              oauth2.Profile              `json:"profile"`
	ResponseType         oauth2.ResponseType         `json:"response_type"`
	ResponseMode         oauth2.ResponseModeType     `json:"response_mode,omitempty"`
	RedirectURI          string                      `json:"redirect_uri"`
	Scopes               oauth2.Scopes               `json:"scopes"`
	State                string                      `json:"state,omitempty"`
	Nonce                string                      `json:"nonce,omitempty"`
	Display              string                      `json:"display,omitempty"`
	Prompt               string                      `json:"prompt,omitempty"`
	MaxAge               int                         `json:"max_age"`
	UILocales            string                      `json:"ui_locales,omitempty"`
	IDTokenHint          string                      `json:"id_token_hint,omitempty"`
	LoginHint            string                      `json:"login_hint,omitempty"`
	AcrValues            string                      `json:"acr_values,omitempty"`
	ClaimsValue          string                      `json:"claims,omitempty"`
	CodeChallenge        string                      `json:"code_challenge,omitempty"`
	CodeChallengeMethod  oauth2.CodeMethodType       `json:"code_challenge_method,omitempty"`
	AuthorizationDetails grants.AuthorizationDetails `json:"authorization_details,omitempty"`
	CreatedAt            time.Time                   `json:"created_at"`
	ExpiresAt            time.Time                   `json:"expires_at"`
}

// NewRequestID returns a fresh, k-sortable authorization request identifier.
func NewRequestID() string {
	return ksuid.New().String()
}

// Expired reports whether the request can no longer be redeemed.
func (r *AuthorizationRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RequestRepo stores pending authorization requests for the duration of the
// interaction flow.
type RequestRepo interface {
	Register(request *AuthorizationRequest) error
	Find(tenantID, requestID string) (*AuthorizationRequest, error)
	Delete(tenantID, requestID string) error
}
