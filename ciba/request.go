package ciba

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"github.com/authplane/authplane/oauth2"
)

// Status is the lifecycle state of a backchannel authentication request.
// PENDING is the only non-terminal state; approved, denied and expired are
// terminal and immutable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// ErrTerminalState is returned when a transition is attempted on a request
// that already reached a terminal state.
var ErrTerminalState = errors.New("backchannel authentication request is in a terminal state")

// BackchannelAuthRequest is a pending out-of-band authentication. The
// client holds only the AuthReqID and polls the token endpoint with it; the
// authentication device drives the state transitions.
type BackchannelAuthRequest struct {
	AuthReqID string `json:"auth_req_id"`
	TenantID  string `json:"tenant_id"`
	ClientID  string `json:"client_id"`

	// Subject is the end user resolved from the request hint. Resolution
	// happens up front so an unknown user fails fast, before anything is
	// persisted or notified.
	Subject string `json:"subject"`

	Scopes         oauth2.Scopes  `json:"scopes"`
	Profile        oauth2.Profile `json:"profile"`
	AcrValues      string         `json:"acr_values,omitempty"`
	BindingMessage string         `json:"binding_message,omitempty"`

	Status   Status        `json:"status"`
	Interval time.Duration `json:"interval"`

	// LastPolledAt enforces the polling interval; polling faster than
	// Interval yields slow_down.
	LastPolledAt time.Time `json:"last_polled_at"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewAuthReqID returns a fresh backchannel authentication request identifier.
func NewAuthReqID() string {
	return ksuid.New().String()
}

// Expired reports whether the request's validity window has passed.
func (r *BackchannelAuthRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Terminal reports whether the request reached a final state.
func (r *BackchannelAuthRequest) Terminal() bool {
	return r.Status != StatusPending
}

// Approve transitions a pending request to approved.
func (r *BackchannelAuthRequest) Approve() error {
	return r.transition(StatusApproved)
}

// Deny transitions a pending request to denied.
func (r *BackchannelAuthRequest) Deny() error {
	return r.transition(StatusDenied)
}

// Expire transitions a pending request to expired.
func (r *BackchannelAuthRequest) Expire() error {
	return r.transition(StatusExpired)
}

func (r *BackchannelAuthRequest) transition(to Status) error {
	if r.Terminal() {
		return errors.Wrapf(ErrTerminalState, "cannot transition %s to %s", r.Status, to)
	}
	r.Status = to
	return nil
}

// TooEarly reports whether a poll at now violates the polling interval.
func (r *BackchannelAuthRequest) TooEarly(now time.Time) bool {
	if r.LastPolledAt.IsZero() {
		return false
	}
	return now.Before(r.LastPolledAt.Add(r.Interval))
}

// Repo persists backchannel authentication requests between creation and
// the final token poll.
type Repo interface {
	Register(request *BackchannelAuthRequest) error
	Find(tenantID, authReqID string) (*BackchannelAuthRequest, error)
	Update(request *BackchannelAuthRequest) error
	Delete(tenantID, authReqID string) error
}
