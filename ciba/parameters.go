package ciba

import (
	"net/url"
	"strconv"

	"github.com/authplane/authplane/oauth2"
)

// Backchannel authentication request parameter names (CIBA Core §7.1).
const (
	ParamScope                   = "scope"
	ParamClientNotificationToken = "client_notification_token"
	ParamAcrValues               = "acr_values"
	ParamLoginHintToken          = "login_hint_token"
	ParamIDTokenHint             = "id_token_hint"
	ParamLoginHint               = "login_hint"
	ParamBindingMessage          = "binding_message"
	ParamUserCode                = "user_code"
	ParamRequestedExpiry         = "requested_expiry"
	ParamRequest                 = "request"
)

// Parameters is an immutable view over the backchannel authentication
// request form body.
type Parameters struct {
	values url.Values
}

// NewParameters wraps raw form values. The caller must not mutate values
// afterwards.
func NewParameters(values url.Values) Parameters {
	if values == nil {
		values = url.Values{}
	}
	return Parameters{values: values}
}

func (p Parameters) Get(key string) string { return p.values.Get(key) }
func (p Parameters) Has(key string) bool   { return p.values.Get(key) != "" }

func (p Parameters) Scopes() oauth2.Scopes {
	return oauth2.SplitScopes(p.Get(ParamScope))
}

func (p Parameters) ClientNotificationToken() string { return p.Get(ParamClientNotificationToken) }
func (p Parameters) AcrValues() string               { return p.Get(ParamAcrValues) }
func (p Parameters) LoginHintToken() string          { return p.Get(ParamLoginHintToken) }
func (p Parameters) IDTokenHint() string             { return p.Get(ParamIDTokenHint) }
func (p Parameters) LoginHint() string               { return p.Get(ParamLoginHint) }
func (p Parameters) BindingMessage() string          { return p.Get(ParamBindingMessage) }
func (p Parameters) UserCode() string                { return p.Get(ParamUserCode) }
func (p Parameters) Request() string                 { return p.Get(ParamRequest) }

// RequestedExpiry returns the requested_expiry parameter in seconds, or 0
// when absent or malformed.
func (p Parameters) RequestedExpiry() int {
	raw := p.Get(ParamRequestedExpiry)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0
	}
	return value
}

// HasHint reports whether at least one end-user hint is present.
func (p Parameters) HasHint() bool {
	return p.Has(ParamLoginHint) || p.Has(ParamLoginHintToken) || p.Has(ParamIDTokenHint)
}

// Overlay returns a copy with verified request-object claims laid over the
// plain parameters; the request member itself is never overridden.
func (p Parameters) Overlay(claims map[string]any) Parameters {
	merged := url.Values{}
	for key, values := range p.values {
		merged[key] = values
	}
	for key, value := range claims {
		if key == ParamRequest {
			continue
		}
		switch v := value.(type) {
		case string:
			merged.Set(key, v)
		case float64:
			merged.Set(key, strconv.FormatInt(int64(v), 10))
		case bool:
			merged.Set(key, strconv.FormatBool(v))
		}
	}
	return Parameters{values: merged}
}
