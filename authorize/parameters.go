package authorize

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/authplane/authplane/grants"
	"github.com/authplane/authplane/oauth2"
)

// Protocol parameter names used by the authorization endpoint.
const (
	ParamScope                = "scope"
	ParamResponseType         = "response_type"
	ParamClientID             = "client_id"
	ParamRedirectURI          = "redirect_uri"
	ParamState                = "state"
	ParamResponseMode         = "response_mode"
	ParamNonce                = "nonce"
	ParamDisplay              = "display"
	ParamPrompt               = "prompt"
	ParamMaxAge               = "max_age"
	ParamUILocales            = "ui_locales"
	ParamIDTokenHint          = "id_token_hint"
	ParamLoginHint            = "login_hint"
	ParamAcrValues            = "acr_values"
	ParamClaims               = "claims"
	ParamRequest              = "request"
	ParamRequestURI           = "request_uri"
	ParamCodeChallenge        = "code_challenge"
	ParamCodeChallengeMethod  = "code_challenge_method"
	ParamAuthorizationDetails = "authorization_details"
)

// Parameters is an immutable multi-valued view over the raw authorization
// request parameters. Accessors return empty/zero sentinels for absent
// values; validity is decided later by the context creator, not here.
type Parameters struct {
	values url.Values
}

// NewParameters wraps raw query/form values. The caller must not mutate
// values afterwards.
func NewParameters(values url.Values) Parameters {
	if values == nil {
		values = url.Values{}
	}
	return Parameters{values: values}
}

// Get returns the first value for key, or "".
func (p Parameters) Get(key string) string {
	return p.values.Get(key)
}

// Has reports whether key is present with a non-empty value.
func (p Parameters) Has(key string) bool {
	return p.values.Get(key) != ""
}

// MultiValued reports whether key appears more than once, which RFC 6749
// §3.1 forbids for the authorization endpoint.
func (p Parameters) MultiValued(key string) bool {
	return len(p.values[key]) > 1
}

func (p Parameters) Scopes() oauth2.Scopes {
	return oauth2.SplitScopes(p.Get(ParamScope))
}

func (p Parameters) ResponseType() oauth2.ResponseType {
	return oauth2.ResponseType(p.Get(ParamResponseType))
}

func (p Parameters) ClientID() string    { return p.Get(ParamClientID) }
func (p Parameters) RedirectURI() string { return p.Get(ParamRedirectURI) }
func (p Parameters) State() string       { return p.Get(ParamState) }
func (p Parameters) Nonce() string       { return p.Get(ParamNonce) }
func (p Parameters) Display() string     { return p.Get(ParamDisplay) }
func (p Parameters) UILocales() string   { return p.Get(ParamUILocales) }
func (p Parameters) IDTokenHint() string { return p.Get(ParamIDTokenHint) }
func (p Parameters) LoginHint() string   { return p.Get(ParamLoginHint) }
func (p Parameters) AcrValues() string   { return p.Get(ParamAcrValues) }
func (p Parameters) ClaimsValue() string { return p.Get(ParamClaims) }
func (p Parameters) Request() string     { return p.Get(ParamRequest) }
func (p Parameters) RequestURI() string  { return p.Get(ParamRequestURI) }

func (p Parameters) ResponseMode() oauth2.ResponseModeType {
	return oauth2.ResponseModeType(p.Get(ParamResponseMode))
}

// MaxAge returns the max_age parameter, or -1 when absent or malformed.
func (p Parameters) MaxAge() int {
	raw := p.Get(ParamMaxAge)
	if raw == "" {
		return -1
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return -1
	}
	return value
}

// Prompts returns the space-delimited prompt values.
func (p Parameters) Prompts() []string {
	return oauth2.SplitScopes(p.Get(ParamPrompt))
}

// HasPrompt reports whether the prompt parameter contains value.
func (p Parameters) HasPrompt(value string) bool {
	for _, v := range p.Prompts() {
		if v == value {
			return true
		}
	}
	return false
}

func (p Parameters) CodeChallenge() string { return p.Get(ParamCodeChallenge) }

func (p Parameters) CodeChallengeMethod() oauth2.CodeMethodType {
	return oauth2.CodeMethodType(p.Get(ParamCodeChallengeMethod))
}

// AuthorizationDetails parses the authorization_details parameter
// (RFC 9396). Malformed JSON yields an empty slice; strictness is the
// context creator's concern.
func (p Parameters) AuthorizationDetails() grants.AuthorizationDetails {
	raw := p.Get(ParamAuthorizationDetails)
	if raw == "" {
		return grants.AuthorizationDetails{}
	}
	var details grants.AuthorizationDetails
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return grants.AuthorizationDetails{}
	}
	return details
}

// Overlay returns a copy of the parameters with the request-object claims
// laid over the plain parameters. Claims from a verified request object are
// authoritative over same-named query parameters (OIDC Core §6.3.3); the
// request and request_uri members themselves are never overridden.
func (p Parameters) Overlay(claims map[string]any) Parameters {
	merged := url.Values{}
	for key, values := range p.values {
		merged[key] = values
	}
	for key, value := range claims {
		if key == ParamRequest || key == ParamRequestURI {
			continue
		}
		if s := claimAsString(value); s != "" {
			merged.Set(key, s)
		}
	}
	return Parameters{values: merged}
}

func claimAsString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case bool:
		return strconv.FormatBool(v)
	case map[string]any, []any:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
	return ""
}
