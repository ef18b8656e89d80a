package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/authplane/authplane/clientauth"
)

// clientAuthFromRequest extracts the client authentication material from an
// incoming form request: HTTP Basic credentials, post body credentials, a
// client assertion, and any mTLS certificate presented at the TLS layer.
// The request form must already be parsed.
func clientAuthFromRequest(r *http.Request) clientauth.Request {
	auth := clientauth.Request{
		ClientID:      r.PostFormValue("client_id"),
		PostSecret:    r.PostFormValue("client_secret"),
		Assertion:     r.PostFormValue("client_assertion"),
		AssertionType: r.PostFormValue("client_assertion_type"),
	}

	if username, password, ok := r.BasicAuth(); ok {
		auth.HasBasic = true
		auth.BasicSecret = password
		if auth.ClientID == "" {
			auth.ClientID = username
		}
	}

	// Assertion-based authentication identifies the client by the
	// assertion's issuer; peek at it unverified so the client record can be
	// loaded. Signature verification happens against that record's keys.
	if auth.ClientID == "" && auth.Assertion != "" {
		auth.ClientID = peekAssertionIssuer(auth.Assertion)
	}

	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		auth.ClientCert = r.TLS.PeerCertificates[0]
	}

	return auth
}

func peekAssertionIssuer(assertion string) string {
	parts := strings.Split(assertion, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Issuer string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Issuer
}
