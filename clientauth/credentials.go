package clientauth

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"

	"github.com/authplane/authplane/oauth2"
)

// Credentials is the outcome of client authentication: the method that
// succeeded and, when mTLS was presented, the certificate and its
// calculated thumbprint for certificate-bound access tokens (RFC 8705).
type Credentials struct {
	ClientID   string
	Method     oauth2.AuthMethod
	ClientCert *x509.Certificate

	// CertThumbprint is the base64url SHA-256 of the client certificate,
	// set only when token binding is enabled by both server and client
	// configuration. Minted into the access token's cnf claim.
	CertThumbprint string
}

// Bound reports whether issued access tokens must carry the cnf binding.
func (c Credentials) Bound() bool {
	return c.CertThumbprint != ""
}

// CertificateThumbprint computes the base64url-encoded SHA-256 digest of a
// DER certificate, the x5t#S256 confirmation value.
func CertificateThumbprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Request carries the client authentication material extracted from a token
// or backchannel-authentication request by the transport layer.
type Request struct {
	// ClientID as presented (basic auth username, post body, or assertion iss).
	ClientID string

	// BasicSecret is the password from the Authorization: Basic header.
	BasicSecret string
	HasBasic    bool

	// PostSecret is the client_secret form parameter.
	PostSecret string

	// Assertion is the client_assertion form parameter (signed JWT).
	Assertion     string
	AssertionType string

	// ClientCert is the mTLS certificate presented at the TLS layer.
	ClientCert *x509.Certificate
}

// AssertionTypeJWTBearer is the only client_assertion_type accepted
// (RFC 7523 §2.2).
const AssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
