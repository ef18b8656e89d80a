package jose

import (
	"encoding/json"
	"time"

	"github.com/authplane/authplane/internal/utils"
)

// Context wraps a parsed token that may be absent, signed-only, or
// encrypted-then-signed. Claims are populated only after verification
// succeeds; a Context produced by the Parser never carries unverified
// signed claims.
type Context struct {
	raw       string
	alg       string
	keyID     string
	encrypted bool
	signed    bool
	claims    map[string]any
}

// EmptyContext represents the absence of a JOSE token (e.g. a plain
// parameter-only authorization request).
func EmptyContext() Context {
	return Context{claims: map[string]any{}}
}

// Exists reports whether a token was present at all.
func (c Context) Exists() bool {
	return c.raw != ""
}

// HasSignature reports whether the token carried a verified signature.
// Tokens accepted with alg "none" (only when explicitly allowed) return false.
func (c Context) HasSignature() bool {
	return c.signed
}

// WasEncrypted reports whether the token arrived as a JWE.
func (c Context) WasEncrypted() bool {
	return c.encrypted
}

// Algorithm returns the JWS signing algorithm of the (inner) token.
func (c Context) Algorithm() string {
	return c.alg
}

// KeyID returns the kid header of the (inner) token, if any.
func (c Context) KeyID() string {
	return c.keyID
}

// Claims returns the decrypted, verified payload claims.
func (c Context) Claims() map[string]any {
	return c.claims
}

// HasClaim reports whether the named claim is present.
func (c Context) HasClaim(name string) bool {
	_, ok := c.claims[name]
	return ok
}

// StringClaim returns the named claim as a string, or "" when absent or
// of another type.
func (c Context) StringClaim(name string) string {
	v, _ := c.claims[name].(string)
	return v
}

// TimeClaim returns the named NumericDate claim, or the zero time when absent.
func (c Context) TimeClaim(name string) time.Time {
	switch v := c.claims[name].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.Unix(n, 0)
		}
	}
	return time.Time{}
}

// StringsClaim returns the named claim as a string slice, accepting both a
// single string and an array (the aud claim allows both forms).
func (c Context) StringsClaim(name string) []string {
	switch v := c.claims[name].(type) {
	case string:
		return []string{v}
	case []any:
		return utils.ToStringSlice(v)
	case []string:
		return v
	}
	return nil
}
