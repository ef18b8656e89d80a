package jose

import (
	"encoding/json"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/pkg/errors"
)

// ErrInvalidJOSE is the sentinel all parse/decrypt/verify failures wrap.
var ErrInvalidJOSE = errors.New("invalid JOSE token")

// Parser parses, decrypts and verifies compact JOSE tokens against a key
// set snapshot. It performs no I/O and holds no mutable state, so one
// Parser may be shared across requests.
type Parser struct {
	clientKeys jwk.Set // registered client keys (signature verification)
	serverKeys jwk.Set // server keys (JWE decryption, id_token_hint verification)
	secret     []byte  // client secret for symmetric algorithms
	allowNone  bool
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithClientKeys supplies the client's registered JWK set used to verify
// asymmetric signatures.
func WithClientKeys(set jwk.Set) ParserOption {
	return func(p *Parser) { p.clientKeys = set }
}

// WithServerKeys supplies the server's key set, used to decrypt JWE tokens
// and to verify tokens the server itself signed.
func WithServerKeys(set jwk.Set) ParserOption {
	return func(p *Parser) { p.serverKeys = set }
}

// WithSecret supplies the shared secret for HS256/HS384/HS512 verification.
func WithSecret(secret string) ParserOption {
	return func(p *Parser) {
		if secret != "" {
			p.secret = []byte(secret)
		}
	}
}

// WithAllowUnsigned permits tokens with alg "none". The resulting Context
// reports HasSignature() == false; callers decide whether that is
// acceptable for their profile. Never enabled by default.
func WithAllowUnsigned() ParserOption {
	return func(p *Parser) { p.allowNone = true }
}

// NewParser builds a Parser over immutable key material snapshots.
func NewParser(options ...ParserOption) *Parser {
	p := &Parser{}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Parse processes a compact serialized token. Encrypted tokens are
// decrypted first and the plaintext is treated as a nested signed token.
// The returned Context carries claims only when verification succeeded.
func (p *Parser) Parse(token string) (Context, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return EmptyContext(), nil
	}

	encrypted := false
	switch strings.Count(token, ".") {
	case 2: // JWS compact form
	case 4: // JWE compact form
		plaintext, err := p.decrypt(token)
		if err != nil {
			return Context{}, errors.Wrap(ErrInvalidJOSE, err.Error())
		}
		token = plaintext
		encrypted = true
		if strings.Count(token, ".") != 2 {
			return Context{}, errors.Wrap(ErrInvalidJOSE, "decrypted payload is not a nested JWS")
		}
	default:
		return Context{}, errors.Wrap(ErrInvalidJOSE, "malformed compact serialization")
	}

	ctx, err := p.verify(token)
	if err != nil {
		return Context{}, err
	}
	ctx.encrypted = encrypted
	return ctx, nil
}

func (p *Parser) decrypt(token string) (string, error) {
	if p.serverKeys == nil || p.serverKeys.Len() == 0 {
		return "", errors.New("no decryption keys configured")
	}

	msg, err := jwe.Parse([]byte(token))
	if err != nil {
		return "", errors.Wrap(err, "parsing JWE")
	}
	alg := msg.ProtectedHeaders().Algorithm()

	var lastErr error
	for i := 0; i < p.serverKeys.Len(); i++ {
		key, ok := p.serverKeys.Key(i)
		if !ok {
			continue
		}
		plaintext, err := jwe.Decrypt([]byte(token), jwe.WithKey(alg, key))
		if err == nil {
			return string(plaintext), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no usable decryption key")
	}
	return "", errors.Wrap(lastErr, "decrypting JWE")
}

func (p *Parser) verify(token string) (Context, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return Context{}, errors.Wrap(ErrInvalidJOSE, err.Error())
	}
	if len(msg.Signatures()) == 0 {
		return Context{}, errors.Wrap(ErrInvalidJOSE, "token has no signature block")
	}
	headers := msg.Signatures()[0].ProtectedHeaders()
	alg := headers.Algorithm()
	kid := headers.KeyID()

	if alg == jwa.NoSignature {
		if !p.allowNone {
			return Context{}, errors.Wrap(ErrInvalidJOSE, "alg none is not allowed")
		}
		claims, err := decodeClaims(msg.Payload())
		if err != nil {
			return Context{}, err
		}
		return Context{raw: token, alg: alg.String(), keyID: kid, claims: claims}, nil
	}

	key, err := p.selectKey(alg, kid)
	if err != nil {
		return Context{}, errors.Wrap(ErrInvalidJOSE, err.Error())
	}

	payload, err := jws.Verify([]byte(token), jws.WithKey(alg, key))
	if err != nil {
		return Context{}, errors.Wrap(ErrInvalidJOSE, "signature verification failed")
	}

	claims, err := decodeClaims(payload)
	if err != nil {
		return Context{}, err
	}
	return Context{raw: token, alg: alg.String(), keyID: kid, signed: true, claims: claims}, nil
}

// selectKey picks the verification key by key-id when the header carries
// one, otherwise by unique algorithm-family match. Zero or ambiguous
// matches fail closed, as does a key-type mismatch against the declared
// algorithm.
func (p *Parser) selectKey(alg jwa.SignatureAlgorithm, kid string) (jwk.Key, error) {
	if isSymmetric(alg) {
		if len(p.secret) == 0 {
			return nil, errors.Errorf("no shared secret configured for %s", alg)
		}
		return jwk.FromRaw(p.secret)
	}

	candidates := p.asymmetricCandidates()
	if kid != "" {
		for _, key := range candidates {
			if key.KeyID() == kid {
				if err := checkKeyType(alg, key); err != nil {
					return nil, err
				}
				return key, nil
			}
		}
		return nil, errors.Errorf("no key with kid %q", kid)
	}

	var matched []jwk.Key
	for _, key := range candidates {
		if checkKeyType(alg, key) == nil {
			matched = append(matched, key)
		}
	}
	switch len(matched) {
	case 0:
		return nil, errors.Errorf("no key matches algorithm %s", alg)
	case 1:
		return matched[0], nil
	default:
		return nil, errors.Errorf("ambiguous key selection for algorithm %s without kid", alg)
	}
}

func (p *Parser) asymmetricCandidates() []jwk.Key {
	var keys []jwk.Key
	for _, set := range []jwk.Set{p.clientKeys, p.serverKeys} {
		if set == nil {
			continue
		}
		for i := 0; i < set.Len(); i++ {
			if key, ok := set.Key(i); ok {
				keys = append(keys, key)
			}
		}
	}
	return keys
}

func isSymmetric(alg jwa.SignatureAlgorithm) bool {
	switch alg {
	case jwa.HS256, jwa.HS384, jwa.HS512:
		return true
	}
	return false
}

func checkKeyType(alg jwa.SignatureAlgorithm, key jwk.Key) error {
	var want jwa.KeyType
	switch alg {
	case jwa.RS256, jwa.RS384, jwa.RS512, jwa.PS256, jwa.PS384, jwa.PS512:
		want = jwa.RSA
	case jwa.ES256, jwa.ES384, jwa.ES512:
		want = jwa.EC
	case jwa.HS256, jwa.HS384, jwa.HS512:
		want = jwa.OctetSeq
	default:
		return errors.Errorf("unsupported signature algorithm %s", alg)
	}
	if key.KeyType() != want {
		return errors.Errorf("key type %s does not match algorithm %s", key.KeyType(), alg)
	}
	return nil
}

func decodeClaims(payload []byte) (map[string]any, error) {
	claims := map[string]any{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errors.Wrap(ErrInvalidJOSE, "payload is not a JSON object")
	}
	return claims, nil
}
