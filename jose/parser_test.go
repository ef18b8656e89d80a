package jose_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/authplane/authplane/jose"
)

const testSecret = "a-shared-secret-for-hs256"

func hmacToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func rsaToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func publicKeySet(t *testing.T, kids map[string]*rsa.PrivateKey) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for kid, key := range kids {
		jwkKey, err := jwk.FromRaw(key.Public())
		require.NoError(t, err)
		require.NoError(t, jwkKey.Set(jwk.KeyIDKey, kid))
		require.NoError(t, set.AddKey(jwkKey))
	}
	return set
}

func TestParseEmptyToken(t *testing.T) {
	parser := jose.NewParser()

	ctx, err := parser.Parse("")
	require.NoError(t, err)
	require.False(t, ctx.Exists())
	require.False(t, ctx.HasSignature())
}

func TestParseHMACSignedToken(t *testing.T) {
	parser := jose.NewParser(jose.WithSecret(testSecret))
	exp := time.Now().Add(time.Hour)

	token := hmacToken(t, jwt.MapClaims{
		"iss": "client-1",
		"exp": exp.Unix(),
	})

	ctx, err := parser.Parse(token)
	require.NoError(t, err)
	require.True(t, ctx.Exists())
	require.True(t, ctx.HasSignature())
	require.False(t, ctx.WasEncrypted())
	require.Equal(t, "client-1", ctx.StringClaim("iss"))
	require.Equal(t, exp.Unix(), ctx.TimeClaim("exp").Unix())
}

func TestParseRejectsWrongSecret(t *testing.T) {
	parser := jose.NewParser(jose.WithSecret("a-different-secret"))

	token := hmacToken(t, jwt.MapClaims{"iss": "client-1"})

	_, err := parser.Parse(token)
	require.Error(t, err)
	require.ErrorIs(t, err, jose.ErrInvalidJOSE)
}

func TestParseRejectsMalformedToken(t *testing.T) {
	parser := jose.NewParser(jose.WithSecret(testSecret))

	_, err := parser.Parse("not-a-jose-token")
	require.ErrorIs(t, err, jose.ErrInvalidJOSE)
}

func TestParseUnsignedRejectedByDefault(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"iss": "client-1"})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parser := jose.NewParser(jose.WithSecret(testSecret))
	_, err = parser.Parse(raw)
	require.ErrorIs(t, err, jose.ErrInvalidJOSE)
}

func TestParseUnsignedAllowedExplicitly(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"iss": "client-1"})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	parser := jose.NewParser(jose.WithAllowUnsigned())
	ctx, err := parser.Parse(raw)
	require.NoError(t, err)
	require.True(t, ctx.Exists())
	require.False(t, ctx.HasSignature())
	require.Equal(t, "client-1", ctx.StringClaim("iss"))
}

func TestParseSelectsKeyByKeyID(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := publicKeySet(t, map[string]*rsa.PrivateKey{"kid-1": key1, "kid-2": key2})
	parser := jose.NewParser(jose.WithClientKeys(set))

	token := rsaToken(t, key2, "kid-2", jwt.MapClaims{"iss": "client-2"})

	ctx, err := parser.Parse(token)
	require.NoError(t, err)
	require.True(t, ctx.HasSignature())
	require.Equal(t, "kid-2", ctx.KeyID())
	require.Equal(t, "client-2", ctx.StringClaim("iss"))
}

func TestParseUnknownKeyIDFails(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := publicKeySet(t, map[string]*rsa.PrivateKey{"kid-1": key})
	parser := jose.NewParser(jose.WithClientKeys(set))

	token := rsaToken(t, key, "kid-missing", jwt.MapClaims{"iss": "client-1"})

	_, err = parser.Parse(token)
	require.ErrorIs(t, err, jose.ErrInvalidJOSE)
}

func TestParseAmbiguousKeysFailClosed(t *testing.T) {
	key1, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key2, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Two RSA keys and no kid in the header: no unique match.
	set := publicKeySet(t, map[string]*rsa.PrivateKey{"kid-1": key1, "kid-2": key2})
	parser := jose.NewParser(jose.WithClientKeys(set))

	token := rsaToken(t, key1, "", jwt.MapClaims{"iss": "client-1"})

	_, err = parser.Parse(token)
	require.ErrorIs(t, err, jose.ErrInvalidJOSE)
}

func TestParseUniqueAlgFamilyMatchWithoutKeyID(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set := publicKeySet(t, map[string]*rsa.PrivateKey{"kid-1": key})
	parser := jose.NewParser(jose.WithClientKeys(set))

	token := rsaToken(t, key, "", jwt.MapClaims{"iss": "client-1"})

	ctx, err := parser.Parse(token)
	require.NoError(t, err)
	require.True(t, ctx.HasSignature())
}

func TestStringsClaimAcceptsBothAudForms(t *testing.T) {
	parser := jose.NewParser(jose.WithSecret(testSecret))

	single := hmacToken(t, jwt.MapClaims{"aud": "https://issuer.example"})
	ctx, err := parser.Parse(single)
	require.NoError(t, err)
	require.Equal(t, []string{"https://issuer.example"}, ctx.StringsClaim("aud"))

	multi := hmacToken(t, jwt.MapClaims{"aud": []string{"a", "b"}})
	ctx, err = parser.Parse(multi)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ctx.StringsClaim("aud"))
}
