package token

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/authplane/authplane/tenants"
)

// Signer signs and verifies the JWTs a tenant issues.
type Signer interface {
	// Sign creates a signed JWT from claims
	Sign(claims jwt.MapClaims) (string, error)

	// GetVerificationKey returns the key jwt.Parse verifies with
	GetVerificationKey(token *jwt.Token) (any, error)

	// GetSigningMethod returns the JWT signing method used
	GetSigningMethod() jwt.SigningMethod
}

// HMACsigner implements Signer using symmetric HMAC-SHA256
type HMACsigner struct {
	secret []byte
}

// NewHMACSigner creates a new HMAC signer with the given secret
func NewHMACSigner(secret string) *HMACsigner {
	return &HMACsigner{
		secret: []byte(secret),
	}
}

func (h *HMACsigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(h.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signedToken, nil
}

func (h *HMACsigner) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return h.secret, nil
}

func (h *HMACsigner) GetSigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodHS256
}

// KeyPairSigner implements Signer using RSA or ECDSA
type KeyPairSigner struct {
	keyPair *KeyPair
}

// NewKeyPairSigner creates a new key pair signer with the given key pair
func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{
		keyPair: keyPair,
	}
}

func (a *KeyPairSigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(a.keyPair.GetSigningMethod(), claims)
	token.Header["kid"] = a.keyPair.KeyID

	signedToken, err := token.SignedString(a.keyPair.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with asymmetric key")
	}
	return signedToken, nil
}

func (a *KeyPairSigner) GetVerificationKey(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		return a.keyPair.PublicKey, nil
	default:
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
}

func (a *KeyPairSigner) GetSigningMethod() jwt.SigningMethod {
	return a.keyPair.GetSigningMethod()
}

// GetJWKS returns the JSON Web Key Set (only for asymmetric signers)
func (a *KeyPairSigner) GetJWKS() (*JWKS, error) {
	jwk, err := a.keyPair.ToJWK()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert key to JWK")
	}

	return &JWKS{
		Keys: []JWK{*jwk},
	}, nil
}

// GenerateSignerForTenant creates fresh key material matching the tenant's
// SignerType and stores it on the tenant struct. Used when seeding a tenant
// that has no keys yet.
func GenerateSignerForTenant(tenant *tenants.Tenant) (Signer, error) {
	switch tenant.SignerType {
	case tenants.SignerTypeHMAC:
		secret := make([]byte, 32) // 256 bits
		if _, err := rand.Read(secret); err != nil {
			return nil, errors.Wrap(err, "failed to generate HMAC secret")
		}
		tenant.HMACSecret = hex.EncodeToString(secret)
		return NewHMACSigner(tenant.HMACSecret), nil

	case tenants.SignerTypeRS256:
		keyPair, err := GenerateRSAKeyPair(tenant.KeyID, 2048)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate RS256 key pair")
		}
		if err := storeKeyPairInTenant(tenant, keyPair); err != nil {
			return nil, err
		}
		return NewKeyPairSigner(keyPair), nil

	case tenants.SignerTypeES256:
		keyPair, err := GenerateECDSAKeyPair(tenant.KeyID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate ES256 key pair")
		}
		if err := storeKeyPairInTenant(tenant, keyPair); err != nil {
			return nil, err
		}
		return NewKeyPairSigner(keyPair), nil

	default:
		return nil, errors.Errorf("unsupported signer type: %s", tenant.SignerType)
	}
}

// SignerForTenant reconstructs a signer from the tenant's stored key material.
func SignerForTenant(tenant *tenants.Tenant) (Signer, error) {
	switch tenant.SignerType {
	case tenants.SignerTypeHMAC:
		if tenant.HMACSecret == "" {
			return nil, errors.Errorf("tenant %s has no HMAC secret", tenant.ID)
		}
		return NewHMACSigner(tenant.HMACSecret), nil

	case tenants.SignerTypeRS256, tenants.SignerTypeES256:
		if tenant.PrivateKeyPEM == "" {
			return nil, errors.Errorf("tenant %s has no key pair", tenant.ID)
		}
		keyPair, err := LoadKeyPairFromPEM(tenant.KeyID, tenant.PrivateKeyPEM, string(tenant.SignerType))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load key pair for tenant %s", tenant.ID)
		}
		return NewKeyPairSigner(keyPair), nil

	default:
		return nil, errors.Errorf("unsupported signer type: %s", tenant.SignerType)
	}
}

// storeKeyPairInTenant converts a KeyPair to PEM and stores it in the tenant
func storeKeyPairInTenant(tenant *tenants.Tenant, keyPair *KeyPair) error {
	privatePEM, err := keyPair.ExportPrivateKeyPEM()
	if err != nil {
		return errors.Wrap(err, "failed to export private key")
	}
	publicPEM, err := keyPair.ExportPublicKeyPEM()
	if err != nil {
		return errors.Wrap(err, "failed to export public key")
	}

	tenant.PrivateKeyPEM = privatePEM
	tenant.PublicKeyPEM = publicPEM

	jwks, err := keyPair.ExportJWKS()
	if err != nil {
		return errors.Wrap(err, "failed to export JWKS")
	}
	tenant.JWKS = jwks
	return nil
}
