package token

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/authplane/authplane/grants"
	"github.com/authplane/authplane/oauth2"
	"github.com/authplane/authplane/tenants"
	"github.com/authplane/authplane/users"
)

// AccessToken is an issued access token with the metadata the caller
// persists alongside it.
type AccessToken struct {
	Signed    string
	JTI       string
	ExpiresAt time.Time
}

// TokenIntrospection represents the metadata information of an OAuth 2.0 token.
// The 'active' field indicates the state of the token - if it's false, other
// fields may not be populated.
type TokenIntrospection struct {
	Active   bool    `json:"active"`
	Scope    string  `json:"scope,omitempty"`
	ClientID string  `json:"client_id,omitempty"`
	Aud      *string `json:"aud,omitempty"`
	Exp      *int64  `json:"exp,omitempty"`
	Iat      *int64  `json:"iat,omitempty"`
	Iss      *string `json:"iss,omitempty"`
	Sub      *string `json:"sub,omitempty"`
	Tenant   string  `json:"tenant,omitempty"`
}

// Issuer mints and inspects the tokens a tenant issues. Signers are
// reconstructed from tenant key material and cached per tenant key.
type Issuer struct {
	signers            map[string]Signer // key: tenantID/keyID
	mu                 sync.RWMutex
	revokedCache       RevokedTokenCache
	accessTokenExpiry  time.Duration
	idTokenExpiry      time.Duration
	refreshTokenExpiry time.Duration
	nowFunc            func() time.Time
}

type IssuerOption func(*Issuer)

// WithTokenExpiry sets the fallback lifetimes used when a tenant does not
// configure its own.
func WithTokenExpiry(accessTokenExpiry, idTokenExpiry, refreshTokenExpiry time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.accessTokenExpiry = accessTokenExpiry
		i.idTokenExpiry = idTokenExpiry
		i.refreshTokenExpiry = refreshTokenExpiry
	}
}

func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

func WithRevokedTokenCache(cache RevokedTokenCache) IssuerOption {
	return func(i *Issuer) {
		i.revokedCache = cache
	}
}

// NewIssuer builds a token issuer.
func NewIssuer(options ...IssuerOption) *Issuer {
	i := &Issuer{
		signers:      make(map[string]Signer),
		revokedCache: NewInMemoryRevokedTokenCache(),
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(i)
	}

	if i.accessTokenExpiry == 0 {
		i.accessTokenExpiry = 15 * time.Minute
	}
	if i.idTokenExpiry == 0 {
		i.idTokenExpiry = time.Hour
	}
	if i.refreshTokenExpiry == 0 {
		i.refreshTokenExpiry = 24 * time.Hour
	}
	return i
}

// IssueAccessToken mints a signed access token for the grant.
// certThumbprint, when set, binds the token to the client certificate via
// the cnf claim (RFC 8705 §3).
func (i *Issuer) IssueAccessToken(tenant *tenants.Tenant, grant grants.AuthorizationGrant, certThumbprint string) (*AccessToken, error) {
	signer, err := i.signerForTenant(tenant)
	if err != nil {
		return nil, err
	}

	now := i.nowFunc()
	expiresAt := now.Add(i.AccessTokenExpiry(tenant))
	jti := uuid.New().String()

	sub := grant.Subject
	if sub == "" {
		sub = grant.ClientID
	}

	claims := jwt.MapClaims{
		"iss":       tenant.Issuer,
		"sub":       sub,
		"aud":       tenant.Audience,
		"client_id": grant.ClientID,
		"scope":     grant.Scopes.String(),
		"tenant":    tenant.ID,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"jti":       jti,
	}
	if certThumbprint != "" {
		claims["cnf"] = map[string]any{"x5t#S256": certThumbprint}
	}
	if raw := oauth2.MarshalAuthorizationDetails(grant.AuthorizationDetails); raw != nil {
		claims["authorization_details"] = raw
	}
	for key, value := range grant.CustomProperties {
		if _, taken := claims[key]; !taken {
			claims[key] = value
		}
	}

	signed, err := signer.Sign(claims)
	if err != nil {
		return nil, errors.Wrap(err, "[IssueAccessToken] signing")
	}
	return &AccessToken{Signed: signed, JTI: jti, ExpiresAt: expiresAt}, nil
}

// IssueIDToken mints a signed ID token for the authenticated end user.
func (i *Issuer) IssueIDToken(tenant *tenants.Tenant, user *users.User, clientID, nonce string, authTime time.Time, requested grants.ClaimSet) (string, error) {
	signer, err := i.signerForTenant(tenant)
	if err != nil {
		return "", err
	}

	now := i.nowFunc()
	expiry := tenant.IDTokenExpiry
	if expiry <= 0 {
		expiry = i.idTokenExpiry
	}

	claims := jwt.MapClaims{
		"iss":   tenant.Issuer,
		"sub":   user.ID,
		"aud":   clientID,
		"email": user.Email,
		"name":  user.Name(),
		"iat":   now.Unix(),
		"exp":   now.Add(expiry).Unix(),
		"jti":   uuid.New().String(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	if !authTime.IsZero() {
		claims["auth_time"] = authTime.Unix()
	}
	if requested.Contains("phone_number") && user.PhoneNumber != "" {
		claims["phone_number"] = user.PhoneNumber
	}

	signed, err := signer.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[IssueIDToken] signing")
	}
	return signed, nil
}

// NewRefreshToken returns a 256-bit opaque refresh token.
func (i *Issuer) NewRefreshToken() (string, error) {
	tokenBytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errors.Wrap(err, "[NewRefreshToken] rand.Read")
	}
	return hex.EncodeToString(tokenBytes), nil
}

// AccessTokenExpiry resolves the access token lifetime for a tenant.
func (i *Issuer) AccessTokenExpiry(tenant *tenants.Tenant) time.Duration {
	if tenant.AccessTokenExpiry > 0 {
		return tenant.AccessTokenExpiry
	}
	return i.accessTokenExpiry
}

// RefreshTokenExpiry resolves the refresh token lifetime for a tenant.
func (i *Issuer) RefreshTokenExpiry(tenant *tenants.Tenant) time.Duration {
	if tenant.RefreshTokenExpiry > 0 {
		return tenant.RefreshTokenExpiry
	}
	return i.refreshTokenExpiry
}

// GetJWKS returns the JSON Web Key Set for public key distribution.
// Only supported for asymmetric signers.
func (i *Issuer) GetJWKS(tenant *tenants.Tenant) (*JWKS, error) {
	signer, err := i.signerForTenant(tenant)
	if err != nil {
		return nil, err
	}
	keyPairSigner, ok := signer.(*KeyPairSigner)
	if !ok {
		return nil, errors.New("JWKS only supported for asymmetric signing (RSA/ECDSA)")
	}
	return keyPairSigner.GetJWKS()
}

// Introspection verifies a raw access token against the tenant's key and
// reports its state.
func (i *Issuer) Introspection(tenant *tenants.Tenant, rawToken string) (*TokenIntrospection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &TokenIntrospection{Active: false}, nil
	}

	signer, err := i.signerForTenant(tenant)
	if err != nil {
		return &TokenIntrospection{Active: false}, err
	}

	parsed, err := jwt.Parse(rawToken, signer.GetVerificationKey)
	if err != nil || !parsed.Valid {
		return &TokenIntrospection{Active: false}, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return &TokenIntrospection{Active: false}, errors.New("error extracting claims from token")
	}

	iss, _ := claims["iss"].(string)
	sub, _ := claims["sub"].(string)
	aud, _ := claims["aud"].(string)
	scope, _ := claims["scope"].(string)
	clientID, _ := claims["client_id"].(string)
	tenantID, _ := claims["tenant"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)
	jti, _ := claims["jti"].(string)

	iatInt := int64(iat)
	expInt := int64(exp)

	active := i.nowFunc().Unix() <= expInt
	if jti != "" && i.revokedCache.IsRevoked(jti) {
		active = false
	}

	return &TokenIntrospection{
		Active:   active,
		Scope:    scope,
		ClientID: clientID,
		Aud:      &aud,
		Exp:      &expInt,
		Iat:      &iatInt,
		Iss:      &iss,
		Sub:      &sub,
		Tenant:   tenantID,
	}, nil
}

// RevokeAccessToken revokes a verified access token by its JTI.
func (i *Issuer) RevokeAccessToken(tenant *tenants.Tenant, rawToken string) error {
	signer, err := i.signerForTenant(tenant)
	if err != nil {
		return err
	}

	parsed, err := jwt.Parse(rawToken, signer.GetVerificationKey)
	if err != nil || !parsed.Valid {
		return errors.Wrap(err, "invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("error extracting claims from token")
	}

	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return errors.New("token missing jti claim")
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return errors.New("token missing exp claim")
	}

	return i.revokedCache.Add(jti, time.Unix(int64(exp), 0))
}

// CleanupRevokedTokens removes expired tokens from the revocation cache
func (i *Issuer) CleanupRevokedTokens() {
	if i.revokedCache != nil {
		i.revokedCache.Cleanup()
	}
}

// RegisterTenantSigner installs a prebuilt signer for a tenant, bypassing
// reconstruction from stored key material.
func (i *Issuer) RegisterTenantSigner(tenantID, keyID string, signer Signer) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.signers[tenantID+"/"+keyID] = signer
}

func (i *Issuer) signerForTenant(tenant *tenants.Tenant) (Signer, error) {
	key := tenant.ID + "/" + tenant.KeyID

	i.mu.RLock()
	signer, ok := i.signers[key]
	i.mu.RUnlock()
	if ok {
		return signer, nil
	}

	signer, err := SignerForTenant(tenant)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	i.signers[key] = signer
	i.mu.Unlock()
	return signer, nil
}
