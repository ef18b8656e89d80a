package users

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a resource owner within a tenant. The protocol engine only needs
// identity, credential hashes, and the attributes surfaced as ID-token and
// userinfo claims.
type User struct {
	ID           string    `json:"id,omitempty"`          // Subject identifier (sub claim)
	TenantID     string    `json:"tenant_id,omitempty"`   // Owning tenant
	Email        string    `json:"email,omitempty"`       // User's email address
	Username     string    `json:"username,omitempty"`    // Unique username within the tenant
	PhoneNumber  string    `json:"phone,omitempty"`       // E.164 phone number
	PasswordHash string    `json:"-"`                     // Hashed password - never serialize
	FirstName    string    `json:"first_name,omitempty"`  // First name of the user
	LastName     string    `json:"last_name,omitempty"`   // Last name of the user
	DateJoined   time.Time `json:"date_joined,omitempty"` // When the user registered
	LastLogin    time.Time `json:"last_login,omitempty"`  // Last successful authentication

	// UserCodeHash is the bcrypt hash of the CIBA user_code credential.
	// Verified when the client registration requires the user_code parameter.
	UserCodeHash string `json:"-"`

	// NotificationChannel identifies the authentication device channel the
	// CIBA notifier delivers to (push token, device id). Opaque to the core.
	NotificationChannel string `json:"notification_channel,omitempty"`

	Verified bool `json:"verified,omitempty"` // Has the user verified who they are
	Blocked  bool `json:"blocked,omitempty"`  // Blocked from authenticating
}

// Name returns the user's display name for the OIDC name claim.
func (u *User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Active reports whether the user may complete an authentication.
func (u *User) Active() bool {
	return u.Verified && !u.Blocked
}

// CheckPassword verifies a plaintext password against the stored hash.
func (u *User) CheckPassword(password string) bool {
	return CheckPasswordHash(password, u.PasswordHash)
}

// CheckUserCode verifies a CIBA user_code against the stored credential.
// A user without a registered code never matches.
func (u *User) CheckUserCode(code string) bool {
	if u.UserCodeHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.UserCodeHash), []byte(code)) == nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// HashUserCode hashes a CIBA user_code credential for storage.
func HashUserCode(code string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	return string(bytes), err
}
