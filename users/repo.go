package users

// HintKind classifies how a CIBA hint identifies the end user.
type HintKind string

const (
	HintSubject HintKind = "sub"
	HintEmail   HintKind = "email"
	HintPhone   HintKind = "phone"
	HintName    HintKind = "name" // bare value: username or email fallback
)

type UserRepo interface {
	Upsert(user *User) error
	Delete(tenantID, userID string) error
	GetByID(tenantID, userID string) (*User, error)
	GetByEmail(tenantID, email string) (*User, error)

	// FindByHint resolves a user from a CIBA hint value. The kind selects
	// the lookup attribute; HintName matches username first, then email.
	FindByHint(tenantID string, kind HintKind, value string) (*User, error)

	List(tenantID string, offset, limit int) ([]*User, error)
}

// ParseHint splits a login_hint into its kind and value. Prefixed forms
// ("sub:", "email:", "phone:") select the attribute explicitly; a bare
// value resolves by username or email.
func ParseHint(hint string) (HintKind, string) {
	for _, kind := range []HintKind{HintSubject, HintEmail, HintPhone} {
		prefix := string(kind) + ":"
		if len(hint) > len(prefix) && hint[:len(prefix)] == prefix {
			return kind, hint[len(prefix):]
		}
	}
	return HintName, hint
}
