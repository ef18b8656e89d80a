package federation

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// AuthState is the per-login state carried across the upstream redirect:
// the CSRF state value, the nonce bound into the upstream ID token, and
// the PKCE verifier for the code exchange.
type AuthState struct {
	State        string
	Nonce        string
	CodeVerifier string
	TenantID     string
	ProviderID   string
	ReturnURL    string
	CreatedAt    time.Time
}

// StateStore persists pending authentication state between the outbound
// redirect and the callback. Consume removes and returns in one step so a
// state value redeems at most once.
type StateStore interface {
	Put(state AuthState) error
	Consume(state string) (AuthState, bool, error)
}

// InMemoryStateStore is the default StateStore.
type InMemoryStateStore struct {
	mu     sync.Mutex
	states map[string]AuthState
	ttl    time.Duration
}

func NewInMemoryStateStore(ttl time.Duration) *InMemoryStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &InMemoryStateStore{states: make(map[string]AuthState), ttl: ttl}
}

func (s *InMemoryStateStore) Put(state AuthState) error {
	if state.State == "" {
		return errors.New("[Put] state value is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.State] = state
	return nil
}

func (s *InMemoryStateStore) Consume(state string) (AuthState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found, ok := s.states[state]
	if !ok {
		return AuthState{}, false, nil
	}
	delete(s.states, state)
	if time.Since(found.CreatedAt) > s.ttl {
		return AuthState{}, false, nil
	}
	return found, true, nil
}

// generateRandomString returns a URL-safe random string of n bytes entropy.
func generateRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generating random string")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
