package faketokenrepo

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/authplane/authplane/token"
)

// FakeTokenRepo is an in-memory token.Repo for tests and the demo server.
// ConsumeRefreshToken removes and returns the record under one lock, so a
// refresh token redeems at most once.
type FakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]map[string]*token.OAuthToken // tenantID -> tokenID
}

func NewFakeTokenRepo() *FakeTokenRepo {
	return &FakeTokenRepo{tokens: make(map[string]map[string]*token.OAuthToken)}
}

func (f *FakeTokenRepo) Register(record *token.OAuthToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.tokens[record.TenantID]
	if !ok {
		tenant = make(map[string]*token.OAuthToken)
		f.tokens[record.TenantID] = tenant
	}
	copied := *record
	tenant[record.ID] = &copied
	return nil
}

func (f *FakeTokenRepo) Get(tenantID, tokenID string) (*token.OAuthToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.tokens[tenantID][tokenID]
	if !ok {
		return nil, errors.Errorf("[Get] token %s not found", tokenID)
	}
	copied := *record
	return &copied, nil
}

func (f *FakeTokenRepo) ConsumeRefreshToken(tenantID, refreshToken string) (*token.OAuthToken, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, record := range f.tokens[tenantID] {
		if record.RefreshToken != "" && record.RefreshToken == refreshToken {
			delete(f.tokens[tenantID], id)
			copied := *record
			return &copied, true, nil
		}
	}
	return nil, false, nil
}

func (f *FakeTokenRepo) Delete(tenantID, tokenID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens[tenantID], tokenID)
	return nil
}
