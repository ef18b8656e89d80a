package fakeauthorizerepo

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/authplane/authplane/authorize"
)

// FakeRequestRepo is an in-memory authorize.RequestRepo for tests and the
// demo server.
type FakeRequestRepo struct {
	mu       sync.RWMutex
	requests map[string]map[string]*authorize.AuthorizationRequest
}

func NewFakeRequestRepo() *FakeRequestRepo {
	return &FakeRequestRepo{requests: make(map[string]map[string]*authorize.AuthorizationRequest)}
}

func (f *FakeRequestRepo) Register(request *authorize.AuthorizationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.requests[request.TenantID]
	if !ok {
		tenant = make(map[string]*authorize.AuthorizationRequest)
		f.requests[request.TenantID] = tenant
	}
	tenant[request.ID] = request
	return nil
}

func (f *FakeRequestRepo) Find(tenantID, requestID string) (*authorize.AuthorizationRequest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	request, ok := f.requests[tenantID][requestID]
	if !ok {
		return nil, errors.Errorf("[Find] authorization request %s not found", requestID)
	}
	return request, nil
}

func (f *FakeRequestRepo) Delete(tenantID, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.requests[tenantID], requestID)
	return nil
}
