package fakecibarepo

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/authplane/authplane/ciba"
)

// FakeRepo is an in-memory ciba.Repo for tests and the demo server.
type FakeRepo struct {
	mu       sync.RWMutex
	requests map[string]map[string]*ciba.BackchannelAuthRequest
}

func NewFakeRepo() *FakeRepo {
	return &FakeRepo{requests: make(map[string]map[string]*ciba.BackchannelAuthRequest)}
}

func (f *FakeRepo) Register(request *ciba.BackchannelAuthRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.requests[request.TenantID]
	if !ok {
		tenant = make(map[string]*ciba.BackchannelAuthRequest)
		f.requests[request.TenantID] = tenant
	}
	copied := *request
	tenant[request.AuthReqID] = &copied
	return nil
}

func (f *FakeRepo) Find(tenantID, authReqID string) (*ciba.BackchannelAuthRequest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	request, ok := f.requests[tenantID][authReqID]
	if !ok {
		return nil, errors.Errorf("[Find] backchannel request %s not found", authReqID)
	}
	copied := *request
	return &copied, nil
}

func (f *FakeRepo) Update(request *ciba.BackchannelAuthRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[request.TenantID][request.AuthReqID]; !ok {
		return errors.Errorf("[Update] backchannel request %s not found", request.AuthReqID)
	}
	copied := *request
	f.requests[request.TenantID][request.AuthReqID] = &copied
	return nil
}

func (f *FakeRepo) Delete(tenantID, authReqID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.requests[tenantID], authReqID)
	return nil
}
