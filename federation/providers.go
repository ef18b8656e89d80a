package federation

import (
	"sync"

	"github.com/pkg/errors"
)

// ProviderRepo stores the upstream identity providers configured per tenant.
type ProviderRepo interface {
	Upsert(provider Provider) error
	Get(tenantID, providerID string) (*Provider, error)
	List(tenantID string) ([]*Provider, error)
	Delete(tenantID, providerID string) error
}

// InMemoryProviderRepo is a ProviderRepo backed by a map, suitable for
// development and tests.
type InMemoryProviderRepo struct {
	mu        sync.RWMutex
	providers map[string]map[string]Provider
}

func NewInMemoryProviderRepo() *InMemoryProviderRepo {
	return &InMemoryProviderRepo{providers: make(map[string]map[string]Provider)}
}

func (r *InMemoryProviderRepo) Upsert(provider Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenant, ok := r.providers[provider.TenantID]
	if !ok {
		tenant = make(map[string]Provider)
		r.providers[provider.TenantID] = tenant
	}
	tenant[provider.ID] = provider
	return nil
}

func (r *InMemoryProviderRepo) Get(tenantID, providerID string) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[tenantID][providerID]
	if !ok {
		return nil, errors.Errorf("[InMemoryProviderRepo Get] provider %s not found", providerID)
	}
	copied := provider
	return &copied, nil
}

func (r *InMemoryProviderRepo) List(tenantID string) ([]*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]*Provider, 0, len(r.providers[tenantID]))
	for _, provider := range r.providers[tenantID] {
		copied := provider
		providers = append(providers, &copied)
	}
	return providers, nil
}

func (r *InMemoryProviderRepo) Delete(tenantID, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers[tenantID], providerID)
	return nil
}
