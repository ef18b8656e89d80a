package tenantrepofakes

import (
	"errors"
	"sort"
	"sync"

	"github.com/authplane/authplane/tenants"
	"github.com/google/uuid"
)

var _ tenants.Repo = (*FakeTenantRepo)(nil)

type FakeTenantRepo struct {
	tenants map[string]*tenants.Tenant
	lock    sync.RWMutex
}

func NewFakeTenantRepo() *FakeTenantRepo {
	return &FakeTenantRepo{
		tenants: make(map[string]*tenants.Tenant),
	}
}

func (tr *FakeTenantRepo) Upsert(tenantData *tenants.Tenant) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	if tenantData.ID == "" {
		tenantData.ID = uuid.New().String()
	}
	tr.tenants[tenantData.ID] = tenantData
	return nil
}

func (tr *FakeTenantRepo) Delete(tenantID string) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	delete(tr.tenants, tenantID)
	return nil
}

func (tr *FakeTenantRepo) Get(tenantID string) (*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	tenant, ok := tr.tenants[tenantID]
	if !ok || tenant == nil {
		return nil, errors.New("not found")
	}
	return tenant, nil
}

func (tr *FakeTenantRepo) GetByIssuer(issuer string) (*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	for _, t := range tr.tenants {
		if t != nil && t.Issuer == issuer {
			return t, nil
		}
	}
	return nil, errors.New("not found")
}

func (tr *FakeTenantRepo) GetByDomain(domain string) (*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	for _, t := range tr.tenants {
		if t != nil && t.Domain == domain {
			return t, nil
		}
	}
	return nil, errors.New("not found")
}

func (tr *FakeTenantRepo) List(offset, limit int) ([]*tenants.Tenant, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()

	all := make([]*tenants.Tenant, 0, len(tr.tenants))
	for _, t := range tr.tenants {
		all = append(all, t)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}
