package fakeclientrepo

import (
	"errors"
	"sort"
	"sync"

	"github.com/authplane/authplane/clients"
	"github.com/google/uuid"
)

var _ clients.Repo = (*FakeClientRepo)(nil)

type FakeClientRepo struct {
	clients map[string]map[string]*clients.Client // tenantID -> clientID -> client
	lock    sync.RWMutex
}

func NewFakeClientRepo() *FakeClientRepo {
	return &FakeClientRepo{
		clients: make(map[string]map[string]*clients.Client),
	}
}

func (r *FakeClientRepo) Upsert(tenantID string, clientData *clients.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if clientData.ID == "" {
		clientData.ID = uuid.New().String()
	}
	clientData.TenantID = tenantID
	if r.clients[tenantID] == nil {
		r.clients[tenantID] = make(map[string]*clients.Client)
	}
	r.clients[tenantID][clientData.ID] = clientData
	return nil
}

func (r *FakeClientRepo) Delete(tenantID, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if tenantClients, ok := r.clients[tenantID]; ok {
		delete(tenantClients, clientID)
	}
	return nil
}

func (r *FakeClientRepo) Get(tenantID, clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[tenantID][clientID]
	if !ok || client == nil {
		return nil, errors.New("not found")
	}
	return client, nil
}

func (r *FakeClientRepo) List(tenantID string, offset, limit int) ([]*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	all := make([]*clients.Client, 0, len(r.clients[tenantID]))
	for _, c := range r.clients[tenantID] {
		all = append(all, c)
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
