package fakegrantrepo

import (
	"sync"

	"github.com/authplane/authplane/grants"
	"github.com/google/uuid"
)

var (
	_ grants.GrantedRepo   = (*FakeGrantedRepo)(nil)
	_ grants.CodeGrantRepo = (*FakeCodeGrantRepo)(nil)
)

type FakeGrantedRepo struct {
	granted map[string]grants.AuthorizationGranted // tenant/client/subject -> record
	lock    sync.RWMutex
}

func NewFakeGrantedRepo() *FakeGrantedRepo {
	return &FakeGrantedRepo{
		granted: make(map[string]grants.AuthorizationGranted),
	}
}

func grantedKey(tenantID, clientID, subject string) string {
	return tenantID + "/" + clientID + "/" + subject
}

func (r *FakeGrantedRepo) FindByClientAndSubject(tenantID, clientID, subject string) (grants.AuthorizationGranted, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.granted[grantedKey(tenantID, clientID, subject)], nil
}

func (r *FakeGrantedRepo) Put(granted grants.AuthorizationGranted) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if granted.ID == "" {
		granted.ID = uuid.New().String()
	}
	r.granted[grantedKey(granted.TenantID, granted.Grant.ClientID, granted.Grant.Subject)] = granted
	return nil
}

type FakeCodeGrantRepo struct {
	codes map[string]grants.AuthorizationCodeGrant // tenant/code -> grant
	lock  sync.Mutex
}

func NewFakeCodeGrantRepo() *FakeCodeGrantRepo {
	return &FakeCodeGrantRepo{
		codes: make(map[string]grants.AuthorizationCodeGrant),
	}
}

func (r *FakeCodeGrantRepo) Register(grant grants.AuthorizationCodeGrant) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.codes[grant.TenantID+"/"+grant.Code] = grant
	return nil
}

// Consume removes and returns the grant under one lock acquisition so a
// replayed code observes found=false.
func (r *FakeCodeGrantRepo) Consume(tenantID, code string) (grants.AuthorizationCodeGrant, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	key := tenantID + "/" + code
	grant, ok := r.codes[key]
	if !ok {
		return grants.AuthorizationCodeGrant{}, false, nil
	}
	delete(r.codes, key)
	return grant, true, nil
}
