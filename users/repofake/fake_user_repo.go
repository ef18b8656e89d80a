package fakeuserrepo

import (
	"errors"
	"sort"
	"sync"

	"github.com/authplane/authplane/users"
	"github.com/google/uuid"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users map[string]map[string]*users.User // tenantID -> userID -> user
	lock  sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users: make(map[string]map[string]*users.User),
	}
}

func (ur *FakeUserRepo) Upsert(user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if ur.users[user.TenantID] == nil {
		ur.users[user.TenantID] = make(map[string]*users.User)
	}
	ur.users[user.TenantID][user.ID] = user
	return nil
}

func (ur *FakeUserRepo) Delete(tenantID, userID string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if tenantUsers, ok := ur.users[tenantID]; ok {
		delete(tenantUsers, userID)
	}
	return nil
}

func (ur *FakeUserRepo) GetByID(tenantID, userID string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	user, ok := ur.users[tenantID][userID]
	if !ok {
		return nil, errors.New("not found")
	}
	return user, nil
}

func (ur *FakeUserRepo) GetByEmail(tenantID, email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	for _, user := range ur.users[tenantID] {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, errors.New("not found")
}

func (ur *FakeUserRepo) FindByHint(tenantID string, kind users.HintKind, value string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	for _, user := range ur.users[tenantID] {
		switch kind {
		case users.HintSubject:
			if user.ID == value {
				return user, nil
			}
		case users.HintEmail:
			if user.Email == value {
				return user, nil
			}
		case users.HintPhone:
			if user.PhoneNumber == value {
				return user, nil
			}
		case users.HintName:
			if user.Username == value || user.Email == value {
				return user, nil
			}
		}
	}
	return nil, errors.New("not found")
}

func (ur *FakeUserRepo) List(tenantID string, offset, limit int) ([]*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	all := make([]*users.User, 0, len(ur.users[tenantID]))
	for _, u := range ur.users[tenantID] {
		all = append(all, u)
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
