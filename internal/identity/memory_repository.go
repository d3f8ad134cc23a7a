package identity

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryRepository builds an in-memory user store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{users: make(map[string]User)}
}

func (r *memoryRepository) Create(_ context.Context, user User) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.ID]; exists {
		return false, nil
	}
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = user
	return true, nil
}

func (r *memoryRepository) UpdateDevice(_ context.Context, reg Registration) error {
	return r.update(reg.UserID, func(u *User) {
		u.DeviceID = reg.DeviceID
		u.DeviceModel = reg.DeviceModel
		u.TimeZone = reg.TimeZone
		u.OS = reg.OS
		u.AppVersion = reg.AppVersion
		if reg.PushToken != "" {
			u.PushToken = reg.PushToken
		}
	})
}

func (r *memoryRepository) Get(_ context.Context, id string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (r *memoryRepository) FindByAddress(_ context.Context, address string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found User
		ok    bool
	)
	for _, u := range r.users {
		if u.WalletAddress == address && (!ok || u.UpdatedAt.After(found.UpdatedAt)) {
			found, ok = u, true
		}
	}
	if !ok {
		return User{}, ErrNotFound
	}
	return found, nil
}

func (r *memoryRepository) IDsByPhone(_ context.Context, phone string) ([]string, error) {
	r.mu.RLock()
	matches := make([]User, 0)
	for _, u := range r.users {
		if phone != "" && u.Phone == phone {
			matches = append(matches, u)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	ids := make([]string, 0, len(matches))
	for _, u := range matches {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (r *memoryRepository) OnboardedByPhone(_ context.Context, phone, excludeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if phone != "" && u.Phone == phone && u.ID != excludeID && u.Onboarded {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepository) SetPhone(_ context.Context, id, phone string) error {
	return r.update(id, func(u *User) {
		u.Phone = phone
		u.PhoneVerified = true
	})
}

func (r *memoryRepository) SetAppVersion(_ context.Context, id, version string) error {
	return r.update(id, func(u *User) { u.AppVersion = version })
}

func (r *memoryRepository) SetPushToken(_ context.Context, id, token string) error {
	return r.update(id, func(u *User) { u.PushToken = token })
}

func (r *memoryRepository) SetDeactivated(_ context.Context, id string, deactivated bool) error {
	return r.update(id, func(u *User) { u.Deactivated = deactivated })
}

func (r *memoryRepository) SetBlacklisted(_ context.Context, id string, blacklisted bool) error {
	return r.update(id, func(u *User) { u.Blacklisted = blacklisted })
}

func (r *memoryRepository) MarkOnboarded(_ context.Context, id, address string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return false, ErrNotFound
	}
	if u.Onboarded {
		return false, nil
	}
	u.Onboarded = true
	u.WalletAddress = address
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return true, nil
}

func (r *memoryRepository) update(id string, mutate func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return ErrNotFound
	}
	mutate(&u)
	u.UpdatedAt = time.Now().UTC()
	r.users[id] = u
	return nil
}
