// Package mock provides an in-memory identity.Resolver for tests and examples.
package mock

import (
	"context"
	"sync"

	"github.com/embercloud/oauth/identity"
)

// Resolver is an in-memory identity.Resolver backed by a map.
type Resolver struct {
	mu    sync.RWMutex
	users map[string]*identity.User
}

var _ identity.Resolver = (*Resolver)(nil)

// New creates an empty mock resolver
func New() *Resolver {
	return &Resolver{users: make(map[string]*identity.User)}
}

// AddUser registers an active user
func (r *Resolver) AddUser(user *identity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

// RemoveUser deactivates a user; subsequent resolutions miss
func (r *Resolver) RemoveUser(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
}

// ResolveActiveUser implements identity.Resolver
func (r *Resolver) ResolveActiveUser(_ context.Context, id string) (*identity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	userCopy := *user
	return &userCopy, nil
}
