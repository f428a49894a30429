// Package session keeps authenticated platform clients per account identity
// for the lifetime of the process.
package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/jmehdipour/dm-dispatcher/internal/platform"
	"github.com/jmehdipour/dm-dispatcher/internal/util"
)

var ErrNoActiveSession = errors.New("no active session found, please login again")

type Registry struct {
	mu      sync.RWMutex
	clients map[string]platform.Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]platform.Client)}
}

func key(identity string) string {
	return util.NormalizeHandle(identity)
}

// Put stores (or replaces) the client for identity.
func (r *Registry) Put(identity string, c platform.Client) {
	r.mu.Lock()
	r.clients[key(identity)] = c
	r.mu.Unlock()
}

// Get returns the client for identity or ErrNoActiveSession.
func (r *Registry) Get(identity string) (platform.Client, error) {
	k := key(identity)
	if k == "" {
		return nil, ErrNoActiveSession
	}
	r.mu.RLock()
	c, ok := r.clients[k]
	r.mu.RUnlock()
	if !ok || c == nil {
		return nil, ErrNoActiveSession
	}
	return c, nil
}

// Clear removes identity. It reports whether a session existed.
func (r *Registry) Clear(identity string) bool {
	k := key(identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[k]; !ok {
		return false
	}
	delete(r.clients, k)
	return true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Identities returns the registered identities, sorted.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.clients))
	for k := range r.clients {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
