package core

import (
	"fmt"
	"strings"
	"sync"
)

// MemRoleRegistry is an in-memory RoleRegistry implementation. Keys are
// cached as "<namespace>:<identity>:<role>" so lookups stay O(1) without
// going back to a backing store.
//
// The registry is safe for concurrent use.
type MemRoleRegistry struct {
	mu    sync.Mutex
	cache map[string]struct{}
}

// NewMemRoleRegistry returns an empty, ready-to-use registry.
func NewMemRoleRegistry() *MemRoleRegistry {
	return &MemRoleRegistry{cache: make(map[string]struct{})}
}

func (r *MemRoleRegistry) key(identityID, namespace, role string) string {
	return namespace + ":" + identityID + ":" + role
}

// GrantRole assigns role to identityID within namespace. Granting an
// already-held role is a no-op, not an error (repeated bootstrap grants are
// common when wiring an AuthContext for tests).
func (r *MemRoleRegistry) GrantRole(identityID, namespace, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[r.key(identityID, namespace, role)] = struct{}{}
	return nil
}

// RevokeRole removes role from identityID within namespace. It returns an
// error if the role was not held.
func (r *MemRoleRegistry) RevokeRole(identityID, namespace, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(identityID, namespace, role)
	if _, ok := r.cache[k]; !ok {
		return fmt.Errorf("role not found")
	}
	delete(r.cache, k)
	return nil
}

// HasRole reports whether identityID holds role within namespace, exactly
// (no default-namespace fallback — that rule lives in AuthContext).
func (r *MemRoleRegistry) HasRole(identityID, namespace, role string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cache[r.key(identityID, namespace, role)]
	return ok
}

// ListRoles returns every role identityID holds within namespace.
func (r *MemRoleRegistry) ListRoles(identityID, namespace string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := namespace + ":" + identityID + ":"
	var roles []string
	for k := range r.cache {
		if strings.HasPrefix(k, prefix) {
			roles = append(roles, strings.TrimPrefix(k, prefix))
		}
	}
	return roles, nil
}
