// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package registry implements the keyed resource registry at the heart of the
multi-tenant core.

It maps a scope key (connection-URI domain, app, tenant) and a resource kind to
a singleton resource object, and provides the locking primitives the storage
resolver builds its reconciliation on.

Architecture:

  - Registry: Lock-protected (scope, kind) -> resource table.
  - ExclusiveView: Whole-registry critical section for multi-key reconciliation.
  - NamedLock: Per-key advisory locking for collaborators.

The registry holds non-owning references. Resource lifecycle (construction and
closing of storage backends) belongs to the resolver, never to this package.
*/
package registry

import (
	"errors"
	"fmt"
	"sync"
)

// # Scope Identity

// ScopeKey is the hierarchical identity (connection-URI domain, app, tenant)
// used to partition configuration and storage. The empty string is the
// distinguished "base"/default value for every component.
type ScopeKey struct {
	ConnectionURIDomain string `json:"connection_uri_domain"`
	AppID               string `json:"app_id"`
	TenantID            string `json:"tenant_id"`
}

// AppScope is the coarsening of [ScopeKey] that drops the tenant component.
// All tenants of one app share an AppScope.
type AppScope struct {
	ConnectionURIDomain string
	AppID               string
}

// BaseScope returns the distinguished base scope (all components empty).
// Its registry entry is established at process start and is always present.
func BaseScope() ScopeKey {
	return ScopeKey{}
}

// IsBase reports whether the key is the distinguished base scope.
func (k ScopeKey) IsBase() bool {
	return k == ScopeKey{}
}

// App returns the [AppScope] this key belongs to.
func (k ScopeKey) App() AppScope {
	return AppScope{ConnectionURIDomain: k.ConnectionURIDomain, AppID: k.AppID}
}

// String renders the key for logging and lock naming. Base components render
// as their canonical defaults so that distinct keys never collide.
func (k ScopeKey) String() string {
	domain, app, tenant := k.ConnectionURIDomain, k.AppID, k.TenantID
	if domain == "" {
		domain = "base"
	}
	if app == "" {
		app = "public"
	}
	if tenant == "" {
		tenant = "public"
	}
	return domain + "|" + app + "|" + tenant
}

// # Resource Table

// Kind tags the class of resource stored under a scope key. One scope key may
// hold at most one resource per kind.
type Kind string

// ErrScopeNotFound is returned by [Registry.Get] when no resource is bound to
// the requested (scope, kind) pair. A lookup never yields nil-as-success.
var ErrScopeNotFound = errors.New("registry: scope not found")

// Registry is the lock-protected resource table. The zero value is not usable;
// construct with [New].
//
// # Consistency
//
// Every per-key read and write takes the internal lock, so a reader never
// observes a mutation mid-flight for the key it reads. Multi-key
// reconciliation must run inside [Registry.WithExclusiveLock] so that the
// whole swap set appears atomic to readers.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[ScopeKey]any

	// keyLocks backs the advisory per-scope-key locking surface. It is
	// independent of mu: holding an advisory lock never blocks registry reads.
	keyLocks NamedLock
}

// New constructs an empty [Registry].
func New() *Registry {
	return &Registry{entries: make(map[Kind]map[ScopeKey]any)}
}

/*
Set inserts or replaces the resource bound to (key, kind).

Description: The swap is a single atomic operation; concurrent readers observe
either the previous or the new binding, never an intermediate state.

Parameters:
  - key: ScopeKey
  - kind: Kind
  - resource: any

Returns:
  - any: The previously bound resource, or nil if the pair was unbound
*/
func (r *Registry) Set(key ScopeKey, kind Kind, resource any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setLocked(key, kind, resource)
}

/*
Get returns the resource currently bound to (key, kind).

Parameters:
  - key: ScopeKey
  - kind: Kind

Returns:
  - any: The bound resource
  - error: ErrScopeNotFound if the pair is unbound
*/
func (r *Registry) Get(key ScopeKey, kind Kind) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(key, kind)
}

/*
AllWithKind returns a snapshot of every live (scope -> resource) binding for
the given kind.

Description: The returned map is a copy; mutating it does not affect the
registry, and later registry mutations do not affect it.

Parameters:
  - kind: Kind

Returns:
  - map[ScopeKey]any: Snapshot of the current bindings
*/
func (r *Registry) AllWithKind(kind Kind) map[ScopeKey]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allWithKindLocked(kind)
}

// WithExclusiveLock runs fn while no other registry mutation may interleave.
//
// The callback receives an [ExclusiveView] exposing the same operations as the
// registry itself; all of them execute under the single critical section. This
// is used only for multi-tenant reconciliation, where a set of key swaps must
// appear atomic to concurrent readers.
//
// fn must not block on I/O while holding the view beyond what reconciliation
// itself requires, and must not call back into the plain Registry methods
// (they would deadlock on the already-held lock).
func (r *Registry) WithExclusiveLock(fn func(view *ExclusiveView) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&ExclusiveView{registry: r})
}

// Lock acquires the advisory lock for the given scope key, blocking until it
// is available. Advisory locks serialize collaborator-level operations (for
// example writes against a shared in-memory backend) and are independent of
// the registry's own consistency lock.
func (r *Registry) Lock(key ScopeKey) {
	r.keyLocks.Lock(key.String())
}

// Unlock releases the advisory lock for the given scope key.
func (r *Registry) Unlock(key ScopeKey) {
	r.keyLocks.Unlock(key.String())
}

// # Exclusive Critical Section

// ExclusiveView exposes registry operations inside a [Registry.WithExclusiveLock]
// critical section. It is only valid for the duration of the callback.
type ExclusiveView struct {
	registry *Registry
}

// Set inserts or replaces a binding under the held critical section and
// returns the previous resource, if any.
func (v *ExclusiveView) Set(key ScopeKey, kind Kind, resource any) any {
	return v.registry.setLocked(key, kind, resource)
}

// Get returns the resource bound to (key, kind) under the held critical
// section. It fails with [ErrScopeNotFound] if the pair is unbound.
func (v *ExclusiveView) Get(key ScopeKey, kind Kind) (any, error) {
	return v.registry.getLocked(key, kind)
}

// AllWithKind snapshots every binding for the kind under the held critical
// section.
func (v *ExclusiveView) AllWithKind(kind Kind) map[ScopeKey]any {
	return v.registry.allWithKindLocked(kind)
}

// Clear removes every binding for the kind. Reconciliation uses this to
// rebuild the full binding set before re-publishing it in the same critical
// section.
func (v *ExclusiveView) Clear(kind Kind) {
	delete(v.registry.entries, kind)
}

// # Internal (lock already held)

func (r *Registry) setLocked(key ScopeKey, kind Kind, resource any) any {
	byScope := r.entries[kind]
	if byScope == nil {
		byScope = make(map[ScopeKey]any)
		r.entries[kind] = byScope
	}
	prev := byScope[key]
	byScope[key] = resource
	return prev
}

func (r *Registry) getLocked(key ScopeKey, kind Kind) (any, error) {
	resource, ok := r.entries[kind][key]
	if !ok {
		return nil, fmt.Errorf("no %q resource bound to scope %s: %w", kind, key, ErrScopeNotFound)
	}
	return resource, nil
}

func (r *Registry) allWithKindLocked(kind Kind) map[ScopeKey]any {
	snapshot := make(map[ScopeKey]any, len(r.entries[kind]))
	for key, resource := range r.entries[kind] {
		snapshot[key] = resource
	}
	return snapshot
}
