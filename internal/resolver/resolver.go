// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

/*
Package resolver owns the lifecycle of every storage backend and binds scope
keys to backend instances through the registry.

Architecture:

  - InitBase: One-time plugin-selection step at process start; establishes the
    always-present base-scope binding.
  - LoadAllTenantStorage: Reconciliation of the full tenant set into exactly
    one backend instance per distinct pool identity, executed under the
    registry's exclusive critical section.
  - StorageForUser: Cross-storage user-id lookup across all backends of an
    app, priority backend first.

The resolver is the only component that constructs, initializes, or closes a
backend. Everything else reaches storage through its accessors.
*/
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/declanvu/tenauth/internal/registry"
	"github.com/declanvu/tenauth/internal/storage"
)

// KindStorage is the registry kind under which storage backends are bound.
const KindStorage registry.Kind = "storage"

var (
	// ErrAmbiguousDriver reports more than one registered non-default storage
	// driver. Backend selection must be unambiguous; this is a fatal startup
	// error.
	ErrAmbiguousDriver = errors.New("resolver: ambiguous storage driver set")

	// ErrUnknownUserID reports that a user id matched no mapping, native user,
	// or non-auth-recipe reference on any backend of the app.
	ErrUnknownUserID = errors.New("resolver: unknown user id")

	// ErrNotInitialized reports use of the resolver before InitBase.
	ErrNotInitialized = errors.New("resolver: base storage not initialized")
)

// Options configures a [Resolver].
type Options struct {
	// Logger receives resolver and backend logging. Required.
	Logger *slog.Logger

	// LogLevels is applied to every backend at construction and refreshed on
	// every reconciliation pass.
	LogLevels storage.LogLevels

	// Drivers overrides the process-wide registered driver set. Nil means
	// storage.Drivers(). Tests inject fakes here.
	Drivers []storage.Driver
}

// Resolver binds scope keys to storage backends and owns backend lifecycle.
type Resolver struct {
	logger    *slog.Logger
	logLevels storage.LogLevels
	registry  *registry.Registry
	drivers   []storage.Driver

	mu sync.Mutex
	// candidate is the single registered non-default driver, kept even when it
	// cannot serve the base configuration: driver selection is per config, so a
	// tenant it can serve still gets it.
	candidate   storage.Driver
	fallback    storage.Driver
	baseDriver  storage.Driver
	baseConfig  map[string]any
	initialized map[storage.Storage]struct{}
}

// New constructs a [Resolver] with an empty registry. InitBase must run before
// any other method.
func New(opts Options) *Resolver {
	drivers := opts.Drivers
	if drivers == nil {
		drivers = storage.Drivers()
	}
	return &Resolver{
		logger:      opts.Logger,
		logLevels:   opts.LogLevels,
		registry:    registry.New(),
		drivers:     drivers,
		initialized: make(map[storage.Storage]struct{}),
	}
}

// Registry exposes the underlying registry for collaborators that need
// advisory per-scope locking.
func (r *Resolver) Registry() *registry.Registry { return r.registry }

// # Base Initialization

/*
InitBase performs the one-time plugin-selection step and establishes the
base-scope binding.

Description: At most one non-default driver may be registered; two or more
fail with ErrAmbiguousDriver since backend selection must be unambiguous. The
single non-default driver serves the base scope when it can serve the base
configuration, otherwise the in-process default takes over for the base scope
only; the non-default driver remains available to tenants whose
configurations it can serve. The base backend is constructed, published under
the base scope, and initialized; a base initialization failure is fatal,
unlike per-tenant failures during reconciliation.

Parameters:
  - ctx: context.Context
  - baseConfig: map[string]any (the process-wide default configuration object)

Returns:
  - error: ErrAmbiguousDriver, missing default driver, or base init failures
*/
func (r *Resolver) InitBase(ctx context.Context, baseConfig map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fallback storage.Driver
	var candidates []storage.Driver
	for _, d := range r.drivers {
		if d.Name() == storage.DefaultDriverName {
			fallback = d
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) > 1 {
		names := make([]string, 0, len(candidates))
		for _, d := range candidates {
			names = append(names, d.Name())
		}
		return fmt.Errorf("%w: %v", ErrAmbiguousDriver, names)
	}
	if fallback == nil && len(candidates) == 0 {
		return errors.New("resolver: no storage driver registered")
	}

	cfg, err := storage.NormalizeConfig(registry.BaseScope(), baseConfig, nil)
	if err != nil {
		return err
	}

	var candidate storage.Driver
	if len(candidates) == 1 {
		candidate = candidates[0]
	}

	selected := fallback
	if candidate != nil && candidate.CanServe(cfg) {
		selected = candidate
	}
	if selected == nil {
		return fmt.Errorf("resolver: driver %q cannot serve the base configuration and no default driver is registered", candidate.Name())
	}

	backend := selected.New(r.logger)
	if err := backend.LoadConfig(cfg, r.logLevels, registry.BaseScope()); err != nil {
		return fmt.Errorf("resolver_base_load_config_failed: %w", err)
	}

	r.registry.Set(registry.BaseScope(), KindStorage, backend)
	if err := backend.InitStorage(ctx, true); err != nil {
		return fmt.Errorf("resolver_base_init_failed: %w", err)
	}

	r.candidate = candidate
	r.fallback = fallback
	r.baseDriver = selected
	r.baseConfig = baseConfig
	r.initialized[backend] = struct{}{}

	r.logger.Info("base storage initialized",
		slog.String("driver", selected.Name()),
		slog.String("user_pool", backend.UserPoolID()),
	)
	return nil
}

// driverFor returns the driver serving the given configuration. Selection is
// per config: the registered non-default driver wins whenever it can serve
// this particular config, regardless of what the base scope ended up on.
func (r *Resolver) driverFor(cfg *storage.NormalizedConfig) storage.Driver {
	if r.candidate != nil && r.candidate.CanServe(cfg) {
		return r.candidate
	}
	if r.fallback != nil {
		return r.fallback
	}
	return r.candidate
}

// # Reconciliation

/*
LoadAllTenantStorage reconciles the registry's storage bindings against the
full tenant configuration set.

Description: Exactly one backend instance ends up serving each distinct pool
identity. Live backends whose pool identity survives the pass are reused with
their connections intact and their log levels refreshed; identities that
disappear have their backends closed exactly once and their logging stopped.
The whole binding swap is atomic to concurrent readers. Newly adopted backends
are initialized after the swap with per-tenant failure isolation: one tenant's
initialization failure is logged and does not disturb the others.

The base scope keeps its binding even when absent from the tenant set.

Parameters:
  - ctx: context.Context
  - tenants: []storage.TenantConfig

Returns:
  - error: ErrNotInitialized, normalization failures, or candidate
    construction failures. Per-tenant init failures are not returned.
*/
func (r *Resolver) LoadAllTenantStorage(ctx context.Context, tenants []storage.TenantConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.baseDriver == nil {
		return ErrNotInitialized
	}

	normalized, err := storage.NormalizeTenantConfigs(r.baseConfig, tenants)
	if err != nil {
		return err
	}
	if _, ok := normalized[registry.BaseScope()]; !ok {
		cfg, err := storage.NormalizeConfig(registry.BaseScope(), r.baseConfig, nil)
		if err != nil {
			return err
		}
		normalized[registry.BaseScope()] = cfg
	}

	// Candidate construction is side-effect-free, so discarding the losers of
	// the dedupe below costs nothing.
	candidates := make(map[registry.ScopeKey]storage.Storage, len(normalized))
	for scope, cfg := range normalized {
		backend := r.driverFor(cfg).New(r.logger)
		if err := backend.LoadConfig(cfg, storage.SilentLogLevels(), scope); err != nil {
			return fmt.Errorf("resolver_load_config_failed for scope %s: %w", scope, err)
		}
		candidates[scope] = backend
	}

	var adopted []storage.Storage
	err = r.registry.WithExclusiveLock(func(view *registry.ExclusiveView) error {
		existing := view.AllWithKind(KindStorage)

		existingByIdentity := make(map[string]storage.Storage, len(existing))
		for _, resource := range existing {
			backend := resource.(storage.Storage)
			existingByIdentity[storage.PoolIdentity(backend)] = backend
		}

		chosenByIdentity := make(map[string]storage.Storage, len(candidates))
		view.Clear(KindStorage)
		for scope, candidate := range candidates {
			identity := storage.PoolIdentity(candidate)
			chosen, ok := chosenByIdentity[identity]
			if !ok {
				if live, reusable := existingByIdentity[identity]; reusable {
					chosen = live
				} else {
					chosen = candidate
				}
				// Reused backends whose earlier init failed get another pass.
				if _, done := r.initialized[chosen]; !done {
					adopted = append(adopted, chosen)
				}
				chosen.SetLogLevels(r.logLevels)
				chosenByIdentity[identity] = chosen
			}
			view.Set(scope, KindStorage, chosen)
		}

		// Orphans: live backends whose identity no longer binds any scope.
		for identity, orphan := range existingByIdentity {
			if _, stillBound := chosenByIdentity[identity]; stillBound {
				continue
			}
			if err := orphan.Close(); err != nil {
				r.logger.Error("failed to close orphaned storage",
					slog.String("user_pool", orphan.UserPoolID()),
					slog.Any("error", err),
				)
			}
			orphan.StopLogging()
			delete(r.initialized, orphan)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, backend := range adopted {
		if _, done := r.initialized[backend]; done {
			continue
		}
		if err := backend.InitStorage(ctx, false); err != nil {
			r.logger.Error("tenant storage init failed",
				slog.String("user_pool", backend.UserPoolID()),
				slog.Any("error", err),
			)
			continue
		}
		r.initialized[backend] = struct{}{}
	}

	r.logger.Info("tenant storage reconciled",
		slog.Int("tenants", len(normalized)),
		slog.Int("adopted", len(adopted)),
	)
	return nil
}

// # Accessors

// StorageFor returns the backend bound to the given scope.
func (r *Resolver) StorageFor(scope registry.ScopeKey) (storage.Storage, error) {
	resource, err := r.registry.Get(scope, KindStorage)
	if err != nil {
		return nil, err
	}
	return resource.(storage.Storage), nil
}

// BaseStorage returns the backend bound to the base scope. It fails with
// ErrNotInitialized before InitBase has run.
func (r *Resolver) BaseStorage() (storage.Storage, error) {
	resource, err := r.registry.Get(registry.BaseScope(), KindStorage)
	if err != nil {
		return nil, ErrNotInitialized
	}
	return resource.(storage.Storage), nil
}

// StoragesForApp returns one backend per distinct user pool among the app's
// tenants.
func (r *Resolver) StoragesForApp(app registry.AppScope) []storage.Storage {
	bindings := r.registry.AllWithKind(KindStorage)
	seen := make(map[string]struct{})
	var backends []storage.Storage
	for scope, resource := range bindings {
		if scope.App() != app {
			continue
		}
		backend := resource.(storage.Storage)
		identity := storage.PoolIdentity(backend)
		if _, dup := seen[identity]; dup {
			continue
		}
		seen[identity] = struct{}{}
		backends = append(backends, backend)
	}
	return backends
}

// TenantsByUserPool groups every bound scope key by the user pool its backend
// points at.
func (r *Resolver) TenantsByUserPool() map[string][]registry.ScopeKey {
	bindings := r.registry.AllWithKind(KindStorage)
	pools := make(map[string][]registry.ScopeKey)
	for scope, resource := range bindings {
		pool := resource.(storage.Storage).UserPoolID()
		pools[pool] = append(pools[pool], scope)
	}
	return pools
}

// IsInMemory reports whether the base storage runs on the in-process default
// driver.
func (r *Resolver) IsInMemory() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.baseDriver != nil && r.baseDriver.Name() == storage.DefaultDriverName
}

// CloseAll closes every distinct backend and clears the storage bindings.
// Used at shutdown; failures are logged, not propagated.
func (r *Resolver) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.registry.WithExclusiveLock(func(view *registry.ExclusiveView) error {
		closed := make(map[string]struct{})
		for _, resource := range view.AllWithKind(KindStorage) {
			backend := resource.(storage.Storage)
			identity := storage.PoolIdentity(backend)
			if _, done := closed[identity]; done {
				continue
			}
			closed[identity] = struct{}{}
			if err := backend.Close(); err != nil {
				r.logger.Error("failed to close storage",
					slog.String("user_pool", backend.UserPoolID()),
					slog.Any("error", err),
				)
			}
			backend.StopLogging()
			delete(r.initialized, backend)
		}
		view.Clear(KindStorage)
		return nil
	})
}

// StopLogging silences every bound backend without closing it.
func (r *Resolver) StopLogging() {
	for _, resource := range r.registry.AllWithKind(KindStorage) {
		resource.(storage.Storage).StopLogging()
	}
}

// # Cross-Storage User-Id Lookup

/*
StorageForUser resolves a user id to the backend that owns it, among all
backends of an app.

Description: The caller-supplied priority backend (the tenant the request
logically came from) is consulted first, then every other backend of the app.
At each backend the checks run in order: explicit user-id mapping, native
auth-recipe user, non-auth-recipe reference. The native-user check is skipped
when the caller asks for external ids only, and the non-auth-recipe check when
the caller asks for internal ids only.

Parameters:
  - ctx: context.Context
  - app: registry.AppScope
  - priority: storage.Storage (may be nil)
  - userID: string
  - idType: storage.UserIDType

Returns:
  - storage.Storage: The owning backend
  - error: ErrUnknownUserID when every check fails on every backend, otherwise
    lookup execution errors
*/
func (r *Resolver) StorageForUser(ctx context.Context, app registry.AppScope, priority storage.Storage, userID string, idType storage.UserIDType) (storage.Storage, error) {
	backends := r.StoragesForApp(app)
	ordered := make([]storage.Storage, 0, len(backends)+1)
	if priority != nil {
		ordered = append(ordered, priority)
	}
	for _, backend := range backends {
		if priority != nil && storage.PoolIdentity(backend) == storage.PoolIdentity(priority) {
			continue
		}
		ordered = append(ordered, backend)
	}

	for _, backend := range ordered {
		owns, err := ownsUserID(ctx, backend, userID, idType)
		if err != nil {
			return nil, err
		}
		if owns {
			return backend, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownUserID, userID)
}

func ownsUserID(ctx context.Context, backend storage.Storage, userID string, idType storage.UserIDType) (bool, error) {
	_, err := backend.UserIDMapping(ctx, userID, idType)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrUserIDMappingNotFound) {
		return false, err
	}

	if idType != storage.UserIDTypeExternal {
		exists, err := backend.UserIDExists(ctx, userID)
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}

	if idType != storage.UserIDTypeInternal {
		used, err := backend.UserIDUsedByNonAuthRecipe(ctx, userID)
		if err != nil {
			return false, err
		}
		if used {
			return true, nil
		}
	}
	return false, nil
}
