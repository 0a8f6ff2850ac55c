// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package resolver_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declanvu/tenauth/internal/registry"
	"github.com/declanvu/tenauth/internal/resolver"
	"github.com/declanvu/tenauth/internal/storage"
)

// # Fakes

// fakeDriver constructs fakeStorage instances whose pool identity comes from
// the "pool" configuration key.
type fakeDriver struct {
	name   string
	serves func(cfg *storage.NormalizedConfig) bool
}

func (d fakeDriver) Name() string { return d.name }

func (d fakeDriver) CanServe(cfg *storage.NormalizedConfig) bool {
	if d.serves == nil {
		return true
	}
	return d.serves(cfg)
}

func (d fakeDriver) New(logger *slog.Logger) storage.Storage {
	return &fakeStorage{
		driverName:  d.name,
		mapInternal: make(map[string]storage.UserIDMapping),
		mapExternal: make(map[string]storage.UserIDMapping),
		users:       make(map[string]bool),
		nonAuthRefs: make(map[string]bool),
	}
}

type fakeStorage struct {
	driverName string

	mu             sync.Mutex
	poolID         string
	failInit       bool
	initCalls      int
	lastFirstInit  bool
	closeCalls     int
	loggingStopped bool
	levels         storage.LogLevels

	mapInternal map[string]storage.UserIDMapping
	mapExternal map[string]storage.UserIDMapping
	users       map[string]bool
	nonAuthRefs map[string]bool
}

func (f *fakeStorage) LoadConfig(cfg *storage.NormalizedConfig, levels storage.LogLevels, scope registry.ScopeKey) error {
	f.poolID = cfg.String("pool", "default")
	f.failInit = cfg.Bool("fail_init", false)
	f.levels = levels
	return nil
}

func (f *fakeStorage) InitStorage(ctx context.Context, firstInit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	f.lastFirstInit = firstInit
	if f.failInit {
		return &storage.InitError{Cause: context.Canceled}
	}
	return nil
}

func (f *fakeStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

func (f *fakeStorage) SetLogLevels(levels storage.LogLevels) { f.levels = levels }
func (f *fakeStorage) StopLogging()                          { f.loggingStopped = true }
func (f *fakeStorage) UserPoolID() string                    { return f.driverName + "|" + f.poolID }
func (f *fakeStorage) ConnectionPoolID() string              { return "static" }
func (f *fakeStorage) LockKey(key string)                    {}
func (f *fakeStorage) UnlockKey(key string)                  {}

func (f *fakeStorage) StartTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return nil
}

func (f *fakeStorage) SignUpUser(ctx context.Context, user storage.UserInfo) error { return nil }
func (f *fakeStorage) UserByID(ctx context.Context, userID string) (*storage.UserInfo, error) {
	return nil, storage.ErrUserNotFound
}
func (f *fakeStorage) UserByEmail(ctx context.Context, email string) (*storage.UserInfo, error) {
	return nil, storage.ErrUserNotFound
}
func (f *fakeStorage) AddPasswordResetToken(ctx context.Context, info storage.PasswordResetTokenInfo) error {
	return nil
}
func (f *fakeStorage) PasswordResetTokenByHash(ctx context.Context, tokenHash string) (*storage.PasswordResetTokenInfo, error) {
	return nil, storage.ErrResetTokenNotFound
}
func (f *fakeStorage) Users(ctx context.Context, cursor *storage.UserCursor, limit int, order storage.SortOrder) ([]storage.UserInfo, error) {
	return nil, nil
}
func (f *fakeStorage) UsersCount(ctx context.Context) (int64, error)       { return 0, nil }
func (f *fakeStorage) DeleteAllInformation(ctx context.Context) error      { return nil }
func (f *fakeStorage) UserIDExists(ctx context.Context, userID string) (bool, error) {
	return f.users[userID], nil
}
func (f *fakeStorage) UserIDUsedByNonAuthRecipe(ctx context.Context, userID string) (bool, error) {
	return f.nonAuthRefs[userID], nil
}

func (f *fakeStorage) UserIDMapping(ctx context.Context, userID string, idType storage.UserIDType) (*storage.UserIDMapping, error) {
	if idType != storage.UserIDTypeExternal {
		if m, ok := f.mapInternal[userID]; ok {
			return &m, nil
		}
	}
	if idType != storage.UserIDTypeInternal {
		if m, ok := f.mapExternal[userID]; ok {
			return &m, nil
		}
	}
	return nil, storage.ErrUserIDMappingNotFound
}

// # Helpers

func newResolver(t *testing.T, drivers ...storage.Driver) *resolver.Resolver {
	t.Helper()
	return resolver.New(resolver.Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		LogLevels: storage.SilentLogLevels(),
		Drivers:   drivers,
	})
}

func fetchFake(t *testing.T, r *resolver.Resolver, scope registry.ScopeKey) *fakeStorage {
	t.Helper()
	st, err := r.StorageFor(scope)
	require.NoError(t, err)
	return st.(*fakeStorage)
}

func tenant(tenantID, pool string) storage.TenantConfig {
	return storage.TenantConfig{
		Scope:  registry.ScopeKey{AppID: "app1", TenantID: tenantID},
		Config: map[string]any{"pool": pool},
	}
}

// # Tests

/*
TestResolver_InitBase_AmbiguousDrivers verifies that more than one non-default
driver is a fatal startup error.
*/
func TestResolver_InitBase_AmbiguousDrivers(t *testing.T) {
	r := newResolver(t,
		fakeDriver{name: storage.DefaultDriverName},
		fakeDriver{name: "pg"},
		fakeDriver{name: "mysql"},
	)
	err := r.InitBase(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, resolver.ErrAmbiguousDriver)
}

/*
TestResolver_InitBase_DefaultFallback verifies that the in-process default
serves the base scope when no other driver is registered.
*/
func TestResolver_InitBase_DefaultFallback(t *testing.T) {
	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pool": "base"}))

	assert.True(t, r.IsInMemory())

	base, err := r.BaseStorage()
	require.NoError(t, err)
	fake := base.(*fakeStorage)
	assert.Equal(t, 1, fake.initCalls)
	assert.True(t, fake.lastFirstInit)
}

/*
TestResolver_InitBase_SelectsServingDriver verifies that the single
non-default driver wins when it can serve the base configuration, and the
default takes over when it cannot.
*/
func TestResolver_InitBase_SelectsServingDriver(t *testing.T) {
	serves := func(cfg *storage.NormalizedConfig) bool {
		return cfg.String("pg_uri", "") != ""
	}

	r := newResolver(t,
		fakeDriver{name: storage.DefaultDriverName},
		fakeDriver{name: "pg", serves: serves},
	)
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pg_uri": "postgres://x", "pool": "base"}))
	assert.False(t, r.IsInMemory())

	base, err := r.BaseStorage()
	require.NoError(t, err)
	assert.Equal(t, "pg", base.(*fakeStorage).driverName)

	r2 := newResolver(t,
		fakeDriver{name: storage.DefaultDriverName},
		fakeDriver{name: "pg", serves: serves},
	)
	require.NoError(t, r2.InitBase(context.Background(), map[string]any{"pool": "base"}))
	assert.True(t, r2.IsInMemory())
}

/*
TestResolver_PerTenantDriverSelection verifies driver selection is per config:
a base configuration the non-default driver cannot serve does not pin later
tenants to the default.
*/
func TestResolver_PerTenantDriverSelection(t *testing.T) {
	ctx := context.Background()
	serves := func(cfg *storage.NormalizedConfig) bool {
		return cfg.String("pg_uri", "") != ""
	}

	r := newResolver(t,
		fakeDriver{name: storage.DefaultDriverName},
		fakeDriver{name: "pg", serves: serves},
	)

	// 1. The base config carries no DSN, so the base scope falls back.
	require.NoError(t, r.InitBase(ctx, map[string]any{"pool": "base"}))
	assert.True(t, r.IsInMemory())

	// 2. A tenant the non-default driver can serve still gets it.
	remote := storage.TenantConfig{
		Scope:  registry.ScopeKey{AppID: "app1", TenantID: "remote"},
		Config: map[string]any{"pool": "remote", "pg_uri": "postgres://x"},
	}
	require.NoError(t, r.LoadAllTenantStorage(ctx, []storage.TenantConfig{
		remote, tenant("local", "local"),
	}))

	assert.Equal(t, "pg", fetchFake(t, r, remote.Scope).driverName)
	assert.Equal(t, storage.DefaultDriverName,
		fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "local"}).driverName)
}

/*
TestResolver_PoolIdentitySharing verifies that tenants with equal pool
identity share one backend instance.
*/
func TestResolver_PoolIdentitySharing(t *testing.T) {
	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pool": "base"}))

	tenants := []storage.TenantConfig{tenant("t1", "shared"), tenant("t2", "shared")}
	require.NoError(t, r.LoadAllTenantStorage(context.Background(), tenants))

	s1 := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})
	s2 := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t2"})
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, s1.initCalls)

	// The base scope keeps its own backend.
	base, err := r.BaseStorage()
	require.NoError(t, err)
	assert.NotSame(t, s1, base)

	pools := r.TenantsByUserPool()
	assert.Len(t, pools[s1.UserPoolID()], 2)
}

/*
TestResolver_UnchangedTenantKeepsInstance verifies a no-op reconciliation
causes no churn: same instance, no close, no re-init.
*/
func TestResolver_UnchangedTenantKeepsInstance(t *testing.T) {
	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pool": "base"}))

	tenants := []storage.TenantConfig{tenant("t1", "a")}
	require.NoError(t, r.LoadAllTenantStorage(context.Background(), tenants))
	first := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})

	require.NoError(t, r.LoadAllTenantStorage(context.Background(), tenants))
	second := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})

	assert.Same(t, first, second)
	assert.Equal(t, 0, first.closeCalls)
	assert.Equal(t, 1, first.initCalls)
}

/*
TestResolver_OrphanClosedExactlyOnce verifies that a backend whose pool
identity loses every binding is closed once and silenced.
*/
func TestResolver_OrphanClosedExactlyOnce(t *testing.T) {
	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pool": "base"}))

	require.NoError(t, r.LoadAllTenantStorage(context.Background(), []storage.TenantConfig{
		tenant("t1", "a"), tenant("t2", "a"),
	}))
	orphaned := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})

	// Both tenants move to a new pool; "a" has no bindings left.
	require.NoError(t, r.LoadAllTenantStorage(context.Background(), []storage.TenantConfig{
		tenant("t1", "b"), tenant("t2", "b"),
	}))

	assert.Equal(t, 1, orphaned.closeCalls)
	assert.True(t, orphaned.loggingStopped)

	replacement := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})
	assert.NotSame(t, orphaned, replacement)
	assert.Equal(t, 1, replacement.initCalls)
}

/*
TestResolver_InstanceSurvivesWhileReferenced verifies that a backend still
bound to any scope is never closed.
*/
func TestResolver_InstanceSurvivesWhileReferenced(t *testing.T) {
	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pool": "base"}))

	require.NoError(t, r.LoadAllTenantStorage(context.Background(), []storage.TenantConfig{
		tenant("t1", "a"), tenant("t2", "a"),
	}))
	shared := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})

	// Only t1 moves away; t2 still references pool "a".
	require.NoError(t, r.LoadAllTenantStorage(context.Background(), []storage.TenantConfig{
		tenant("t1", "b"), tenant("t2", "a"),
	}))

	assert.Equal(t, 0, shared.closeCalls)
	assert.Same(t, shared, fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t2"}))
}

/*
TestResolver_InitFailureIsolation verifies one tenant's init failure does not
disturb the others, and the failed backend is retried next pass.
*/
func TestResolver_InitFailureIsolation(t *testing.T) {
	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pool": "base"}))

	bad := storage.TenantConfig{
		Scope:  registry.ScopeKey{AppID: "app1", TenantID: "bad"},
		Config: map[string]any{"pool": "bad", "fail_init": true},
	}
	good := tenant("good", "good")

	// 1. The pass itself succeeds; only the bad tenant's backend failed init.
	require.NoError(t, r.LoadAllTenantStorage(context.Background(), []storage.TenantConfig{bad, good}))

	goodFake := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "good"})
	assert.Equal(t, 1, goodFake.initCalls)

	badFake := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "bad"})
	assert.Equal(t, 1, badFake.initCalls)

	// 2. The uninitialized backend gets another init attempt on the next pass;
	//    the healthy one is not re-initialized.
	badFake.failInit = false
	require.NoError(t, r.LoadAllTenantStorage(context.Background(), []storage.TenantConfig{bad, good}))
	assert.Equal(t, 2, badFake.initCalls)
	assert.Equal(t, 1, goodFake.initCalls)
}

/*
TestResolver_StorageForUser verifies the ordered cross-storage lookup:
priority backend first, then mapping, native user, and non-auth-recipe checks
in order.
*/
func TestResolver_StorageForUser(t *testing.T) {
	ctx := context.Background()
	app := registry.AppScope{AppID: "app1"}

	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(ctx, map[string]any{"pool": "base"}))
	require.NoError(t, r.LoadAllTenantStorage(ctx, []storage.TenantConfig{
		tenant("t1", "p1"), tenant("t2", "p2"),
	}))

	p1 := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})
	p2 := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t2"})

	// 1. Native user found on a non-priority backend.
	p2.users["u1"] = true
	owner, err := r.StorageForUser(ctx, app, p1, "u1", storage.UserIDTypeAny)
	require.NoError(t, err)
	assert.Same(t, p2, owner)

	// 2. The priority backend wins when both own the id.
	p1.users["u1"] = true
	owner, err = r.StorageForUser(ctx, app, p2, "u1", storage.UserIDTypeAny)
	require.NoError(t, err)
	assert.Same(t, p2, owner)

	// 3. An explicit mapping is found regardless of native users.
	p1.mapExternal["ext1"] = storage.UserIDMapping{InternalUserID: "u9", ExternalUserID: "ext1"}
	owner, err = r.StorageForUser(ctx, app, nil, "ext1", storage.UserIDTypeExternal)
	require.NoError(t, err)
	assert.Same(t, p1, owner)

	// 4. External-only lookups skip the native-user check.
	_, err = r.StorageForUser(ctx, app, nil, "u1", storage.UserIDTypeExternal)
	assert.ErrorIs(t, err, resolver.ErrUnknownUserID)

	// 5. A non-auth-recipe reference rescues an otherwise unknown id.
	p2.nonAuthRefs["session-only"] = true
	owner, err = r.StorageForUser(ctx, app, nil, "session-only", storage.UserIDTypeAny)
	require.NoError(t, err)
	assert.Same(t, p2, owner)

	// 6. Unknown everywhere.
	_, err = r.StorageForUser(ctx, app, nil, "ghost", storage.UserIDTypeAny)
	assert.ErrorIs(t, err, resolver.ErrUnknownUserID)
}

/*
TestResolver_CloseAll verifies shutdown closes every distinct backend once and
clears the bindings.
*/
func TestResolver_CloseAll(t *testing.T) {
	r := newResolver(t, fakeDriver{name: storage.DefaultDriverName})
	require.NoError(t, r.InitBase(context.Background(), map[string]any{"pool": "base"}))
	require.NoError(t, r.LoadAllTenantStorage(context.Background(), []storage.TenantConfig{
		tenant("t1", "shared"), tenant("t2", "shared"),
	}))

	shared := fetchFake(t, r, registry.ScopeKey{AppID: "app1", TenantID: "t1"})
	base, err := r.BaseStorage()
	require.NoError(t, err)

	r.CloseAll()

	assert.Equal(t, 1, shared.closeCalls)
	assert.Equal(t, 1, base.(*fakeStorage).closeCalls)
	_, err = r.BaseStorage()
	assert.ErrorIs(t, err, resolver.ErrNotInitialized)
}
