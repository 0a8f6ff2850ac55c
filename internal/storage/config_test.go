// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package storage_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/declanvu/tenauth/internal/registry"
	"github.com/declanvu/tenauth/internal/storage"
)

/*
TestNormalizeConfig_DeepMerge verifies tenant overrides merge recursively over
the base configuration, scalars overwriting.
*/
func TestNormalizeConfig_DeepMerge(t *testing.T) {
	base := map[string]any{
		"postgres_connection_uri": "postgres://base/db",
		"postgres_pool_size":      10,
		"nested": map[string]any{
			"keep":    "base-value",
			"replace": "old",
		},
	}
	overrides := map[string]any{
		"postgres_pool_size": 20,
		"nested": map[string]any{
			"replace": "new",
		},
	}

	cfg, err := storage.NormalizeConfig(registry.ScopeKey{TenantID: "t1"}, base, overrides)
	require.NoError(t, err)

	assert.Equal(t, "postgres://base/db", cfg.String("postgres_connection_uri", ""))
	assert.Equal(t, 20, cfg.Int("postgres_pool_size", 0))
	assert.Equal(t, registry.ScopeKey{TenantID: "t1"}, cfg.Scope())
}

/*
TestNormalizeConfig_CanonicalDeterminism verifies semantically identical
configurations produce byte-identical canonical forms.
*/
func TestNormalizeConfig_CanonicalDeterminism(t *testing.T) {
	a, err := storage.NormalizeConfig(registry.ScopeKey{TenantID: "t1"},
		map[string]any{"b": 1, "a": "x"}, map[string]any{"c": true})
	require.NoError(t, err)

	b, err := storage.NormalizeConfig(registry.ScopeKey{TenantID: "t2"},
		map[string]any{"a": "x", "c": true}, map[string]any{"b": 1})
	require.NoError(t, err)

	assert.Equal(t, a.Canonical(), b.Canonical())
}

/*
TestNormalizeTenantConfigs_DuplicateScope verifies duplicate scopes in the
input set are rejected.
*/
func TestNormalizeTenantConfigs_DuplicateScope(t *testing.T) {
	scope := registry.ScopeKey{TenantID: "t1"}
	_, err := storage.NormalizeTenantConfigs(map[string]any{}, []storage.TenantConfig{
		{Scope: scope, Config: map[string]any{"a": 1}},
		{Scope: scope, Config: map[string]any{"a": 2}},
	})
	assert.Error(t, err)
}

/*
TestConfigGetters verifies typed getters fall back on absent or mistyped keys.
*/
func TestConfigGetters(t *testing.T) {
	cfg, err := storage.NormalizeConfig(registry.BaseScope(), map[string]any{
		"str":   "value",
		"num":   float64(7),
		"truth": true,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "value", cfg.String("str", "def"))
	assert.Equal(t, "def", cfg.String("missing", "def"))
	assert.Equal(t, "def", cfg.String("num", "def"))
	assert.Equal(t, 7, cfg.Int("num", 0))
	assert.Equal(t, 42, cfg.Int("missing", 42))
	assert.True(t, cfg.Bool("truth", false))
	assert.False(t, cfg.Bool("missing", false))
}
