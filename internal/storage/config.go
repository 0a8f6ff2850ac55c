// Copyright (c) 2026 Tenauth. All rights reserved.
// Author: declan.vu.dev@gmail.com

package storage

import (
	"encoding/json"
	"fmt"

	"github.com/declanvu/tenauth/internal/registry"
)

// # Tenant Configuration

// TenantConfig is one tenant's raw configuration as supplied by the
// surrounding server: a scope key plus a JSON-like object of overrides on top
// of the base configuration.
type TenantConfig struct {
	Scope registry.ScopeKey `json:"scope"`
	// Config holds per-tenant overrides. Keys the selected driver does not
	// understand are ignored by it but still contribute to the canonical form.
	Config map[string]any `json:"config"`
}

/*
NormalizedConfig is the canonical form of one tenant's effective
configuration: the base configuration deep-merged with the tenant's
overrides, encoded deterministically.

Two tenants whose normalized configurations are semantically identical yield
byte-identical canonical encodings, which is what makes pool-identity
comparison sound.
*/
type NormalizedConfig struct {
	scope     registry.ScopeKey
	values    map[string]any
	canonical []byte
}

/*
NormalizeTenantConfigs computes the canonical effective configuration for
every tenant in the set.

Description: Each tenant's overrides are deep-merged over the base
configuration (objects merge recursively, scalars and arrays overwrite), then
encoded with sorted keys.

Parameters:
  - base: map[string]any (the base/default configuration object)
  - tenants: []TenantConfig

Returns:
  - map[registry.ScopeKey]*NormalizedConfig: One canonical config per scope
  - error: Encoding failures or duplicate scopes in the input set
*/
func NormalizeTenantConfigs(base map[string]any, tenants []TenantConfig) (map[registry.ScopeKey]*NormalizedConfig, error) {
	normalized := make(map[registry.ScopeKey]*NormalizedConfig, len(tenants))

	for _, tenant := range tenants {
		if _, ok := normalized[tenant.Scope]; ok {
			return nil, fmt.Errorf("storage: duplicate tenant configuration for scope %s", tenant.Scope)
		}

		cfg, err := NormalizeConfig(tenant.Scope, base, tenant.Config)
		if err != nil {
			return nil, err
		}
		normalized[tenant.Scope] = cfg
	}

	return normalized, nil
}

// NormalizeConfig canonicalizes a single scope's configuration. overrides may
// be nil (the scope then uses the base configuration verbatim).
func NormalizeConfig(scope registry.ScopeKey, base, overrides map[string]any) (*NormalizedConfig, error) {
	merged := deepMerge(base, overrides)

	// encoding/json writes map keys in sorted order, which makes the
	// canonical form deterministic across semantically-identical inputs.
	canonical, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to canonicalize config for scope %s: %w", scope, err)
	}

	return &NormalizedConfig{scope: scope, values: merged, canonical: canonical}, nil
}

// Scope returns the scope key this configuration belongs to.
func (c *NormalizedConfig) Scope() registry.ScopeKey { return c.scope }

// Canonical returns the deterministic encoding of the effective
// configuration. Backends derive their pool identity from (parts of) it.
func (c *NormalizedConfig) Canonical() []byte { return c.canonical }

// String returns the configuration value under key as a string, or def when
// the key is absent or not a string.
func (c *NormalizedConfig) String(key, def string) string {
	if v, ok := c.values[key].(string); ok {
		return v
	}
	return def
}

// Int returns the configuration value under key as an int, or def. JSON
// numbers decode as float64, so both representations are accepted.
func (c *NormalizedConfig) Int(key string, def int) int {
	switch v := c.values[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Bool returns the configuration value under key as a bool, or def.
func (c *NormalizedConfig) Bool(key string, def bool) bool {
	if v, ok := c.values[key].(bool); ok {
		return v
	}
	return def
}

// deepMerge returns a new map with overrides applied on top of base. Nested
// objects merge recursively; every other value type overwrites.
func deepMerge(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range overrides {
		overrideObject, overrideIsObject := value.(map[string]any)
		baseObject, baseIsObject := merged[key].(map[string]any)
		if overrideIsObject && baseIsObject {
			merged[key] = deepMerge(baseObject, overrideObject)
			continue
		}
		merged[key] = value
	}
	return merged
}
