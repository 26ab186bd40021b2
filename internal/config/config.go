/*
Copyright 2025 The visiontrain Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config provides typed access to session configuration.
//
// A session configuration is a flat-ish keyed map, usually loaded from a
// YAML or JSON file via viper. Components receive a *Config and pull their
// keys with typed accessors; a missing key is distinguishable from a
// zero value so defaults stay explicit at the call site.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Config wraps a configuration map with typed, error-returning accessors.
type Config struct {
	values map[string]any
}

// FromMap wraps an existing configuration map. The map is not copied;
// callers must not mutate it afterwards.
func FromMap(values map[string]any) *Config {
	if values == nil {
		values = map[string]any{}
	}
	return &Config{values: values}
}

// Load reads a configuration file (YAML, JSON or TOML, by extension).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return FromMap(v.AllSettings()), nil
}

// Has reports whether any of the given keys is present.
func (c *Config) Has(keys ...string) bool {
	for _, key := range keys {
		if _, ok := c.values[key]; ok {
			return true
		}
	}
	return false
}

// Raw returns the raw value for key and whether it was present.
func (c *Config) Raw(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Sub returns the nested configuration under key, or nil if absent or not a
// map.
func (c *Config) Sub(key string) *Config {
	raw, ok := c.values[key]
	if !ok || raw == nil {
		return nil
	}
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil
	}
	return FromMap(m)
}

// Int returns an integer key, failing if absent or of the wrong type.
func (c *Config) Int(key string) (int, error) {
	raw, ok := c.values[key]
	if !ok {
		return 0, fmt.Errorf("missing config key %q", key)
	}
	val, err := cast.ToIntE(raw)
	if err != nil {
		return 0, fmt.Errorf("config key %q: %w", key, err)
	}
	return val, nil
}

// IntDef returns an integer key, or def when the key is absent.
func (c *Config) IntDef(key string, def int) (int, error) {
	if !c.Has(key) {
		return def, nil
	}
	return c.Int(key)
}

// BoolDef returns a boolean key, or def when the key is absent. String
// values like "true"/"false"/"1"/"0" are accepted.
func (c *Config) BoolDef(key string, def bool) (bool, error) {
	raw, ok := c.values[key]
	if !ok {
		return def, nil
	}
	val, err := cast.ToBoolE(raw)
	if err != nil {
		return false, fmt.Errorf("config key %q: %w", key, err)
	}
	return val, nil
}

// StringDef returns a string key, or def when the key is absent.
func (c *Config) StringDef(key, def string) (string, error) {
	raw, ok := c.values[key]
	if !ok {
		return def, nil
	}
	val, err := cast.ToStringE(raw)
	if err != nil {
		return "", fmt.Errorf("config key %q: %w", key, err)
	}
	return val, nil
}

// FloatDef returns a float key, or def when the key is absent.
func (c *Config) FloatDef(key string, def float64) (float64, error) {
	raw, ok := c.values[key]
	if !ok {
		return def, nil
	}
	val, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("config key %q: %w", key, err)
	}
	return val, nil
}

// FloatMap returns a dataset-name to ratio mapping, or an empty map when the
// key is absent or holds an empty value.
func (c *Config) FloatMap(key string) (map[string]float64, error) {
	raw, ok := c.values[key]
	if !ok || raw == nil {
		return map[string]float64{}, nil
	}
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("config key %q: %w", key, err)
	}
	out := make(map[string]float64, len(m))
	for name, v := range m {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("config key %q, entry %q: %w", key, name, err)
		}
		out[name] = f
	}
	return out, nil
}

// Keys returns the top-level keys, for diagnostics.
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{%s}", strings.Join(c.Keys(), ", "))
}
