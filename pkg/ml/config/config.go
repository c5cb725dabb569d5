// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads the immutable run configuration: a YAML file plus
// "key=value" command-line overrides.
//
// Overrides can only name keys that already exist in the YAML file and are
// converted to the type of the YAML value, so a typo'ed key or a malformed
// value fails loading instead of silently creating a new setting. After Load
// the configuration is read-only: there are typed getters and no setters.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/gomlx/meshdata/pkg/support/xslices"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Config is an immutable, typed key-value store of run settings.
type Config struct {
	keys map[string]any
}

// Derived keys set by Load.
const (
	KeyRunName             = "run_name"
	KeyBaseOutputDirectory = "base_output_directory"
	KeyTensorboardDir      = "tensorboard_dir"
	KeyCheckpointDir       = "checkpoint_dir"
)

// Load reads the YAML file and applies the "key=value" overrides, in order.
//
// Values are normalized to string, int, float64 or bool -- the types that can
// also be passed on the command line. If the file defines run_name as empty, a
// fresh one is generated; if base_output_directory is set, the derived
// tensorboard_dir and checkpoint_dir keys are filled in.
func Load(path string, overrides []string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration file %q", path)
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration file %q", path)
	}
	keys := make(map[string]any, len(parsed))
	for key, value := range parsed {
		normalized, err := normalize(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "configuration key %q in %q", key, path)
		}
		keys[key] = normalized
	}

	for _, override := range overrides {
		key, value, found := strings.Cut(override, "=")
		if !found {
			return nil, errors.Errorf("command-line override %q is not in key=value form", override)
		}
		current, exists := keys[key]
		if !exists {
			return nil, errors.Errorf("key %q was passed at the command line but isn't in %q", key, path)
		}
		converted, err := convert(value, current)
		if err != nil {
			return nil, errors.WithMessagef(err, "command-line override %q", override)
		}
		keys[key] = converted
	}

	cfg := &Config{keys: keys}
	if err := cfg.derive(); err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("configuration loaded from %q:\n%s", path, cfg.Dump())
	}
	return cfg, nil
}

// derive fills in the keys computed from others.
func (c *Config) derive() error {
	if name, exists := c.keys[KeyRunName]; exists && name == "" {
		c.keys[KeyRunName] = uuid.NewString()
	}
	base, hasBase := c.keys[KeyBaseOutputDirectory].(string)
	runName, hasRun := c.keys[KeyRunName].(string)
	if hasBase && base != "" {
		if !hasRun {
			return errors.Errorf("%q is set but %q is missing from the configuration",
				KeyBaseOutputDirectory, KeyRunName)
		}
		c.keys[KeyTensorboardDir] = filepath.Join(base, runName, "tensorboard")
		c.keys[KeyCheckpointDir] = filepath.Join(base, runName, "checkpoints")
	}
	return nil
}

// normalize converts a decoded YAML value to one of the supported types.
func normalize(value any) (any, error) {
	switch v := value.(type) {
	case string, bool, int, float64:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float32:
		return float64(v), nil
	default:
		return nil, errors.Errorf("value %v has type %T, only string, int, float and bool are supported", value, value)
	}
}

// convert parses a command-line value with the type of the current YAML value.
func convert(value string, current any) (any, error) {
	switch current.(type) {
	case string:
		return value, nil
	case int:
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Errorf("value %q is not an int", value)
		}
		return parsed, nil
	case float64:
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Errorf("value %q is not a float", value)
		}
		return parsed, nil
	case bool:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, errors.Errorf("value %q is not a bool", value)
		}
		return parsed, nil
	}
	return nil, errors.Errorf("cannot override value of type %T", current)
}

// Has returns whether the key is defined.
func (c *Config) Has(key string) bool {
	_, found := c.keys[key]
	return found
}

// Keys returns the defined keys, sorted.
func (c *Config) Keys() []string {
	return xslices.SortedKeys(c.keys)
}

// String returns the string value of the key.
func (c *Config) String(key string) (string, error) {
	return get[string](c, key)
}

// Int returns the int value of the key.
func (c *Config) Int(key string) (int, error) {
	return get[int](c, key)
}

// Float returns the float value of the key.
func (c *Config) Float(key string) (float64, error) {
	return get[float64](c, key)
}

// Bool returns the bool value of the key.
func (c *Config) Bool(key string) (bool, error) {
	return get[bool](c, key)
}

func get[T any](c *Config, key string) (value T, err error) {
	raw, found := c.keys[key]
	if !found {
		err = errors.Errorf("requested key %q, not in config", key)
		return
	}
	value, ok := raw.(T)
	if !ok {
		err = errors.Errorf("key %q holds a %T, requested %T", key, raw, value)
	}
	return
}

// Dump returns all keys and values, one per line, sorted by key.
func (c *Config) Dump() string {
	var sb strings.Builder
	for _, key := range c.Keys() {
		_, _ = fmt.Fprintf(&sb, "\t%s: %v\n", key, c.keys[key])
	}
	return sb.String()
}
