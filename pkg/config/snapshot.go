package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// Recognized snapshot keys and key prefixes.
const (
	KeyFramework        = "framework"
	KeyRepositoryPrefix = "repository."
	KeyFeaturePrefix    = "feature."
	KeyBundlePrefix     = "bundle."
)

// ParseSnapshot builds a Snapshot from a raw key/value map.
//
// Entries under each prefix are ordered by key so the same map always yields
// the same snapshot. A repository key with an empty value names the location
// itself after the prefix. Unrecognized keys are ignored.
func ParseSnapshot(values map[string]string) (*Snapshot, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := &Snapshot{
		Keys:     len(values),
		LoadedAt: time.Now(),
	}

	for _, key := range keys {
		value := strings.TrimSpace(values[key])
		switch {
		case key == KeyFramework:
			snap.Framework = value
		case strings.HasPrefix(key, KeyRepositoryPrefix):
			if value == "" {
				value = strings.TrimPrefix(key, KeyRepositoryPrefix)
			}
			snap.Repositories = append(snap.Repositories, value)
		case strings.HasPrefix(key, KeyFeaturePrefix):
			if value == "" {
				return nil, engine.NewConfigurationError("empty feature request", nil).WithResource(key)
			}
			snap.Features = append(snap.Features, value)
		case strings.HasPrefix(key, KeyBundlePrefix):
			if value == "" {
				return nil, engine.NewConfigurationError("empty bundle address", nil).WithResource(key)
			}
			if !engine.IsAddress(value) {
				return nil, engine.NewConfigurationError(
					fmt.Sprintf("bundle %q is not a fetchable address", value), nil).WithResource(key)
			}
			snap.Bundles = append(snap.Bundles, value)
		}
	}

	if err := validator.New().Struct(snap); err != nil {
		return nil, engine.NewConfigurationError("invalid snapshot", err)
	}

	return snap, nil
}

// IsFramework reports whether the snapshot replaces the runtime core.
func (s *Snapshot) IsFramework() bool {
	return s.Framework != ""
}

// Empty reports whether the snapshot requests nothing at all.
func (s *Snapshot) Empty() bool {
	return s.Framework == "" && len(s.Repositories) == 0 && len(s.Features) == 0 && len(s.Bundles) == 0
}
