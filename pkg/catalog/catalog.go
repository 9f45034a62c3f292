package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// Catalog is an immutable index over loaded repositories.
type Catalog struct {
	repositories []*Repository
	features     map[string][]*Feature // by name, highest version first
	offerings    []ModuleOffering
}

// NewCatalog indexes repos. When two repositories define the same feature
// name and version, the first one wins.
func NewCatalog(repos []*Repository) *Catalog {
	c := &Catalog{
		repositories: repos,
		features:     make(map[string][]*Feature),
	}

	for _, repo := range repos {
		for _, f := range repo.Features {
			if c.has(f.Name, f.Version) {
				continue
			}
			c.features[f.Name] = append(c.features[f.Name], f)
		}
		c.offerings = append(c.offerings, repo.Modules...)
	}

	for name := range c.features {
		fs := c.features[name]
		sort.SliceStable(fs, func(i, j int) bool {
			return semver.Compare(fs[i].Version, fs[j].Version) > 0
		})
	}

	return c
}

func (c *Catalog) has(name string, v semver.Version) bool {
	for _, f := range c.features[name] {
		if f.Version.Equal(v) {
			return true
		}
	}
	return false
}

// Repositories returns the indexed repositories in load order.
func (c *Catalog) Repositories() []*Repository {
	return c.repositories
}

// Offerings returns every module offering across all repositories.
func (c *Catalog) Offerings() []ModuleOffering {
	return c.offerings
}

// FeatureCount returns the number of distinct features indexed.
func (c *Catalog) FeatureCount() int {
	n := 0
	for _, fs := range c.features {
		n += len(fs)
	}
	return n
}

// FindFeature resolves a request of the form name[/constraint] to the
// feature with the greatest version inside the constraint. A missing or
// empty constraint accepts any version.
func (c *Catalog) FindFeature(spec string) (*Feature, error) {
	name, constraint, err := ParseFeatureRequest(spec)
	if err != nil {
		return nil, err
	}
	return c.find(name, constraint)
}

func (c *Catalog) find(name string, constraint semver.Range) (*Feature, error) {
	for _, f := range c.features[name] {
		if constraint.Contains(f.Version) {
			return f, nil
		}
	}
	return nil, engine.NewConfigurationError(
		fmt.Sprintf("no feature %s matches %s", name, constraint), nil).
		WithCode(engine.ErrCodeFeatureNotFound).
		WithResource(name)
}

// ParseFeatureRequest splits name[/constraint].
func ParseFeatureRequest(spec string) (string, semver.Range, error) {
	spec = strings.TrimSpace(spec)
	name, raw, _ := strings.Cut(spec, "/")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", semver.Range{}, engine.NewConfigurationError(
			fmt.Sprintf("feature request %q has no name", spec), nil)
	}
	r, err := semver.ParseRange(raw)
	if err != nil {
		return "", semver.Range{}, engine.NewConfigurationError(
			fmt.Sprintf("feature request %q has a bad constraint", spec), err).WithResource(name)
	}
	return name, r, nil
}
