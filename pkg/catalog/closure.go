package catalog

import (
	"fmt"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// Closure returns the requested features and everything they depend on,
// transitively, in depth-first pre-order. A feature reached twice is
// visited once. Any unresolvable request or dependency fails the whole
// closure.
func Closure(cat *Catalog, requested []string) ([]*Feature, error) {
	b := &closureBuilder{cat: cat, seen: make(map[*Feature]bool)}

	for _, spec := range requested {
		f, err := cat.FindFeature(spec)
		if err != nil {
			return nil, err
		}
		if err := b.visit(f); err != nil {
			return nil, err
		}
	}

	return b.result, nil
}

type closureBuilder struct {
	cat    *Catalog
	seen   map[*Feature]bool
	result []*Feature
}

func (b *closureBuilder) visit(f *Feature) error {
	if b.seen[f] {
		return nil
	}
	b.seen[f] = true
	b.result = append(b.result, f)

	for _, dep := range f.Dependencies {
		target, err := b.cat.find(dep.Name, dep.Constraint)
		if err != nil {
			return engine.NewConfigurationError(
				fmt.Sprintf("feature %s depends on %s", f, dep), err).
				WithCode(engine.ErrCodeFeatureNotFound).
				WithResource(f.String())
		}
		if err := b.visit(target); err != nil {
			return err
		}
	}
	return nil
}

// ModuleRefs collects the module references of features in order, dropping
// duplicates. A location referenced both as primary and as transitive is
// kept as primary.
func ModuleRefs(features []*Feature) []ModuleRef {
	index := make(map[string]int)
	var refs []ModuleRef

	for _, f := range features {
		for _, m := range f.Modules {
			if i, ok := index[m.Location]; ok {
				if !m.Transitive {
					refs[i].Transitive = false
				}
				continue
			}
			index[m.Location] = len(refs)
			refs = append(refs, m)
		}
	}

	return refs
}
