package agent

import (
	"context"

	"github.com/openfroyo/froyo-agent/pkg/catalog"
	"github.com/openfroyo/froyo-agent/pkg/config"
)

// Validation is what a snapshot expands to without resolving or touching
// the runtime.
type Validation struct {
	Repositories []string            `json:"repositories"`
	Features     []string            `json:"features"`
	Modules      []catalog.ModuleRef `json:"modules"`
	Bundles      []string            `json:"bundles,omitempty"`
}

// Validate loads the snapshot's repositories and computes the feature
// closure.
func (a *Agent) Validate(ctx context.Context, snap *config.Snapshot) (*Validation, error) {
	loader := catalog.NewLoader(a.fetcher, a.decoder, a.base)
	cat, err := loader.LoadAll(ctx, snap.Repositories)
	if err != nil {
		return nil, err
	}
	features, err := catalog.Closure(cat, snap.Features)
	if err != nil {
		return nil, err
	}

	v := &Validation{
		Modules: catalog.ModuleRefs(features),
		Bundles: snap.Bundles,
	}
	for _, repo := range cat.Repositories() {
		v.Repositories = append(v.Repositories, repo.URI)
	}
	for _, f := range features {
		v.Features = append(v.Features, f.String())
	}
	return v, nil
}
