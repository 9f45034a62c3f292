package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/config"
	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// Loader loads repositories, each at most once.
type Loader struct {
	fetcher engine.Fetcher
	decoder *config.Decoder
	logger  zerolog.Logger

	loaded map[string]*Repository
	order  []string
}

// NewLoader creates a loader. Every repository is fetched through fetcher,
// so any scheme the fetcher understands can host a repository.
func NewLoader(fetcher engine.Fetcher, decoder *config.Decoder, logger zerolog.Logger) *Loader {
	return &Loader{
		fetcher: fetcher,
		decoder: decoder,
		logger:  logger.With().Str("component", "catalog").Logger(),
		loaded:  make(map[string]*Repository),
	}
}

// Load loads the repository at uri and, recursively, every repository it
// references. A uri that was already loaded is returned from the map
// without fetching.
func (l *Loader) Load(ctx context.Context, uri string) (*Repository, error) {
	if repo, ok := l.loaded[uri]; ok {
		return repo, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := l.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, engine.NewConfigurationError("repository unreachable", err).WithResource(uri)
	}

	doc, err := l.decoder.DecodeRepository(uri, data)
	if err != nil {
		return nil, err
	}

	repo, err := buildRepository(uri, doc)
	if err != nil {
		return nil, err
	}

	// Registered before recursing so reference cycles stop here.
	l.loaded[uri] = repo
	l.order = append(l.order, uri)

	l.logger.Debug().
		Str("uri", uri).
		Int("features", len(repo.Features)).
		Int("offerings", len(repo.Modules)).
		Int("references", len(repo.Repositories)).
		Msg("Repository loaded")

	for _, ref := range repo.Repositories {
		if _, err := l.Load(ctx, ref); err != nil {
			return nil, err
		}
	}

	return repo, nil
}

// LoadAll loads every uri and returns the catalog of everything loaded so
// far. Any failure aborts; no partial catalog is returned.
func (l *Loader) LoadAll(ctx context.Context, uris []string) (*Catalog, error) {
	for _, uri := range uris {
		if _, err := l.Load(ctx, uri); err != nil {
			return nil, err
		}
	}
	return l.Catalog(), nil
}

// Catalog freezes the loaded repositories, in load order, into a Catalog.
func (l *Loader) Catalog() *Catalog {
	repos := make([]*Repository, 0, len(l.order))
	for _, uri := range l.order {
		repos = append(repos, l.loaded[uri])
	}
	return NewCatalog(repos)
}

// buildRepository converts a decoded document, parsing versions and
// resolving relative repository references against uri.
func buildRepository(uri string, doc *config.RepositoryDocument) (*Repository, error) {
	repo := &Repository{URI: uri, Name: doc.Name}

	for _, ref := range doc.Repositories {
		abs, err := resolveReference(uri, ref)
		if err != nil {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("bad repository reference %q", ref), err).WithResource(uri)
		}
		repo.Repositories = append(repo.Repositories, abs)
	}

	for _, fd := range doc.Features {
		f, err := buildFeature(uri, fd)
		if err != nil {
			return nil, err
		}
		repo.Features = append(repo.Features, f)
	}

	for i := range doc.Modules {
		od := doc.Modules[i]
		loc, err := resolveReference(uri, od.Location)
		if err != nil {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("bad module location %q", od.Location), err).WithResource(uri)
		}
		desc := od.Module
		repo.Modules = append(repo.Modules, ModuleOffering{
			Location:   loc,
			Descriptor: &desc,
			Repository: uri,
		})
	}

	return repo, nil
}

func buildFeature(uri string, fd config.FeatureDocument) (*Feature, error) {
	v, err := semver.ParseVersion(fd.Version)
	if err != nil {
		return nil, engine.NewConfigurationError(
			fmt.Sprintf("feature %s has a bad version", fd.Name), err).WithResource(uri)
	}

	f := &Feature{Name: fd.Name, Version: v, Repository: uri}

	for _, dd := range fd.Dependencies {
		r, err := semver.ParseRange(dd.Version)
		if err != nil {
			return nil, engine.NewConfigurationError(
				fmt.Sprintf("feature %s has a bad dependency constraint", f), err).WithResource(uri)
		}
		f.Dependencies = append(f.Dependencies, FeatureDependency{Name: dd.Name, Constraint: r})
	}

	for _, md := range fd.Modules {
		loc := strings.TrimSpace(md.Location)
		switch {
		case isRelativeLocation(loc):
			abs, err := resolveReference(uri, loc)
			if err != nil {
				return nil, engine.NewConfigurationError(
					fmt.Sprintf("feature %s has a bad module location %q", f, loc), err).WithResource(uri)
			}
			loc = abs
		case !engine.IsAddress(loc):
			if _, err := engine.ParseRequirement(loc); err != nil {
				return nil, engine.NewConfigurationError(
					fmt.Sprintf("feature %s has a bad module reference", f), err).WithResource(uri)
			}
		}
		f.Modules = append(f.Modules, ModuleRef{Location: loc, Transitive: md.Transitive})
	}

	return f, nil
}

// resolveReference makes ref absolute relative to base. Refs that already
// carry a scheme are returned unchanged.
func resolveReference(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if engine.IsAddress(ref) {
		return ref, nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// isRelativeLocation reports whether a feature module reference is a path
// relative to its repository. Such paths contain a slash and no ':' or ';',
// which keeps them apart from requirement expressions like "logging" or
// "module:core;version=1.0".
func isRelativeLocation(ref string) bool {
	return strings.Contains(ref, "/") && !strings.ContainsAny(ref, ":;")
}
