package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// DeclaredByConfiguration marks requirements that come straight from
// feature module references rather than from a module.
const DeclaredByConfiguration = "configuration"

// Resolver selects the artifacts that satisfy a request.
type Resolver struct {
	logger zerolog.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger zerolog.Logger) *Resolver {
	return &Resolver{
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// resource is one entry of the pool.
type resource struct {
	artifact  engine.ResolvedArtifact
	synthetic bool
}

func (r *resource) key() string {
	return r.artifact.Name + "@" + r.artifact.Version.String()
}

// session holds the state of one Resolve call.
type session struct {
	system   []engine.Capability
	pool     []*resource
	selected []*resource
	byKey    map[string]*resource
	queue    []*resource

	filters  *FilterCompiler
	compiled map[string]*Filter

	diag Diagnostics
}

// Resolve computes the desired deployment set for req.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	filters, err := NewFilterCompiler()
	if err != nil {
		return nil, engine.NewResolutionError("filter environment unavailable", err)
	}

	s := &session{
		system:   req.System,
		byKey:    make(map[string]*resource),
		filters:  filters,
		compiled: make(map[string]*Filter),
	}

	var primaries []*resource
	for _, c := range req.Candidates {
		if c.Descriptor == nil {
			return nil, engine.NewResolutionError("candidate has no descriptor", nil).WithResource(c.Location)
		}
		art, err := engine.ArtifactFromDescriptor(c.Location, c.Primary, c.Descriptor)
		if err != nil {
			return nil, engine.NewResolutionError("invalid candidate", err).WithResource(c.Location)
		}
		res := &resource{artifact: art, synthetic: true}
		s.pool = append(s.pool, res)
		if c.Primary {
			primaries = append(primaries, res)
		}
	}
	for _, o := range req.Index {
		if o.Descriptor == nil {
			continue
		}
		art, err := engine.ArtifactFromDescriptor(o.Location, false, o.Descriptor)
		if err != nil {
			r.logger.Warn().Err(err).Str("location", o.Location).Msg("Skipping invalid offering")
			continue
		}
		s.pool = append(s.pool, &resource{artifact: art})
	}
	s.pool = dedupe(s.pool)
	sortPool(s.pool)

	for _, p := range primaries {
		s.selectResource(p)
	}

	for _, raw := range req.Requirements {
		parsed, err := engine.ParseRequirement(raw)
		if err != nil {
			s.diag.Unsatisfied = append(s.diag.Unsatisfied, Unsatisfied{
				Requirement: engine.Requirement{Kind: engine.KindCapability, Name: raw, Range: semver.Any},
				DeclaredBy:  DeclaredByConfiguration,
				Reason:      err.Error(),
			})
			continue
		}
		s.satisfy(parsed, DeclaredByConfiguration)
	}

	for len(s.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		for _, dep := range next.artifact.Requires {
			if dep.Optional {
				continue
			}
			s.satisfy(dep, next.artifact.String())
		}
	}

	if !s.diag.Empty() {
		rerr := &ResolutionError{Diagnostics: s.diag}
		r.logger.Debug().
			Int("unsatisfied", len(s.diag.Unsatisfied)).
			Int("conflicts", len(s.diag.Conflicts)).
			Msg("Resolution failed")
		return nil, engine.NewResolutionError("unable to resolve modules", rerr).
			WithDetail("unsatisfied", len(s.diag.Unsatisfied)).
			WithDetail("conflicts", len(s.diag.Conflicts))
	}

	result := &Result{}
	for _, res := range s.selected {
		result.Artifacts = append(result.Artifacts, res.artifact)
		if !res.synthetic {
			result.Pulled = append(result.Pulled, res.artifact.Location)
		}
	}
	sort.SliceStable(result.Artifacts, func(i, j int) bool {
		a, b := result.Artifacts[i], result.Artifacts[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return semver.Compare(a.Version, b.Version) < 0
	})
	sort.Strings(result.Pulled)

	r.logger.Debug().
		Int("selected", len(result.Artifacts)).
		Int("pulled", len(result.Pulled)).
		Msg("Resolution complete")

	return result, nil
}

// selectResource adds res to the selection and queues its requirements.
// A module already selected in the same minor window is a conflict.
func (s *session) selectResource(res *resource) {
	if _, ok := s.byKey[res.key()]; ok {
		return
	}
	if other := s.clash(res); other != nil {
		s.addConflict(res.artifact.Name, other.artifact.Version, res.artifact.Version)
		return
	}
	s.byKey[res.key()] = res
	s.selected = append(s.selected, res)
	s.queue = append(s.queue, res)
}

// clash returns a selected resource with the same name whose version falls
// in the minor window of res.
func (s *session) clash(res *resource) *resource {
	window := semver.MinorWindow(res.artifact.Version)
	for _, sel := range s.selected {
		if sel.artifact.Name == res.artifact.Name && window.Contains(sel.artifact.Version) {
			return sel
		}
	}
	return nil
}

func (s *session) addConflict(name string, a, b semver.Version) {
	for _, c := range s.diag.Conflicts {
		if c.Module == name {
			return
		}
	}
	s.diag.Conflicts = append(s.diag.Conflicts, Conflict{
		Module:   name,
		Versions: []string{a.String(), b.String()},
	})
}

// satisfy looks for a provider of req in the system capabilities, the
// selection and the pool, in that order.
func (s *session) satisfy(req engine.Requirement, declaredBy string) {
	match, err := s.matcher(req)
	if err != nil {
		s.diag.Unsatisfied = append(s.diag.Unsatisfied, Unsatisfied{
			Requirement: req,
			DeclaredBy:  declaredBy,
			Reason:      err.Error(),
		})
		return
	}

	for _, c := range s.system {
		if match(c) {
			return
		}
	}
	for _, sel := range s.selected {
		if provides(sel, match) {
			return
		}
	}

	reason := "no provider"
	for _, res := range s.pool {
		if !provides(res, match) {
			continue
		}
		if s.clash(res) != nil {
			reason = "provider conflicts with a selected module"
			continue
		}
		s.selectResource(res)
		return
	}

	s.diag.Unsatisfied = append(s.diag.Unsatisfied, Unsatisfied{
		Requirement: req,
		DeclaredBy:  declaredBy,
		Reason:      reason,
	})
}

// matcher returns the capability predicate for req. The filter, if any, is
// compiled once and reused.
func (s *session) matcher(req engine.Requirement) (func(engine.Capability) bool, error) {
	if req.Filter == "" {
		return req.Matches, nil
	}
	f, ok := s.compiled[req.Filter]
	if !ok {
		var err error
		f, err = s.filters.Compile(req.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		s.compiled[req.Filter] = f
	}
	return func(c engine.Capability) bool {
		return req.Matches(c) && f.Match(c)
	}, nil
}

func provides(res *resource, match func(engine.Capability) bool) bool {
	for _, c := range res.artifact.Provides {
		if match(c) {
			return true
		}
	}
	return false
}

// dedupe keeps the first resource for each name and version. Synthetic
// candidates come first in the input, so they shadow index offerings.
func dedupe(pool []*resource) []*resource {
	seen := make(map[string]bool, len(pool))
	out := pool[:0]
	for _, res := range pool {
		if seen[res.key()] {
			continue
		}
		seen[res.key()] = true
		out = append(out, res)
	}
	return out
}

// sortPool orders synthetic candidates first, then higher versions first.
func sortPool(pool []*resource) {
	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.synthetic != b.synthetic {
			return a.synthetic
		}
		if c := semver.Compare(a.artifact.Version, b.artifact.Version); c != 0 {
			return c > 0
		}
		return a.artifact.Name < b.artifact.Name
	})
}
