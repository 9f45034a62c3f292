package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// Planner classifies installed modules against the desired artifact set.
// It is a pure function of its inputs and never touches the runtime.
type Planner struct {
	now func() time.Time
}

// NewPlanner creates a new planner.
func NewPlanner() *Planner {
	return &Planner{now: time.Now}
}

// ComputePlan builds the four-way plan for one cycle.
//
// Pass 1 pairs installed modules with desired artifacts of identical name and
// version. Pass 2 matches each remaining desired artifact to the highest
// installed version of the same name inside its minor window
// [major.minor.0, major.(minor+1).0); a match becomes an update, a miss an
// install. Installed modules left unmatched are deleted. The bootstrap module
// (ID 0) is never classified.
func (p *Planner) ComputePlan(installed []ModuleRecord, desired []ResolvedArtifact) *Plan {
	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: p.now(),
		Ignore:    make([]IgnoredPair, 0),
		Update:    make([]UpdatePair, 0),
		Delete:    make([]ModuleRecord, 0),
		Install:   make([]ResolvedArtifact, 0),
	}

	pool := make([]ModuleRecord, 0, len(installed))
	for i := range installed {
		if installed[i].IsBootstrap() {
			continue
		}
		pool = append(pool, installed[i])
	}

	remaining := make([]ResolvedArtifact, len(desired))
	copy(remaining, desired)

	// Pass 1: exact name and version.
	unmatched := pool[:0:0]
	for _, mod := range pool {
		idx := findExact(remaining, mod)
		if idx < 0 {
			unmatched = append(unmatched, mod)
			continue
		}
		plan.Ignore = append(plan.Ignore, IgnoredPair{Installed: mod, Desired: remaining[idx]})
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	pool = unmatched

	// Pass 2: compatible replacement within the minor window.
	for _, art := range remaining {
		idx := findInWindow(pool, art)
		if idx < 0 {
			plan.Install = append(plan.Install, art)
			continue
		}
		plan.Update = append(plan.Update, UpdatePair{Installed: pool[idx], Desired: art})
		pool = append(pool[:idx], pool[idx+1:]...)
	}

	plan.Delete = append(plan.Delete, pool...)

	plan.Summary = PlanSummary{
		Ignore:  len(plan.Ignore),
		Update:  len(plan.Update),
		Delete:  len(plan.Delete),
		Install: len(plan.Install),
	}
	return plan
}

func findExact(desired []ResolvedArtifact, mod ModuleRecord) int {
	for i := range desired {
		if desired[i].Name == mod.Name && desired[i].Version.Equal(mod.Version) {
			return i
		}
	}
	return -1
}

func findInWindow(pool []ModuleRecord, art ResolvedArtifact) int {
	window := semver.MinorWindow(art.Version)
	best := -1
	for i := range pool {
		if pool[i].Name != art.Name || !window.Contains(pool[i].Version) {
			continue
		}
		if best < 0 || semver.Compare(pool[i].Version, pool[best].Version) > 0 {
			best = i
		}
	}
	return best
}
