package resolver

import (
	"fmt"
	"strings"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// Candidate is a fetched artifact offered to the resolver.
type Candidate struct {
	Location   string
	Primary    bool
	Descriptor *engine.ModuleDescriptor
}

// Offering is an artifact a repository can supply; its content has not
// been fetched.
type Offering struct {
	Location   string
	Descriptor *engine.ModuleDescriptor
}

// Request is everything one resolution needs.
type Request struct {
	// Candidates are the fetched artifacts.
	Candidates []Candidate

	// Requirements are requirement strings that must each be satisfied.
	Requirements []string

	// Index is the pool of repository offerings.
	Index []Offering

	// System holds the capabilities the runtime provides on its own.
	System []engine.Capability
}

// Result is a successful resolution.
type Result struct {
	// Artifacts is the desired deployment set, ordered by name then version.
	Artifacts []engine.ResolvedArtifact

	// Pulled holds the locations of selected repository offerings. Their
	// content still has to be fetched.
	Pulled []string
}

// Unsatisfied is a mandatory requirement nothing could satisfy.
type Unsatisfied struct {
	Requirement engine.Requirement
	DeclaredBy  string
	Reason      string
}

// String formats the entry for logs and error messages.
func (u Unsatisfied) String() string {
	return fmt.Sprintf("%s required by %s: %s", u.Requirement, u.DeclaredBy, u.Reason)
}

// Conflict is a module selected twice within one minor window.
type Conflict struct {
	Module   string
	Versions []string
}

// Diagnostics collects everything that prevented a resolution.
type Diagnostics struct {
	Unsatisfied []Unsatisfied
	Conflicts   []Conflict
}

// Empty reports whether nothing specific was recorded.
func (d Diagnostics) Empty() bool {
	return len(d.Unsatisfied) == 0 && len(d.Conflicts) == 0
}

// ResolutionError carries the diagnostics of a failed resolution.
type ResolutionError struct {
	Diagnostics Diagnostics
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	if e.Diagnostics.Empty() {
		return "no solution"
	}
	parts := make([]string, 0, len(e.Diagnostics.Unsatisfied)+len(e.Diagnostics.Conflicts))
	for _, u := range e.Diagnostics.Unsatisfied {
		parts = append(parts, u.String())
	}
	for _, c := range e.Diagnostics.Conflicts {
		parts = append(parts, fmt.Sprintf("%s selected at %s", c.Module, strings.Join(c.Versions, " and ")))
	}
	return strings.Join(parts, "; ")
}
