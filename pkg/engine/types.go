package engine

import (
	"fmt"
	"time"

	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// CapabilityKind is the namespace of a capability offering or requirement.
type CapabilityKind string

const (
	// KindCapability is a generic named contract.
	KindCapability CapabilityKind = "capability"

	// KindModule is the implicit offering every module makes under its own name.
	KindModule CapabilityKind = "module"

	// KindService is a runtime service interface.
	KindService CapabilityKind = "service"
)

// Validate checks if the capability kind is valid.
func (k CapabilityKind) Validate() error {
	switch k {
	case KindCapability, KindModule, KindService:
		return nil
	default:
		return fmt.Errorf("invalid capability kind: %s", k)
	}
}

// Capability is a named, versioned contract a module offers.
type Capability struct {
	Kind       CapabilityKind    `json:"kind"`
	Name       string            `json:"name"`
	Version    semver.Version    `json:"-"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Requirement is a named contract a module needs from another module or
// from the system.
type Requirement struct {
	Kind  CapabilityKind `json:"kind"`
	Name  string         `json:"name"`
	Range semver.Range   `json:"-"`

	// Optional requirements never block resolution. The executor uses them
	// to decide which unrelated modules must be refreshed.
	Optional bool `json:"optional,omitempty"`

	// Filter is a CEL boolean expression evaluated by the resolver.
	Filter string `json:"filter,omitempty"`
}

// Matches reports whether c satisfies r by kind, name and version range.
// Filters are not evaluated here.
func (r Requirement) Matches(c Capability) bool {
	return r.Kind == c.Kind && r.Name == c.Name && r.Range.Contains(c.Version)
}

// ModuleKind tells standalone modules apart from extensions. It is one of
// Standalone or Extension.
type ModuleKind interface {
	isModuleKind()
}

// Standalone is a module that activates on its own.
type Standalone struct{}

// Extension is a module that attaches to a host module and activates with it.
type Extension struct {
	Host      string
	HostRange semver.Range
}

func (Standalone) isModuleKind() {}
func (Extension) isModuleKind()  {}

// ModuleRecord is a module installed in the live runtime.
type ModuleRecord struct {
	// ID is assigned by the runtime. ID 0 is the bootstrap module.
	ID int64 `json:"id"`

	Name     string         `json:"name"`
	Version  semver.Version `json:"-"`
	State    ModuleState    `json:"state"`
	Location string         `json:"location,omitempty"`

	// Headers is the manifest the runtime keeps for the module.
	Headers map[string]string `json:"headers,omitempty"`

	Kind     ModuleKind    `json:"-"`
	Provides []Capability  `json:"provides,omitempty"`
	Requires []Requirement `json:"requires,omitempty"`
}

// IsBootstrap reports whether the record is the runtime's own module.
func (m ModuleRecord) IsBootstrap() bool {
	return m.ID == 0
}

// Extension returns the extension declaration of the module, if any.
func (m ModuleRecord) Extension() (Extension, bool) {
	ext, ok := m.Kind.(Extension)
	return ext, ok
}

// String returns name@version.
func (m ModuleRecord) String() string {
	return fmt.Sprintf("%s@%s", m.Name, m.Version)
}

// ModuleDescriptor is the manifest carried inside a module artifact.
type ModuleDescriptor struct {
	Name     string            `yaml:"name" json:"name" validate:"required"`
	Version  string            `yaml:"version" json:"version" validate:"required"`
	Extends  *HostRef          `yaml:"extends,omitempty" json:"extends,omitempty"`
	Provides []CapabilitySpec  `yaml:"provides,omitempty" json:"provides,omitempty" validate:"dive"`
	Services []string          `yaml:"services,omitempty" json:"services,omitempty"`
	Requires []RequirementSpec `yaml:"requires,omitempty" json:"requires,omitempty" validate:"dive"`
}

// HostRef names the host of an extension module.
type HostRef struct {
	Host    string `yaml:"host" json:"host" validate:"required"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// CapabilitySpec declares an offered capability in a descriptor.
type CapabilitySpec struct {
	Name       string            `yaml:"name" json:"name" validate:"required"`
	Version    string            `yaml:"version,omitempty" json:"version,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// RequirementSpec declares a requirement in a descriptor.
type RequirementSpec struct {
	Kind     string `yaml:"kind,omitempty" json:"kind,omitempty" validate:"omitempty,oneof=capability module service"`
	Name     string `yaml:"name" json:"name" validate:"required"`
	Version  string `yaml:"version,omitempty" json:"version,omitempty"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	Filter   string `yaml:"filter,omitempty" json:"filter,omitempty"`
}

// ResolvedArtifact is a concrete module the resolver selected for installation.
type ResolvedArtifact struct {
	Name     string         `json:"name"`
	Version  semver.Version `json:"-"`
	Location string         `json:"location"`

	// Primary artifacts were requested directly; the others were pulled in
	// to satisfy a requirement.
	Primary bool `json:"primary"`

	Provides   []Capability      `json:"provides,omitempty"`
	Requires   []Requirement     `json:"requires,omitempty"`
	Descriptor *ModuleDescriptor `json:"descriptor,omitempty"`
}

// String returns name@version.
func (a ResolvedArtifact) String() string {
	return fmt.Sprintf("%s@%s", a.Name, a.Version)
}

// IgnoredPair is an installed module that already matches a desired artifact.
type IgnoredPair struct {
	Installed ModuleRecord     `json:"installed"`
	Desired   ResolvedArtifact `json:"desired"`
}

// UpdatePair is an installed module replaced in place by a desired artifact.
type UpdatePair struct {
	Installed ModuleRecord     `json:"installed"`
	Desired   ResolvedArtifact `json:"desired"`
}

// PlanSummary counts the members of each plan set.
type PlanSummary struct {
	Ignore  int `json:"ignore"`
	Update  int `json:"update"`
	Delete  int `json:"delete"`
	Install int `json:"install"`
}

// Plan is the four-way classification of one reconciliation cycle.
type Plan struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Ignore    []IgnoredPair      `json:"ignore"`
	Update    []UpdatePair       `json:"update"`
	Delete    []ModuleRecord     `json:"delete"`
	Install   []ResolvedArtifact `json:"install"`
	Summary   PlanSummary        `json:"summary"`
}

// Empty reports whether executing the plan would change nothing.
func (p *Plan) Empty() bool {
	return len(p.Update) == 0 && len(p.Delete) == 0 && len(p.Install) == 0
}

// ContentLocations returns the artifact locations the executor needs content for.
func (p *Plan) ContentLocations() []string {
	locations := make([]string, 0, len(p.Update)+len(p.Install))
	for i := range p.Update {
		locations = append(locations, p.Update[i].Desired.Location)
	}
	for i := range p.Install {
		locations = append(locations, p.Install[i].Location)
	}
	return locations
}

// ExecutionResult is the outcome of executing a plan.
type ExecutionResult struct {
	PlanID string `json:"plan_id"`

	// RefreshSet holds the IDs of every module refreshed by the cycle.
	RefreshSet []int64 `json:"refresh_set"`

	// Started holds the IDs of the modules started in the final step.
	Started []int64 `json:"started"`

	// Installed holds the records created by the install step.
	Installed []ModuleRecord `json:"installed,omitempty"`

	// RefreshTimedOut is set when the runtime did not confirm the refresh
	// within the configured wait.
	RefreshTimedOut bool `json:"refresh_timed_out"`

	StepCounts map[Step]int  `json:"step_counts"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// PolicyViolation is a single plan guard finding.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Resource string `json:"resource,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// PolicyResult is the verdict of the plan guard.
type PolicyResult struct {
	Allowed     bool              `json:"allowed"`
	Violations  []PolicyViolation `json:"violations,omitempty"`
	Warnings    []PolicyViolation `json:"warnings,omitempty"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}
