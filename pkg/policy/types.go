package policy

import (
	"time"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo indicates informational messages.
	SeverityInfo Severity = "info"
	// SeverityWarning indicates a finding that is reported but does not block the plan.
	SeverityWarning Severity = "warning"
	// SeverityError indicates a finding that blocks the plan.
	SeverityError Severity = "error"
	// SeverityCritical indicates a severe finding that blocks the plan.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a Rego policy guarding plans.
type Policy struct {
	// Name is the unique identifier for the policy.
	Name string `json:"name"`

	// Description explains what the policy enforces.
	Description string `json:"description"`

	// Rego is the policy source. It must define a deny set in its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are optional tags for categorizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, e.g. its source path.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyInput is the document policies see as input.
type PolicyInput struct {
	Plan    *PlanInput     `json:"plan"`
	Context *PolicyContext `json:"context"`
}

// PlanInput is the flattened form of an engine.Plan.
type PlanInput struct {
	ID      string          `json:"id"`
	Ignore  []ModuleInput   `json:"ignore"`
	Update  []UpdateInput   `json:"update"`
	Delete  []ModuleInput   `json:"delete"`
	Install []ArtifactInput `json:"install"`
}

// ModuleInput describes an installed module.
type ModuleInput struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location,omitempty"`
}

// UpdateInput describes an in-place update.
type UpdateInput struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	InstalledVersion string `json:"installed_version"`
	DesiredVersion   string `json:"desired_version"`
	Location         string `json:"location"`
}

// ArtifactInput describes an artifact about to be installed.
type ArtifactInput struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Location string `json:"location"`
	Primary  bool   `json:"primary"`
}

// PolicyContext carries evaluation context.
type PolicyContext struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
}

// NewPlanInput flattens plan into the input document.
func NewPlanInput(plan *engine.Plan) *PlanInput {
	in := &PlanInput{
		ID:      plan.ID,
		Ignore:  make([]ModuleInput, 0, len(plan.Ignore)),
		Update:  make([]UpdateInput, 0, len(plan.Update)),
		Delete:  make([]ModuleInput, 0, len(plan.Delete)),
		Install: make([]ArtifactInput, 0, len(plan.Install)),
	}
	for i := range plan.Ignore {
		in.Ignore = append(in.Ignore, moduleInput(plan.Ignore[i].Installed))
	}
	for i := range plan.Update {
		u := plan.Update[i]
		in.Update = append(in.Update, UpdateInput{
			ID:               u.Installed.ID,
			Name:             u.Installed.Name,
			InstalledVersion: u.Installed.Version.String(),
			DesiredVersion:   u.Desired.Version.String(),
			Location:         u.Desired.Location,
		})
	}
	for i := range plan.Delete {
		in.Delete = append(in.Delete, moduleInput(plan.Delete[i]))
	}
	for i := range plan.Install {
		a := plan.Install[i]
		in.Install = append(in.Install, ArtifactInput{
			Name:     a.Name,
			Version:  a.Version.String(),
			Location: a.Location,
			Primary:  a.Primary,
		})
	}
	return in
}

func moduleInput(m engine.ModuleRecord) ModuleInput {
	return ModuleInput{
		ID:       m.ID,
		Name:     m.Name,
		Version:  m.Version.String(),
		Location: m.Location,
	}
}

// PolicyBundle represents a collection of related policies.
type PolicyBundle struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	Policies    []Policy               `json:"policies"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}
