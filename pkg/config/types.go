package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo-agent/pkg/engine"
)

// RepositoryDocument is the decoded form of a feature repository file.
type RepositoryDocument struct {
	// Name is the human-readable repository name.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Repositories lists the URIs of further repositories to load.
	Repositories []string `yaml:"repositories,omitempty" json:"repositories,omitempty" validate:"dive,required"`

	// Features are the feature definitions offered by this repository.
	Features []FeatureDocument `yaml:"features,omitempty" json:"features,omitempty" validate:"dive"`

	// Modules is the index of resolvable module offerings.
	Modules []OfferingDocument `yaml:"modules,omitempty" json:"modules,omitempty" validate:"dive"`
}

// FeatureDocument is a feature definition inside a repository document.
type FeatureDocument struct {
	// Name is the feature name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Version is the feature version (e.g., "1.0.0").
	Version string `yaml:"version" json:"version" validate:"required"`

	// Dependencies are other features this feature needs.
	Dependencies []DependencyDocument `yaml:"dependencies,omitempty" json:"dependencies,omitempty" validate:"dive"`

	// Modules are the module references of the feature.
	Modules []ModuleRefDocument `yaml:"modules,omitempty" json:"modules,omitempty" validate:"dive"`
}

// DependencyDocument is a feature dependency by name and version constraint.
type DependencyDocument struct {
	// Name is the referenced feature name.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Version is the version constraint; empty means any version.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// ModuleRefDocument is a module reference: an artifact address or a requirement string.
type ModuleRefDocument struct {
	// Location is an artifact address or a requirement like "capability:http;version=[1.0,2.0)".
	Location string `yaml:"location" json:"location" validate:"required"`

	// Transitive marks the reference as available but not a top-level target.
	Transitive bool `yaml:"transitive,omitempty" json:"transitive,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare location string.
func (m *ModuleRefDocument) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		m.Location = node.Value
		m.Transitive = false
		return nil
	}
	type plain ModuleRefDocument
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*m = ModuleRefDocument(p)
	return nil
}

// OfferingDocument is a module the repository can supply on demand.
type OfferingDocument struct {
	// Location is where the module artifact is fetched from.
	Location string `yaml:"location" json:"location" validate:"required"`

	// Module describes what the artifact provides and requires.
	Module engine.ModuleDescriptor `yaml:"module" json:"module"`
}

// Snapshot is a desired configuration as delivered to the agent.
type Snapshot struct {
	// Framework is a replacement runtime core address. When set, reconciliation is skipped.
	Framework string `json:"framework,omitempty"`

	// Repositories are repository locations, ordered by key.
	Repositories []string `json:"repositories,omitempty" validate:"dive,required"`

	// Features are feature requests of the form name[/constraint], ordered by key.
	Features []string `json:"features,omitempty" validate:"dive,required"`

	// Bundles are raw module addresses installed unconditionally, ordered by key.
	Bundles []string `json:"bundles,omitempty" validate:"dive,required"`

	// Keys is the number of raw keys the snapshot was parsed from.
	Keys int `json:"keys"`

	// Source names where the snapshot came from.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the snapshot was parsed.
	LoadedAt time.Time `json:"loaded_at"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path to the error (e.g., "features.0.version").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

// String formats the error with its position when known.
func (v ValidationError) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// DocumentError reports every problem found in one document.
type DocumentError struct {
	Location string
	Errors   []ValidationError
}

// Error implements the error interface.
func (e *DocumentError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("invalid document %s: %s", e.Location, strings.Join(msgs, "; "))
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
