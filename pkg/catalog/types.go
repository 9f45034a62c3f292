package catalog

import (
	"fmt"

	"github.com/openfroyo/froyo-agent/pkg/engine"
	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// Repository is a loaded feature repository.
type Repository struct {
	// URI is the location the repository was loaded from.
	URI string

	// Name is the repository's declared name, if any.
	Name string

	// Repositories are the absolute URIs of referenced repositories.
	Repositories []string

	// Features are the feature definitions in declaration order.
	Features []*Feature

	// Modules are the module offerings the repository can supply.
	Modules []ModuleOffering
}

// Feature is a named, versioned bundle of module references and feature
// dependencies.
type Feature struct {
	Name         string
	Version      semver.Version
	Dependencies []FeatureDependency
	Modules      []ModuleRef

	// Repository is the URI of the repository that defined the feature.
	Repository string
}

// String returns name/version.
func (f *Feature) String() string {
	return fmt.Sprintf("%s/%s", f.Name, f.Version)
}

// FeatureDependency references another feature by name and constraint.
type FeatureDependency struct {
	Name       string
	Constraint semver.Range
}

// String returns the dependency in name/constraint form, as accepted by
// FindFeature.
func (d FeatureDependency) String() string {
	return fmt.Sprintf("%s/%s", d.Name, d.Constraint)
}

// ModuleRef is a concrete artifact address or an abstract requirement string.
type ModuleRef struct {
	Location string

	// Transitive references are available to the resolver but are not
	// installation targets on their own.
	Transitive bool
}

// IsAddress reports whether the reference names a fetchable artifact.
func (m ModuleRef) IsAddress() bool {
	return engine.IsAddress(m.Location)
}

// ModuleOffering is a module a repository can supply when something needs it.
type ModuleOffering struct {
	Location   string
	Descriptor *engine.ModuleDescriptor

	// Repository is the URI of the repository that advertised the offering.
	Repository string
}
