package engine

import (
	"fmt"
	"strings"

	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// Manifest header names.
const (
	HeaderModuleName        = "Module-Name"
	HeaderModuleVersion     = "Module-Version"
	HeaderExtensionHost     = "Extension-Host"
	HeaderProvideCapability = "Provide-Capability"
	HeaderRequireCapability = "Require-Capability"
)

// headerListSeparator separates entries of list-valued headers. Filters may
// contain commas, so entries are newline separated.
const headerListSeparator = "\n"

// Capabilities returns every offering the descriptor declares, including
// the implicit module offering.
func (d *ModuleDescriptor) Capabilities() ([]Capability, error) {
	version, err := semver.ParseVersion(d.Version)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", d.Name, err)
	}

	caps := []Capability{{Kind: KindModule, Name: d.Name, Version: version}}
	for _, spec := range d.Provides {
		v := version
		if spec.Version != "" {
			if v, err = semver.ParseVersion(spec.Version); err != nil {
				return nil, fmt.Errorf("module %s: capability %s: %w", d.Name, spec.Name, err)
			}
		}
		caps = append(caps, Capability{
			Kind:       KindCapability,
			Name:       spec.Name,
			Version:    v,
			Attributes: spec.Attributes,
		})
	}
	for _, svc := range d.Services {
		caps = append(caps, Capability{Kind: KindService, Name: svc, Version: version})
	}
	return caps, nil
}

// Requirements returns the parsed requirements of the descriptor. An
// extension also requires its host module.
func (d *ModuleDescriptor) Requirements() ([]Requirement, error) {
	reqs := make([]Requirement, 0, len(d.Requires)+1)
	if d.Extends != nil {
		r, err := semver.ParseRange(d.Extends.Version)
		if err != nil {
			return nil, fmt.Errorf("module %s: extends %s: %w", d.Name, d.Extends.Host, err)
		}
		reqs = append(reqs, Requirement{Kind: KindModule, Name: d.Extends.Host, Range: r})
	}
	for _, spec := range d.Requires {
		kind := CapabilityKind(spec.Kind)
		if kind == "" {
			kind = KindCapability
		}
		if err := kind.Validate(); err != nil {
			return nil, fmt.Errorf("module %s: %w", d.Name, err)
		}
		r, err := semver.ParseRange(spec.Version)
		if err != nil {
			return nil, fmt.Errorf("module %s: requirement %s: %w", d.Name, spec.Name, err)
		}
		reqs = append(reqs, Requirement{
			Kind:     kind,
			Name:     spec.Name,
			Range:    r,
			Optional: spec.Optional,
			Filter:   spec.Filter,
		})
	}
	return reqs, nil
}

// Kind returns the module kind the descriptor declares.
func (d *ModuleDescriptor) Kind() (ModuleKind, error) {
	if d.Extends == nil {
		return Standalone{}, nil
	}
	r, err := semver.ParseRange(d.Extends.Version)
	if err != nil {
		return nil, fmt.Errorf("module %s: extends %s: %w", d.Name, d.Extends.Host, err)
	}
	return Extension{Host: d.Extends.Host, HostRange: r}, nil
}

// Headers renders the descriptor as a manifest header set.
func (d *ModuleDescriptor) Headers() (map[string]string, error) {
	caps, err := d.Capabilities()
	if err != nil {
		return nil, err
	}
	h := map[string]string{
		HeaderModuleName:    d.Name,
		HeaderModuleVersion: caps[0].Version.String(),
	}

	if d.Extends != nil {
		value := d.Extends.Host
		if d.Extends.Version != "" {
			value += ";version=" + d.Extends.Version
		}
		h[HeaderExtensionHost] = value
	}

	// The implicit module offering is rebuilt from name and version.
	if len(caps) > 1 {
		entries := make([]string, 0, len(caps)-1)
		for _, c := range caps[1:] {
			entries = append(entries, c.String())
		}
		h[HeaderProvideCapability] = strings.Join(entries, headerListSeparator)
	}

	var entries []string
	for _, spec := range d.Requires {
		kind := spec.Kind
		if kind == "" {
			kind = string(KindCapability)
		}
		r := Requirement{Kind: CapabilityKind(kind), Name: spec.Name, Optional: spec.Optional, Filter: spec.Filter}
		if r.Range, err = semver.ParseRange(spec.Version); err != nil {
			return nil, fmt.Errorf("module %s: requirement %s: %w", d.Name, spec.Name, err)
		}
		entries = append(entries, r.String())
	}
	if len(entries) > 0 {
		h[HeaderRequireCapability] = strings.Join(entries, headerListSeparator)
	}
	return h, nil
}

// RecordFromHeaders builds a module record from a manifest header set.
// The module kind is derived here once; callers switch on Kind instead of
// re-reading headers.
func RecordFromHeaders(id int64, state ModuleState, location string, headers map[string]string) (ModuleRecord, error) {
	name := headers[HeaderModuleName]
	if name == "" {
		return ModuleRecord{}, fmt.Errorf("module %d: missing %s header", id, HeaderModuleName)
	}
	version, err := semver.ParseVersion(headers[HeaderModuleVersion])
	if err != nil {
		return ModuleRecord{}, fmt.Errorf("module %d (%s): %w", id, name, err)
	}

	rec := ModuleRecord{
		ID:       id,
		Name:     name,
		Version:  version,
		State:    state,
		Location: location,
		Headers:  headers,
		Kind:     Standalone{},
		Provides: []Capability{{Kind: KindModule, Name: name, Version: version}},
	}

	if host := headers[HeaderExtensionHost]; host != "" {
		ext, err := parseExtensionHost(host)
		if err != nil {
			return ModuleRecord{}, fmt.Errorf("module %d (%s): %w", id, name, err)
		}
		rec.Kind = ext
	}

	for _, entry := range splitHeaderList(headers[HeaderProvideCapability]) {
		c, err := ParseCapability(entry)
		if err != nil {
			return ModuleRecord{}, fmt.Errorf("module %d (%s): %w", id, name, err)
		}
		if c.Version.IsZero() {
			c.Version = version
		}
		rec.Provides = append(rec.Provides, c)
	}

	for _, entry := range splitHeaderList(headers[HeaderRequireCapability]) {
		r, err := ParseRequirement(entry)
		if err != nil {
			return ModuleRecord{}, fmt.Errorf("module %d (%s): %w", id, name, err)
		}
		rec.Requires = append(rec.Requires, r)
	}

	return rec, nil
}

// ArtifactFromDescriptor builds a resolved artifact from a module descriptor.
func ArtifactFromDescriptor(location string, primary bool, d *ModuleDescriptor) (ResolvedArtifact, error) {
	caps, err := d.Capabilities()
	if err != nil {
		return ResolvedArtifact{}, err
	}
	reqs, err := d.Requirements()
	if err != nil {
		return ResolvedArtifact{}, err
	}
	return ResolvedArtifact{
		Name:       d.Name,
		Version:    caps[0].Version,
		Location:   location,
		Primary:    primary,
		Provides:   caps,
		Requires:   reqs,
		Descriptor: d,
	}, nil
}

func parseExtensionHost(value string) (Extension, error) {
	host, rest, _ := strings.Cut(value, ";")
	ext := Extension{Host: strings.TrimSpace(host), HostRange: semver.Any}
	if ext.Host == "" {
		return Extension{}, fmt.Errorf("%s: missing host", HeaderExtensionHost)
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		if !strings.HasPrefix(rest, "version=") {
			return Extension{}, fmt.Errorf("%s: unknown clause %q", HeaderExtensionHost, rest)
		}
		r, err := semver.ParseRange(strings.TrimPrefix(rest, "version="))
		if err != nil {
			return Extension{}, fmt.Errorf("%s: %w", HeaderExtensionHost, err)
		}
		ext.HostRange = r
	}
	return ext, nil
}

func splitHeaderList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(value, headerListSeparator) {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
