package engine

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/openfroyo/froyo-agent/pkg/semver"
)

// AddressSchemes are the URL schemes that denote fetchable artifacts.
var AddressSchemes = map[string]bool{
	"file":  true,
	"http":  true,
	"https": true,
	"sftp":  true,
}

// IsAddress reports whether ref is a concrete fetchable location rather
// than a requirement expression.
func IsAddress(ref string) bool {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return AddressSchemes[strings.ToLower(u.Scheme)]
}

// ParseRequirement parses "kind:name[;version=<range>][;optional][;filter=<expr>]".
// The kind defaults to capability. Everything after "filter=" belongs to the
// filter expression, so it must be the last clause.
func ParseRequirement(raw string) (Requirement, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Requirement{}, fmt.Errorf("empty requirement")
	}

	var filter string
	if idx := strings.Index(s, ";filter="); idx >= 0 {
		filter = strings.TrimSpace(s[idx+len(";filter="):])
		s = s[:idx]
		if filter == "" {
			return Requirement{}, fmt.Errorf("requirement %q: empty filter", raw)
		}
	}

	clauses := strings.Split(s, ";")
	kind, name, err := splitKindName(clauses[0])
	if err != nil {
		return Requirement{}, fmt.Errorf("requirement %q: %w", raw, err)
	}

	req := Requirement{Kind: kind, Name: name, Range: semver.Any, Filter: filter}
	for _, clause := range clauses[1:] {
		clause = strings.TrimSpace(clause)
		switch {
		case clause == "":
		case clause == "optional":
			req.Optional = true
		case strings.HasPrefix(clause, "version="):
			r, err := semver.ParseRange(strings.TrimPrefix(clause, "version="))
			if err != nil {
				return Requirement{}, fmt.Errorf("requirement %q: %w", raw, err)
			}
			req.Range = r
		default:
			return Requirement{}, fmt.Errorf("requirement %q: unknown clause %q", raw, clause)
		}
	}
	return req, nil
}

// String renders the requirement in the form accepted by ParseRequirement.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	b.WriteByte(':')
	b.WriteString(r.Name)
	if rs := r.Range.String(); rs != ">=0.0.0" {
		b.WriteString(";version=")
		b.WriteString(rs)
	}
	if r.Optional {
		b.WriteString(";optional")
	}
	if r.Filter != "" {
		b.WriteString(";filter=")
		b.WriteString(r.Filter)
	}
	return b.String()
}

// ParseCapability parses "kind:name[;version=<v>][;key=value...]". Without
// a version clause the returned Version is unset; callers pick the default.
func ParseCapability(raw string) (Capability, error) {
	clauses := strings.Split(strings.TrimSpace(raw), ";")
	kind, name, err := splitKindName(clauses[0])
	if err != nil {
		return Capability{}, fmt.Errorf("capability %q: %w", raw, err)
	}

	c := Capability{Kind: kind, Name: name}
	for _, clause := range clauses[1:] {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		key, value, ok := strings.Cut(clause, "=")
		if !ok {
			return Capability{}, fmt.Errorf("capability %q: malformed clause %q", raw, clause)
		}
		if key == "version" {
			v, err := semver.ParseVersion(value)
			if err != nil {
				return Capability{}, fmt.Errorf("capability %q: %w", raw, err)
			}
			c.Version = v
			continue
		}
		if c.Attributes == nil {
			c.Attributes = make(map[string]string)
		}
		c.Attributes[key] = value
	}
	return c, nil
}

// String renders the capability in the form accepted by ParseCapability.
func (c Capability) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%s;version=%s", c.Kind, c.Name, c.Version)

	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ";%s=%s", k, c.Attributes[k])
	}
	return b.String()
}

func splitKindName(s string) (CapabilityKind, string, error) {
	s = strings.TrimSpace(s)
	kind, name := KindCapability, s
	if k, n, ok := strings.Cut(s, ":"); ok {
		kind, name = CapabilityKind(strings.TrimSpace(k)), strings.TrimSpace(n)
	}
	if err := kind.Validate(); err != nil {
		return "", "", err
	}
	if name == "" {
		return "", "", fmt.Errorf("missing name")
	}
	return kind, name, nil
}
