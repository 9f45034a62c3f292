// Package semver provides module versions and version ranges.
//
// It is a thin wrapper around github.com/Masterminds/semver/v3 that adds
// interval notation ("[1.0,2.0)") and the floor semantics used by feature
// and capability constraints: a bare version such as "1.2" means "1.2 or
// anything newer".
package semver

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a semantic version.
type Version struct {
	v *mm.Version
}

// Range is a version interval over the total order of versions, where a
// prerelease sorts just below its release.
//
// Accepted forms:
//   - ""                 any version, floor zero
//   - "1.2"              1.2.0 or newer
//   - "[1.2,2.0)"        interval; brackets are inclusive, parens exclusive
//   - ">=1.2.0, <2.0.0"  Masterminds constraint syntax (also ^, ~, x-ranges)
type Range struct {
	raw    string
	parsed bool
	lower  *bound
	upper  *bound
	c      *mm.Constraints
}

type bound struct {
	v         Version
	inclusive bool
}

// Zero is the version 0.0.0.
var Zero = Version{v: mm.New(0, 0, 0, "", "")}

// Any matches every version.
var Any = MustParseRange("")

// ParseVersion parses a version string. Missing minor and patch components
// default to zero.
func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// New builds a version from its components.
func New(major, minor, patch uint64) Version {
	return Version{v: mm.New(major, minor, patch, "", "")}
}

// IsZero reports whether v was never set.
func (v Version) IsZero() bool {
	return v.v == nil
}

// Major returns the major component.
func (v Version) Major() uint64 {
	if v.v == nil {
		return 0
	}
	return v.v.Major()
}

// Minor returns the minor component.
func (v Version) Minor() uint64 {
	if v.v == nil {
		return 0
	}
	return v.v.Minor()
}

// Patch returns the patch component.
func (v Version) Patch() uint64 {
	if v.v == nil {
		return 0
	}
	return v.v.Patch()
}

// String returns the normalized version, e.g. "1.2.0" for "1.2".
func (v Version) String() string {
	if v.v == nil {
		return "0.0.0"
	}
	return v.v.String()
}

// Equal reports whether a and b denote the same version.
func (v Version) Equal(o Version) bool {
	return Compare(v, o) == 0
}

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// ParseRange parses a version range in any of the forms documented on Range.
func ParseRange(raw string) (Range, error) {
	trimmed := strings.TrimSpace(raw)
	r := Range{raw: trimmed, parsed: true}

	switch {
	case trimmed == "":
	case strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "("):
		lower, upper, err := parseInterval(trimmed)
		if err != nil {
			return Range{}, err
		}
		r.lower, r.upper = lower, upper
	case isBareVersion(trimmed):
		v, err := ParseVersion(trimmed)
		if err != nil {
			return Range{}, err
		}
		r.lower = &bound{v: v, inclusive: true}
	default:
		c, err := mm.NewConstraint(trimmed)
		if err != nil {
			return Range{}, fmt.Errorf("semver: parse range %q: %w", raw, err)
		}
		c.IncludePrerelease = true
		r.c = c
	}
	return r, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// Contains reports whether v lies inside r.
func (r Range) Contains(v Version) bool {
	if v.v == nil || !r.parsed {
		return false
	}
	if r.c != nil {
		return r.c.Check(v.v)
	}
	if r.lower != nil {
		cmp := Compare(v, r.lower.v)
		if cmp < 0 || (cmp == 0 && !r.lower.inclusive) {
			return false
		}
	}
	if r.upper != nil {
		cmp := Compare(v, r.upper.v)
		if cmp > 0 || (cmp == 0 && !r.upper.inclusive) {
			return false
		}
	}
	return true
}

// String returns the range as written.
func (r Range) String() string {
	if r.raw == "" {
		return ">=0.0.0"
	}
	return r.raw
}

// MinorWindow returns [major.minor.0, major.(minor+1).0) for v: the set of
// versions that differ from v only in the patch component or a prerelease
// of those.
func MinorWindow(v Version) Range {
	floor := New(v.Major(), v.Minor(), 0)
	ceil := New(v.Major(), v.Minor()+1, 0)
	return Range{
		raw:    fmt.Sprintf("[%s,%s)", floor, ceil),
		parsed: true,
		lower:  &bound{v: floor, inclusive: true},
		upper:  &bound{v: ceil},
	}
}

// Max returns the highest version in candidates that lies inside r.
// If none does, ok is false.
func Max(r Range, candidates []Version) (best Version, ok bool) {
	for _, candidate := range candidates {
		if !r.Contains(candidate) {
			continue
		}
		if !ok || Compare(candidate, best) > 0 {
			best = candidate
			ok = true
		}
	}
	return best, ok
}

func isBareVersion(s string) bool {
	if strings.ContainsAny(s, "<>=!~^*, |xX") {
		return false
	}
	_, err := mm.NewVersion(s)
	return err == nil
}

// parseInterval parses "[a,b)" style notation. A single bound ("[1.0]")
// means exactly that version and an empty bound ("[1.0,)") is unbounded.
func parseInterval(s string) (lower, upper *bound, err error) {
	if len(s) < 3 {
		return nil, nil, fmt.Errorf("semver: malformed interval %q", s)
	}
	open, closing := s[0], s[len(s)-1]
	if closing != ']' && closing != ')' {
		return nil, nil, fmt.Errorf("semver: malformed interval %q", s)
	}
	parts := strings.Split(strings.TrimSpace(s[1:len(s)-1]), ",")

	if len(parts) == 1 {
		if open != '[' || closing != ']' {
			return nil, nil, fmt.Errorf("semver: single-version interval must be closed: %q", s)
		}
		v, err := ParseVersion(parts[0])
		if err != nil {
			return nil, nil, fmt.Errorf("semver: malformed interval %q: %w", s, err)
		}
		exact := &bound{v: v, inclusive: true}
		return exact, exact, nil
	}
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("semver: malformed interval %q", s)
	}

	if raw := strings.TrimSpace(parts[0]); raw != "" {
		v, err := ParseVersion(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("semver: malformed interval %q: %w", s, err)
		}
		lower = &bound{v: v, inclusive: open == '['}
	}
	if raw := strings.TrimSpace(parts[1]); raw != "" {
		v, err := ParseVersion(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("semver: malformed interval %q: %w", s, err)
		}
		upper = &bound{v: v, inclusive: closing == ']'}
	}
	if lower != nil && upper != nil && Compare(lower.v, upper.v) > 0 {
		return nil, nil, fmt.Errorf("semver: empty interval %q", s)
	}
	return lower, upper, nil
}
