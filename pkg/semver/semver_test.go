package semver

import "testing"

func TestParseRange_Forms(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		version string
		want    bool
	}{
		{name: "empty matches zero", raw: "", version: "0.0.0", want: true},
		{name: "empty matches anything", raw: "", version: "42.1.3", want: true},
		{name: "bare version is floor", raw: "1.0", version: "1.0.0", want: true},
		{name: "bare version floor above", raw: "1.0", version: "3.4.5", want: true},
		{name: "bare version floor below", raw: "1.0", version: "0.9.9", want: false},
		{name: "closed-open interval lower", raw: "[1.2,1.3)", version: "1.2.0", want: true},
		{name: "closed-open interval upper", raw: "[1.2,1.3)", version: "1.3.0", want: false},
		{name: "open-closed interval lower", raw: "(1.2,1.3]", version: "1.2.0", want: false},
		{name: "open-closed interval upper", raw: "(1.2,1.3]", version: "1.3.0", want: true},
		{name: "unbounded interval", raw: "[2.0,)", version: "9.0.0", want: true},
		{name: "exact interval", raw: "[1.5.1]", version: "1.5.1", want: true},
		{name: "exact interval miss", raw: "[1.5.1]", version: "1.5.2", want: false},
		{name: "masterminds", raw: ">=1.0.0, <2.0.0", version: "1.9.9", want: true},
		{name: "masterminds caret", raw: "^1.2", version: "2.0.0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRange(tt.raw)
			if err != nil {
				t.Fatalf("ParseRange(%q) error: %v", tt.raw, err)
			}
			if got := r.Contains(MustParseVersion(tt.version)); got != tt.want {
				t.Errorf("ParseRange(%q).Contains(%s) = %v, want %v", tt.raw, tt.version, got, tt.want)
			}
		})
	}
}

func TestParseRange_Malformed(t *testing.T) {
	for _, raw := range []string{"[1.0", "[a,b)", "(1.0)", "[1,2,3]", ">>>1"} {
		if _, err := ParseRange(raw); err == nil {
			t.Errorf("ParseRange(%q) expected error", raw)
		}
	}
}

func TestMinorWindow(t *testing.T) {
	w := MinorWindow(MustParseVersion("1.2.9"))

	if !w.Contains(MustParseVersion("1.2.7")) {
		t.Error("expected 1.2.7 inside window of 1.2.9")
	}
	if !w.Contains(MustParseVersion("1.2.0")) {
		t.Error("expected 1.2.0 inside window of 1.2.9")
	}
	if w.Contains(MustParseVersion("1.3.0")) {
		t.Error("expected 1.3.0 outside window of 1.2.9")
	}
	if w.Contains(MustParseVersion("1.1.99")) {
		t.Error("expected 1.1.99 outside window of 1.2.9")
	}
}

func TestMax(t *testing.T) {
	candidates := []Version{
		MustParseVersion("1.0.0"),
		MustParseVersion("1.4.0"),
		MustParseVersion("2.1.0"),
	}

	best, ok := Max(MustParseRange("[1.0,2.0)"), candidates)
	if !ok {
		t.Fatal("expected a match")
	}
	if best.String() != "1.4.0" {
		t.Errorf("expected 1.4.0, got %s", best)
	}

	if _, ok := Max(MustParseRange("[3.0,)"), candidates); ok {
		t.Error("expected no match above 3.0")
	}
}

func TestCompare(t *testing.T) {
	a := MustParseVersion("1.0")
	b := MustParseVersion("1.0.0")
	if Compare(a, b) != 0 || !a.Equal(b) {
		t.Errorf("expected 1.0 == 1.0.0")
	}
	if Compare(Version{}, a) != -1 {
		t.Errorf("expected zero value to sort first")
	}
	if Compare(MustParseVersion("1.10.0"), MustParseVersion("1.9.0")) != 1 {
		t.Errorf("expected numeric comparison")
	}
}

func TestRange_Prerelease(t *testing.T) {
	tests := []struct {
		raw     string
		version string
		want    bool
	}{
		{raw: "[1.0,2.0)", version: "1.5.0-rc1", want: true},
		{raw: "1.0", version: "1.1.0-SNAPSHOT", want: true},
		{raw: "1.0", version: "1.0.0-SNAPSHOT", want: false},
		{raw: "[1.2.0,1.3.0)", version: "1.2.7-SNAPSHOT", want: true},
		{raw: "[1.2.0,1.3.0)", version: "1.3.0-rc1", want: true},
		{raw: "(1.2,1.3]", version: "1.3.5", want: false},
		{raw: "[1.0]", version: "1.0.7", want: false},
		{raw: ">=1.0.0, <2.0.0", version: "1.5.0-rc1", want: true},
		{raw: "", version: "0.1.0-alpha", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw+" "+tt.version, func(t *testing.T) {
			if got := MustParseRange(tt.raw).Contains(MustParseVersion(tt.version)); got != tt.want {
				t.Errorf("ParseRange(%q).Contains(%s) = %v, want %v", tt.raw, tt.version, got, tt.want)
			}
		})
	}
}

func TestMinorWindow_Prerelease(t *testing.T) {
	w := MinorWindow(MustParseVersion("1.2.9"))
	if !w.Contains(MustParseVersion("1.2.7-SNAPSHOT")) {
		t.Error("expected 1.2.7-SNAPSHOT inside window of 1.2.9")
	}
	if w.String() != "[1.2.0,1.3.0)" {
		t.Errorf("unexpected window %s", w)
	}
}

func TestRange_ZeroValue(t *testing.T) {
	if (Range{}).Contains(MustParseVersion("1.0.0")) {
		t.Error("unparsed range must not contain anything")
	}
	if _, err := ParseRange("[2.0,1.0)"); err == nil {
		t.Error("expected error for inverted interval")
	}
}
