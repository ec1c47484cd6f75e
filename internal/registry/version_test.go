package registry

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1.70.0", "1.70.0", true},
		{"v1.70.0", "1.70.0", true},
		{" 1.2.3 ", "1.2.3", true},
		{"n8nio/n8n:1.70.0", "1.70.0", true},
		{"docker.n8n.io/n8nio/n8n:1.70.0", "1.70.0", true},
		{"n8nio/n8n:latest", "", false},
		{"n8nio/n8n", "", false},
		{"latest", "", false},
		{"1.70", "", false},
		{"1.70.0-rc.1", "", false},
		{"", "", false},
		{"next", "", false},
	}
	for _, tt := range tests {
		v, ok := Parse(tt.in)
		if ok != tt.ok {
			t.Errorf("Parse(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && v.String() != tt.want {
			t.Errorf("Parse(%q) = %s, want %s", tt.in, v, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"n8n version 1.70.3", "1.70.3"},
		{"1.70.3", "1.70.3"},
		{"no version here", ""},
		{"prefix 10.20.30 suffix 1.2.3", "10.20.30"},
	}
	for _, tt := range tests {
		if got := Extract(tt.in); got != tt.want {
			t.Errorf("Extract(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestVersionLess(t *testing.T) {
	tests := []struct {
		a, b string
		less bool
	}{
		{"1.2.3", "1.2.4", true},
		{"1.2.3", "1.3.0", true},
		{"1.9.9", "2.0.0", true},
		{"1.10.0", "1.9.0", false},
		{"1.2.3", "1.2.3", false},
	}
	for _, tt := range tests {
		a, _ := Parse(tt.a)
		b, _ := Parse(tt.b)
		if got := a.Less(b); got != tt.less {
			t.Errorf("%s.Less(%s) = %v, want %v", tt.a, tt.b, got, tt.less)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		current, latest string
		want            int
	}{
		{"1.69.0", "1.70.0", -1},
		{"1.70.0", "1.69.0", 1},
		{"1.70.0", "1.70.0", 0},
		// Unparsable on either side is undecidable, never "update needed".
		{"", "1.70.0", 0},
		{"1.70.0", "", 0},
		{"latest", "1.70.0", 0},
		{"1.70.0", "garbage", 0},
	}
	for _, tt := range tests {
		if got := Compare(tt.current, tt.latest); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.current, tt.latest, got, tt.want)
		}
	}
}

// Compare must stay antisymmetric for every parsable pair.
func TestCompareAntisymmetric(t *testing.T) {
	versions := []string{"1.2.3", "1.2.4", "1.3.0", "2.0.0"}
	for _, a := range versions {
		for _, b := range versions {
			if Compare(a, b) != -Compare(b, a) {
				t.Errorf("Compare(%s, %s) = %d but Compare(%s, %s) = %d",
					a, b, Compare(a, b), b, a, Compare(b, a))
			}
		}
	}
}
