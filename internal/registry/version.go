package registry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/distribution/reference"
)

var (
	semverPattern  = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)
	semverAnywhere = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
)

// Version is a strictly-semantic MAJOR.MINOR.PATCH version.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less orders versions by (major, minor, patch).
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Parse extracts a semantic version from a version string. Full image
// references ("n8nio/n8n:1.70.0") and "v" prefixes are accepted; anything
// that does not reduce to MAJOR.MINOR.PATCH reports ok=false.
func Parse(s string) (Version, bool) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "/:@") {
		if named, err := reference.ParseNormalizedNamed(s); err == nil {
			tagged, ok := named.(reference.Tagged)
			if !ok {
				return Version{}, false
			}
			s = tagged.Tag()
		} else if i := strings.LastIndex(s, ":"); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimPrefix(s, "v")

	m := semverPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, true
}

// Extract returns the first MAJOR.MINOR.PATCH substring in s, or "".
func Extract(s string) string {
	return semverAnywhere.FindString(s)
}

// Compare orders two version strings:
//
//	-1 if current < latest (update available)
//	 0 if equal, or if either side fails to parse (comparison undecidable —
//	   never treated as "needs update")
//	 1 if current > latest
func Compare(current, latest string) int {
	cur, okCur := Parse(current)
	lat, okLat := Parse(latest)
	if !okCur || !okLat {
		return 0
	}
	switch {
	case cur.Less(lat):
		return -1
	case lat.Less(cur):
		return 1
	default:
		return 0
	}
}
