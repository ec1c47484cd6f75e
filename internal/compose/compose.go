// Package compose reads the service's declarative compose configuration and
// builds the substitution rule that pins its image reference. Rewrites are
// executed remotely with sed; this package owns the accepted prior forms of
// the image reference and the read-back verification of the result.
package compose

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"
	"gopkg.in/yaml.v3"
)

type service struct {
	Image string `yaml:"image"`
}

type file struct {
	Services map[string]service `yaml:"services"`
}

// ServiceImage extracts the image reference for one service from compose
// file content.
func ServiceImage(content []byte, name string) (string, error) {
	var f file
	if err := yaml.Unmarshal(content, &f); err != nil {
		return "", fmt.Errorf("parse compose file: %w", err)
	}
	svc, ok := f.Services[name]
	if !ok {
		return "", fmt.Errorf("service %q not found in compose file", name)
	}
	if svc.Image == "" {
		return "", fmt.Errorf("service %q has no image", name)
	}
	return svc.Image, nil
}

// ImageTag returns the tag of an image reference, or "" when untagged.
func ImageTag(image string) string {
	named, err := reference.ParseNormalizedNamed(strings.TrimSpace(image))
	if err != nil {
		return ""
	}
	if tagged, ok := named.(reference.Tagged); ok {
		return tagged.Tag()
	}
	return ""
}

// RewriteExpr builds a single sed -E substitution that pins every accepted
// prior form of the image reference — the bare repository and any
// mirror-prefixed variant, with or without a tag — to repo:tag. The rule is
// idempotent: the pinned form is itself an accepted prior form.
func RewriteExpr(repo string, mirrors []string, tag string) string {
	pattern := escape(repo) + `(:[^[:space:]"']*)?`
	if len(mirrors) > 0 {
		alts := make([]string, len(mirrors))
		for i, m := range mirrors {
			alts[i] = escape(m)
		}
		pattern = "(" + strings.Join(alts, "|") + ")?" + pattern
	}
	return fmt.Sprintf("s#%s#%s:%s#g", pattern, repo, tag)
}

// escape quotes regex metacharacters that appear in image repositories and
// registry prefixes (dots, mostly).
func escape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
