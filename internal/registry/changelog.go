package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const maxNotesLength = 1500

// Release holds the published release notes for one version.
type Release struct {
	Version     string    `json:"version"`
	Name        string    `json:"name"`
	Notes       string    `json:"notes"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// ErrReleaseNotFound is reported when no release exists for a version.
var ErrReleaseNotFound = fmt.Errorf("release not found")

// Changelog fetches the GitHub release notes for a version. Returns
// ErrReleaseNotFound when the project has no release under the expected tag.
func (c *Client) Changelog(ctx context.Context, version string) (*Release, error) {
	if c.ReleaseRepo == "" {
		return nil, fmt.Errorf("no release repository configured")
	}
	base := c.GitHubURL
	if base == "" {
		base = defaultGitHubURL
	}
	tag := c.ReleaseTagPrefix + version
	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", base, c.ReleaseRepo, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release %s: %w", tag, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrReleaseNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github returned %d for release %s", resp.StatusCode, tag)
	}

	var body struct {
		Name        string    `json:"name"`
		Body        string    `json:"body"`
		HTMLURL     string    `json:"html_url"`
		PublishedAt time.Time `json:"published_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode release %s: %w", tag, err)
	}

	name := body.Name
	if name == "" {
		name = tag
	}
	return &Release{
		Version:     version,
		Name:        name,
		Notes:       cleanNotes(body.Body, maxNotesLength),
		URL:         body.HTMLURL,
		PublishedAt: body.PublishedAt,
	}, nil
}

var (
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	byMention  = regexp.MustCompile(`by @\w+( in #\d+)?`)
	prRef      = regexp.MustCompile(`#\d+`)
	multiSpace = regexp.MustCompile(`\s+`)
)

// cleanNotes strips release-body markdown down to plain text and truncates
// at maxLen on a line boundary.
func cleanNotes(body string, maxLen int) string {
	if body == "" {
		return ""
	}

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if len(lines) == 0 && line == "" {
			continue
		}
		// The "What's Changed" header carries no information.
		lower := strings.ToLower(line)
		if lower == "## what's changed" || lower == "### what's changed" {
			continue
		}

		line = strings.TrimPrefix(line, "### ")
		line = strings.TrimPrefix(line, "## ")
		if strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "- ") {
			line = "- " + line[2:]
		}

		line = mdLink.ReplaceAllString(line, "$1")
		line = byMention.ReplaceAllString(line, "")
		line = prRef.ReplaceAllString(line, "")
		line = strings.TrimSpace(multiSpace.ReplaceAllString(line, " "))

		if line != "" {
			lines = append(lines, line)
		}
	}

	result := strings.Join(lines, "\n")
	if len(result) > maxLen {
		cut := result[:maxLen]
		if i := strings.LastIndex(cut, "\n"); i > 0 {
			cut = cut[:i]
		}
		result = cut + "\n..."
	}
	return result
}
