// Package registry resolves published versions of the managed image from the
// container registry's tag list, and the release notes that go with them.
//
// The authoritative "latest stable" mapping goes through the content digest:
// the floating "latest" tag and the pinned semantic-version tag that share a
// digest reference identical content. When the registry is inconsistent and
// no tag shares the digest, the most recently pushed semantic-version tag is
// used as a fallback.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultBaseURL   = "https://hub.docker.com"
	defaultGitHubURL = "https://api.github.com"

	tagPageSize = 100
)

// Client queries the registry for one image repository.
type Client struct {
	BaseURL    string // registry API root, e.g. https://hub.docker.com
	Repo       string // image repository, e.g. n8nio/n8n
	HTTPClient *http.Client

	// Release notes source (GitHub).
	GitHubURL        string
	ReleaseRepo      string // e.g. n8n-io/n8n
	ReleaseTagPrefix string // e.g. "n8n@" for tags like n8n@1.70.0
}

func NewClient(repo string) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		Repo:       repo,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		GitHubURL:  defaultGitHubURL,
	}
}

// Tag is one published semantic-version tag.
type Tag struct {
	Version     Version   `json:"version"`
	Digest      string    `json:"digest"`
	LastUpdated time.Time `json:"last_updated"`
}

type tagPage struct {
	Results []struct {
		Name        string    `json:"name"`
		Digest      string    `json:"digest"`
		LastUpdated time.Time `json:"last_updated"`
	} `json:"results"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// fetchTags retrieves the first page of tags for the repository. Transient
// failures (transport errors, 5xx) are retried with exponential backoff.
func (c *Client) fetchTags(ctx context.Context) (*tagPage, error) {
	url := fmt.Sprintf("%s/v2/repositories/%s/tags?page_size=%d", c.BaseURL, c.Repo, tagPageSize)

	var page tagPage
	backoff := retry.WithMaxRetries(2, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpClient().Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("registry returned %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("registry returned %d", resp.StatusCode)
		}
		page = tagPage{}
		return json.NewDecoder(resp.Body).Decode(&page)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch tags for %s: %w", c.Repo, err)
	}
	return &page, nil
}

// Latest resolves the current stable version: the semantic-version tag whose
// digest matches the "latest" tag. Falls back to the most recently pushed
// semantic-version tag when no digest matches.
func (c *Client) Latest(ctx context.Context) (Version, error) {
	page, err := c.fetchTags(ctx)
	if err != nil {
		return Version{}, err
	}

	var latestDigest string
	var semverTags []Tag
	byDigest := make(map[string]Tag)

	for _, t := range page.Results {
		if t.Name == "latest" {
			latestDigest = t.Digest
		}
		v, ok := Parse(t.Name)
		if !ok || !semverPattern.MatchString(t.Name) {
			continue
		}
		tag := Tag{Version: v, Digest: t.Digest, LastUpdated: t.LastUpdated}
		semverTags = append(semverTags, tag)
		if t.Digest != "" {
			byDigest[t.Digest] = tag
		}
	}

	if latestDigest != "" {
		if tag, ok := byDigest[latestDigest]; ok {
			return tag.Version, nil
		}
	}

	// Registry inconsistency: no version tag shares the latest digest.
	// Use the most recently pushed semantic-version tag instead.
	if len(semverTags) > 0 {
		sort.Slice(semverTags, func(i, j int) bool {
			return semverTags[i].LastUpdated.After(semverTags[j].LastUpdated)
		})
		return semverTags[0].Version, nil
	}

	return Version{}, fmt.Errorf("no semantic version tags found for %s", c.Repo)
}

// Tags returns recent semantic-version tags, newest version first.
func (c *Client) Tags(ctx context.Context, limit int) ([]Tag, error) {
	page, err := c.fetchTags(ctx)
	if err != nil {
		return nil, err
	}

	var tags []Tag
	for _, t := range page.Results {
		v, ok := Parse(t.Name)
		if !ok || !semverPattern.MatchString(t.Name) {
			continue
		}
		tags = append(tags, Tag{Version: v, Digest: t.Digest, LastUpdated: t.LastUpdated})
	}

	sort.Slice(tags, func(i, j int) bool {
		return tags[j].Version.Less(tags[i].Version)
	})
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}
