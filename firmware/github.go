package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const githubAPI = "https://api.github.com"

type githubAsset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	Body        string        `json:"body"`
	CreatedAt   time.Time     `json:"created_at"`
	PublishedAt *time.Time    `json:"published_at"`
	Assets      []githubAsset `json:"assets"`
}

// GitHubSource lists the .bin assets of a repository's releases. Release
// lists are cached for the lifetime of the source.
type GitHubSource struct {
	owner   string
	repo    string
	apiBase string
	http    *http.Client
	log     *log.Entry

	mu     sync.Mutex
	cached []Release
}

type GitHubOption func(*GitHubSource)

// WithAPIBase points the source at another API root, e.g. a test server.
func WithAPIBase(base string) GitHubOption {
	return func(s *GitHubSource) { s.apiBase = strings.TrimRight(base, "/") }
}

func WithHTTPClient(c *http.Client) GitHubOption {
	return func(s *GitHubSource) {
		if c != nil {
			s.http = c
		}
	}
}

func WithLogger(l *log.Entry) GitHubOption {
	return func(s *GitHubSource) {
		if l != nil {
			s.log = l
		}
	}
}

// NewGitHubSource creates a source for repository in "owner/repo" form.
func NewGitHubSource(repository string, opts ...GitHubOption) (*GitHubSource, error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("repository %q is not in owner/repo form", repository)
	}
	s := &GitHubSource{
		owner:   parts[0],
		repo:    parts[1],
		apiBase: githubAPI,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("repository", repository)
	return s, nil
}

func (s *GitHubSource) ReleasesURL() string {
	return fmt.Sprintf("https://github.com/%s/%s/releases", s.owner, s.repo)
}

// List returns every .bin asset of every release, newest first.
func (s *GitHubSource) List(ctx context.Context) ([]Release, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}

	url := fmt.Sprintf("%s/repos/%s/%s/releases", s.apiBase, s.owner, s.repo)
	body, err := s.get(ctx, url, "application/vnd.github+json", 8*1024*1024)
	if err != nil {
		return nil, err
	}

	var releases []githubRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, fmt.Errorf("decode releases: %w", err)
	}

	list := []Release{}
	for _, r := range releases {
		published := r.CreatedAt
		if r.PublishedAt != nil {
			published = *r.PublishedAt
		}
		description := r.Body
		if description == "" {
			description = r.Name
		}
		for _, a := range r.Assets {
			if !strings.HasSuffix(a.Name, ".bin") {
				continue
			}
			list = append(list, Release{
				Name:          a.Name,
				Version:       r.TagName,
				Description:   description,
				Size:          a.Size,
				Published:     published,
				ChipType:      ChipTypeFromName(a.Name),
				Compatibility: CompatibilityFromNotes(r.Body),
				DownloadRef:   a.BrowserDownloadURL,
			})
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Published.After(list[j].Published) })

	s.log.WithField("images", len(list)).Debug("releases listed")
	s.cached = list
	return list, nil
}

// Fetch downloads the asset behind ref.
func (s *GitHubSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.get(ctx, ref, "application/octet-stream", MaxImageSize)
	if err != nil {
		return nil, err
	}
	s.log.WithField("bytes", len(data)).Info("firmware downloaded")
	return data, nil
}

func (s *GitHubSource) get(ctx context.Context, url, accept string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "espflash")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("GET %s: response larger than %s", url, FormatSize(limit))
	}
	return data, nil
}
