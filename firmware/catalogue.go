package firmware

import (
	"fmt"
	"sort"
)

// Repository is a named GitHub repository publishing firmware releases.
type Repository struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Repository string `yaml:"repository"`
}

// DefaultRepositories is the built in catalogue.
var DefaultRepositories = []Repository{
	{ID: "kiki-day", Name: "Kiki day", Repository: "nguyenconghuy2904-source/xiaozhi-esp32-kiki-day"},
	{ID: "robot-otto", Name: "Robot Otto", Repository: "nguyenconghuy2904-source/robot-otto-firmware"},
	{ID: "dogmaster", Name: "Smart trash bin", Repository: "nguyenconghuy2904-source/smart-trash-bin-firmware"},
	{ID: "smart-switch-pc", Name: "Smart Switch PC", Repository: "nguyenconghuy2904-source/smart-switch-pc-firmware"},
}

// Catalogue maps repository ids to sources.
type Catalogue struct {
	repos   map[string]Repository
	options []GitHubOption
	sources map[string]*GitHubSource
}

func NewCatalogue(repos []Repository, opts ...GitHubOption) *Catalogue {
	c := &Catalogue{
		repos:   make(map[string]Repository, len(repos)),
		options: opts,
		sources: make(map[string]*GitHubSource),
	}
	for _, r := range repos {
		c.repos[r.ID] = r
	}
	return c
}

// Repositories returns the catalogue sorted by id.
func (c *Catalogue) Repositories() []Repository {
	out := make([]Repository, 0, len(c.repos))
	for _, r := range c.repos {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Source returns the source for id, creating it on first use so its
// release cache is shared between calls.
func (c *Catalogue) Source(id string) (*GitHubSource, error) {
	if s, ok := c.sources[id]; ok {
		return s, nil
	}
	r, ok := c.repos[id]
	if !ok {
		return nil, fmt.Errorf("unknown firmware %q", id)
	}
	s, err := NewGitHubSource(r.Repository, c.options...)
	if err != nil {
		return nil, err
	}
	c.sources[id] = s
	return s, nil
}
