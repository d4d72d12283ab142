// Package config turns the environment inputs of spec.md §6 into the
// typed objects the coordinator, builder, and log server are constructed
// from: the repo registry (PACKAGE_REPOS/PACKAGE_TARGET_REPOS/
// PACKAGE_REPOS_NOTIFIERS) and a node's own build class.
package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/chaotic-cx/chaotic-manager-sub000/coordinator"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/notify"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/registry"
)

// sourceRepoJSON is one entry of the PACKAGE_REPOS JSON object.
type sourceRepoJSON struct {
	URL string `json:"url"`
}

// extraRepoJSON is one entry of a target repo's "extra_repos" array.
type extraRepoJSON struct {
	Name    string   `json:"name"`
	Servers []string `json:"servers"`
}

type targetRepoJSON struct {
	ExtraRepos    []extraRepoJSON `json:"extra_repos"`
	ExtraKeyrings []string        `json:"extra_keyrings"`
}

// notifierJSON is one entry of PACKAGE_REPOS_NOTIFIERS, keyed by source
// repo name. Type selects which platform's commit-status API to use;
// unknown/absent types fall back to the registry's null-object notifier.
type notifierJSON struct {
	Type      string `json:"type"` // "github" | "gitlab"
	BaseURL   string `json:"base_url"`
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	ProjectID string `json:"project_id"`
	Token     string `json:"token"`
}

// ParseRepos builds a *registry.Registry from the three JSON blobs of
// spec.md §6's PACKAGE_REPOS/PACKAGE_TARGET_REPOS/PACKAGE_REPOS_NOTIFIERS
// environment variables (empty strings are treated as "no entries").
func ParseRepos(packageRepos, packageTargetRepos, packageReposNotifiers string) (*registry.Registry, error) {
	var sourcesRaw map[string]sourceRepoJSON
	if packageRepos != "" {
		if err := json.Unmarshal([]byte(packageRepos), &sourcesRaw); err != nil {
			return nil, fmt.Errorf("PACKAGE_REPOS: %w", err)
		}
	}

	var targetsRaw map[string]targetRepoJSON
	if packageTargetRepos != "" {
		if err := json.Unmarshal([]byte(packageTargetRepos), &targetsRaw); err != nil {
			return nil, fmt.Errorf("PACKAGE_TARGET_REPOS: %w", err)
		}
	}

	var notifiersRaw map[string]notifierJSON
	if packageReposNotifiers != "" {
		if err := json.Unmarshal([]byte(packageReposNotifiers), &notifiersRaw); err != nil {
			return nil, fmt.Errorf("PACKAGE_REPOS_NOTIFIERS: %w", err)
		}
	}

	client := http.DefaultClient

	sources := make(map[string]registry.RepoEntry, len(sourcesRaw))
	for name, raw := range sourcesRaw {
		entry := registry.RepoEntry{ID: name, URL: raw.URL, Notifier: registry.NoNotifier}
		if n, ok := notifiersRaw[name]; ok {
			switch n.Type {
			case "github":
				entry.Notifier = &notify.GitHub{Client: client, BaseURL: defaultStr(n.BaseURL, "https://api.github.com"), Owner: n.Owner, Repo: n.Repo, Token: n.Token}
			case "gitlab":
				entry.Notifier = &notify.GitLab{Client: client, BaseURL: defaultStr(n.BaseURL, "https://gitlab.com"), ProjectID: n.ProjectID, Token: n.Token}
			}
		}
		sources[name] = entry
	}

	targets := make(map[string]registry.TargetRepoEntry, len(targetsRaw))
	for name, raw := range targetsRaw {
		t := registry.TargetRepoEntry{Name: name, ExtraKeyrings: raw.ExtraKeyrings}
		for _, r := range raw.ExtraRepos {
			t.ExtraRepos = append(t.ExtraRepos, registry.ExtraRepo{Name: r.Name, Servers: r.Servers})
		}
		targets[name] = t
	}

	return registry.New(sources, targets), nil
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ParseBuildClass interprets BUILDER_CLASS: a plain integer is a numeric
// tier (spec.md §6: Small=0, Medium=1, Heavy=2); anything else is a sticky
// builder pure-name. Empty defaults to Medium.
func ParseBuildClass(s string) coordinator.BuildClass {
	if s == "" {
		return coordinator.BuildClass{Numeric: true, Tier: coordinator.ClassMedium}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return coordinator.BuildClass{Numeric: true, Tier: n}
	}
	return coordinator.BuildClass{Numeric: false, Name: s}
}
