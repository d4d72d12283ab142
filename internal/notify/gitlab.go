package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	chttp "github.com/chaotic-cx/chaotic-manager-sub000/http"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/registry"
)

// GitLab posts commit statuses to a GitLab project's statuses API.
type GitLab struct {
	Client    *http.Client
	BaseURL   string // e.g. https://gitlab.archlinux.org
	ProjectID string
	Token     string
}

func stateToGitLab(s registry.State) string {
	switch s {
	case registry.StateSuccess:
		return "success"
	case registry.StateFailed:
		return "failed"
	case registry.StateCanceled:
		return "canceled"
	case registry.StateRunning:
		return "running"
	case registry.StatePending:
		return "pending"
	default:
		return "pending"
	}
}

func (g *GitLab) Notify(ctx context.Context, pkgbase, commit string, state registry.State, description string) error {
	if commit == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/api/v4/projects/%s/statuses/%s", g.BaseURL, url.PathEscape(g.ProjectID), commit)

	body := chttp.JSON{Payload: map[string]string{
		"state":       stateToGitLab(state),
		"description": description,
		"name":        "chaotic-manager/" + pkgbase,
	}}
	buf, err := body.ToBody()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", body.ContentType())
	req.Header.Set("PRIVATE-TOKEN", g.Token)

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("gitlab status post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		text, _ := chttp.NewBody(resp.Body).ToString()
		return fmt.Errorf("gitlab status post: unexpected status %d: %s", resp.StatusCode, text)
	}
	return nil
}
