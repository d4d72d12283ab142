package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	chttp "github.com/chaotic-cx/chaotic-manager-sub000/http"
	"github.com/chaotic-cx/chaotic-manager-sub000/internal/registry"
)

// GitHub posts commit statuses to a GitHub repository's statuses API.
type GitHub struct {
	Client  *http.Client
	BaseURL string // e.g. https://api.github.com
	Owner   string
	Repo    string
	Token   string
}

func stateToGitHub(s registry.State) string {
	switch s {
	case registry.StateSuccess:
		return "success"
	case registry.StateFailed:
		return "failure"
	case registry.StateCanceled:
		return "error"
	case registry.StateRunning, registry.StatePending:
		return "pending"
	default:
		return "pending"
	}
}

func (g *GitHub) Notify(ctx context.Context, pkgbase, commit string, state registry.State, description string) error {
	if commit == "" {
		return nil
	}
	url := fmt.Sprintf("%s/repos/%s/%s/statuses/%s", g.BaseURL, g.Owner, g.Repo, commit)

	body := chttp.JSON{Payload: map[string]string{
		"state":       stateToGitHub(state),
		"description": description,
		"context":     "chaotic-manager/" + pkgbase,
	}}
	buf, err := body.ToBody()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", body.ContentType())
	req.Header.Set("Authorization", "token "+g.Token)

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("github status post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		text, _ := chttp.NewBody(resp.Body).ToString()
		return fmt.Errorf("github status post: unexpected status %d: %s", resp.StatusCode, text)
	}
	return nil
}
