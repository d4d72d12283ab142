package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	chttp "github.com/chaotic-cx/chaotic-manager-sub000/http"
)

// Deployment is the completion-handler notification channel distinct from
// the per-repo commit-status Notifier: it posts a human-facing message
// about a successful or failed build to a Telegram chat, regardless of
// which source repo produced it.
type Deployment interface {
	DeploymentSuccess(ctx context.Context, pkgbase, node, commit string, packages []string) error
	DeploymentFailure(ctx context.Context, pkgbase, node string, reason string) error
	SoftwareFailure(ctx context.Context, pkgbase, node string, reason string) error
}

type noopDeployment struct{}

func (noopDeployment) DeploymentSuccess(context.Context, string, string, string, []string) error {
	return nil
}
func (noopDeployment) DeploymentFailure(context.Context, string, string, string) error { return nil }
func (noopDeployment) SoftwareFailure(context.Context, string, string, string) error   { return nil }

// NoDeployment is the null-object used when TELEGRAM_BOT_TOKEN is unset.
var NoDeployment Deployment = noopDeployment{}

// Telegram posts deployment notifications to a chat via the Bot API.
type Telegram struct {
	Client   *http.Client
	BotToken string
	ChatID   string
}

func (t *Telegram) send(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)
	body := chttp.JSON{Payload: map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
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

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		text, _ := chttp.NewBody(resp.Body).ToString()
		return fmt.Errorf("telegram sendMessage: unexpected status %d: %s", resp.StatusCode, text)
	}
	return nil
}

func (t *Telegram) DeploymentSuccess(ctx context.Context, pkgbase, node, commit string, packages []string) error {
	return t.send(ctx, fmt.Sprintf("✅ *%s* built on `%s`\ncommit: `%s`\npackages: %s",
		pkgbase, node, commit, strings.Join(packages, ", ")))
}

func (t *Telegram) DeploymentFailure(ctx context.Context, pkgbase, node, reason string) error {
	return t.send(ctx, fmt.Sprintf("❌ *%s* failed on `%s`\n%s", pkgbase, node, reason))
}

func (t *Telegram) SoftwareFailure(ctx context.Context, pkgbase, node, reason string) error {
	return t.send(ctx, fmt.Sprintf("⚠️ software failure building *%s* on `%s`\n%s", pkgbase, node, reason))
}
