package notify

import (
	"context"
	"fmt"
	"net/http"
)

// discordContentLimit is the webhook message length limit.
const discordContentLimit = 2000

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "equitybot",
		client:     defaultClient(),
	}
}

// Send posts the title in bold followed by the message. Discord answers 204
// on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := fmt.Sprintf("**%s**\n%s", title, message)
	if len(content) > discordContentLimit {
		content = content[:discordContentLimit-3] + "..."
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]string{
		"content":  content,
		"username": d.username,
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
