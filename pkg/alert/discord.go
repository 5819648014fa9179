package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	colorInfo    = 0xFF6600
	colorWarning = 0xE0B000
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
	now        func() time.Time
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		now:        time.Now,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	var links []string
	for _, l := range n.topLinks(5) {
		links = append(links, fmt.Sprintf("• [%s](%s) [%s]", l.Title, l.URL, l.Label))
	}

	color := colorInfo
	if n.Level == LevelWarning {
		color = colorWarning
	}
	description := n.Body
	if len(links) > 0 {
		description += "\n\n" + strings.Join(links, "\n")
	}
	embed := map[string]any{
		"title":       fmt.Sprintf("%s %s", n.icon(), n.Title),
		"description": description,
		"color":       color,
		"timestamp":   d.now().UTC().Format(time.RFC3339),
	}
	if n.RunID != "" {
		embed["footer"] = map[string]any{"text": "run " + n.RunID}
	}

	payload := map[string]any{
		"embeds": []map[string]any{embed},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook status %d", resp.StatusCode)
	}

	return nil
}
