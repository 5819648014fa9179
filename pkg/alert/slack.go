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

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	// Text is the fallback shown in push notifications.
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func mrkdwn(text string) slackText { return slackText{Type: "mrkdwn", Text: text} }

// newSlackMessage lays out n as a title, the body, a level/run field pair and
// a bulleted list of the leading links.
func newSlackMessage(n *Notification) slackMessage {
	title := n.icon() + " " + n.Title
	msg := slackMessage{Text: title}
	msg.Blocks = append(msg.Blocks,
		slackBlock{Type: "header", Text: &slackText{Type: "plain_text", Text: title}},
		slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: n.Body}},
	)

	fields := []slackText{mrkdwn("*Level*\n" + string(n.Level))}
	if n.RunID != "" {
		fields = append(fields, mrkdwn("*Run*\n`"+n.RunID+"`"))
	}
	msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Fields: fields})

	if links := n.topLinks(5); len(links) > 0 {
		var b strings.Builder
		for _, l := range links {
			fmt.Fprintf(&b, "• <%s|%s>", l.URL, l.Title)
			if l.Label != "" {
				fmt.Fprintf(&b, " _%s_", l.Label)
			}
			b.WriteByte('\n')
		}
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: strings.TrimSuffix(b.String(), "\n")}})
	}
	return msg
}

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(newSlackMessage(n))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}

	return nil
}
