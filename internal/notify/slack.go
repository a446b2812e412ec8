package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"zipsea-sync-api/internal/model"
)

// SlackNotifier posts sync run summaries to a Slack incoming webhook.
// An empty webhook URL disables it. Delivery failures are logged and
// swallowed; notifications never affect the pipeline.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a Slack notifier for the given webhook URL.
func NewSlackNotifier(webhookURL string, timeout time.Duration) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *SlackNotifier) Enabled() bool { return n.webhookURL != "" }

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NotifyRunSummary posts a finished pass's summary.
func (n *SlackNotifier) NotifyRunSummary(ctx context.Context, scopeKey string, summary model.RunSummary) {
	if !n.Enabled() {
		return
	}

	headline := fmt.Sprintf("Pricing sync finished for %s", scopeKey)
	if len(summary.Errors) > 0 {
		headline = fmt.Sprintf("Pricing sync for %s finished with errors", scopeKey)
	}

	detail := fmt.Sprintf(
		"*Processed:* %d\n*Created:* %d\n*Updated:* %d\n*Deactivated:* %d\n*Failed:* %d\n*Duration:* %dms",
		summary.Processed, summary.Created, summary.Updated,
		summary.Deactivated, summary.Failed, summary.DurationMS,
	)

	msg := slackMessage{
		Text: headline,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: headline}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: detail}},
		},
	}
	if len(summary.Errors) > 0 {
		shown := summary.Errors
		if len(shown) > 5 {
			shown = shown[:5]
		}
		errText := ""
		for _, e := range shown {
			errText += "• " + e + "\n"
		}
		if rest := len(summary.Errors) - len(shown); rest > 0 {
			errText += fmt.Sprintf("…and %d more", rest)
		}
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: errText},
		})
	}

	if err := n.post(ctx, msg); err != nil {
		log.Printf("[SlackNotifier] Failed to deliver summary for %s: %v", scopeKey, err)
	}
}

func (n *SlackNotifier) post(ctx context.Context, msg slackMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack responded with status %d", resp.StatusCode)
	}
	return nil
}
