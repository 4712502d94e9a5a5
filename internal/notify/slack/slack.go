// Package slack sends group-formation notifications to Slack via incoming
// webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/beacon/internal/casework"
)

const httpTimeout = 10 * time.Second

// Notifier posts to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, sends are no-ops.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

type message struct {
	Text   string  `json:"text"`
	Blocks []block `json:"blocks,omitempty"`
}

type block struct {
	Type string    `json:"type"`
	Text *textable `json:"text,omitempty"`
}

type textable struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// GroupFormed posts a summary of a newly formed proximity group.
func (n *Notifier) GroupFormed(ctx context.Context, group *casework.CaseGroup, memberIDs []int64) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(group, memberIDs)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(group *casework.CaseGroup, memberIDs []int64) *message {
	headline := fmt.Sprintf("Proximity group %d formed (%d cases)", group.ID, len(memberIDs))
	detail := fmt.Sprintf("*Group %d*: %s\nMember cases: %v\nOpened: %s",
		group.ID, group.Description, memberIDs, group.CreatedAt.Format(time.RFC3339))

	return &message{
		Text: headline,
		Blocks: []block{
			{Type: "header", Text: &textable{Type: "plain_text", Text: headline}},
			{Type: "section", Text: &textable{Type: "mrkdwn", Text: detail}},
		},
	}
}
