package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const slackTimeout = 10 * time.Second

// SlackNotifier posts run summaries to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is an incoming-webhook payload. Text is the fallback shown in
// push notifications; the attachment carries the colored run details.
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment is a colored group of blocks
type SlackAttachment struct {
	Color  string       `json:"color"`
	Blocks []SlackBlock `json:"blocks"`
}

// SlackBlock is a Block Kit section or context block
type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

// SlackText is a Block Kit text object
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewSlackNotifier creates a notifier for webhookURL; an empty URL disables it
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: slackTimeout},
	}
}

// SlackColor returns the attachment color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

func mrkdwn(text string) SlackText {
	return SlackText{Type: "mrkdwn", Text: text}
}

// BuildSlackMessage converts a notification into a webhook payload: the
// per-agent lines as a code block, one section listing the pull requests and
// a context line naming the run
func BuildSlackMessage(n Notification) SlackMessage {
	var blocks []SlackBlock
	if n.Message != "" {
		text := mrkdwn("```" + n.Message + "```")
		blocks = append(blocks, SlackBlock{Type: "section", Text: &text})
	}
	if len(n.PRURLs) > 0 {
		links := make([]string, len(n.PRURLs))
		for i, url := range n.PRURLs {
			links[i] = "• <" + url + ">"
		}
		text := mrkdwn("*Pull requests*\n" + strings.Join(links, "\n"))
		blocks = append(blocks, SlackBlock{Type: "section", Text: &text})
	}
	footer := "ob1"
	if n.RunID != "" {
		footer += " · run `" + n.RunID + "`"
	}
	blocks = append(blocks, SlackBlock{Type: "context", Elements: []SlackText{mrkdwn(footer)}})

	return SlackMessage{
		Text:        n.Title,
		Attachments: []SlackAttachment{{Color: SlackColor(n.Type), Blocks: blocks}},
	}
}

// Send posts the notification. A disabled notifier does nothing.
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(BuildSlackMessage(n))
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), slackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %s", resp.Status)
	}
	return nil
}
