// Package notifier tells humans about ingestion runs that had failing feeds.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/hive-corporation/ctiwatch/internal/adapter/httpclient"
	"github.com/hive-corporation/ctiwatch/internal/core/domain"
	"github.com/hive-corporation/ctiwatch/internal/core/ports"
)

// Up to 10 failed feeds are listed in one message
const maxFailuresSlack = 10

// SlackNotifier posts run failures to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     httpclient.Doer
}

var _ ports.RunNotifier = (*SlackNotifier)(nil)

func NewSlackNotifier(webhookURL string, client httpclient.Doer) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client}
}

func (s *SlackNotifier) NotifyRun(ctx context.Context, report domain.RunReport) error {
	if s.webhookURL == "" {
		return domain.ErrNotConfigured
	}
	failed := report.FailedSources()
	if len(failed) == 0 {
		return nil
	}

	msg := buildRunMessage(report, failed)
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func buildRunMessage(report domain.RunReport, failed []domain.AdapterResult) *slack.WebhookMessage {
	text := fmt.Sprintf(":warning: Ingestion run finished with %d failed feed(s): %d new, %d duplicates in %s",
		len(failed), report.TotalNew(), report.TotalDuplicates(), report.Duration().Round(time.Second))

	attachments := make([]slack.Attachment, 0, len(failed)+1)
	for i, res := range failed {
		if i >= maxFailuresSlack {
			attachments = append(attachments, slack.Attachment{
				Color: "warning",
				Text:  fmt.Sprintf("...and %d more", len(failed)-maxFailuresSlack),
			})
			break
		}
		attachments = append(attachments, slack.Attachment{
			Color: "danger",
			Title: res.Source,
			Fields: []slack.AttachmentField{
				{Title: "Status", Value: string(res.Status), Short: true},
				{Title: "Duration", Value: res.Duration.Round(time.Millisecond).String(), Short: true},
				{Title: "Error", Value: res.Error},
			},
		})
	}

	return &slack.WebhookMessage{
		Text:        text,
		Attachments: attachments,
	}
}
