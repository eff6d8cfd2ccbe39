// Package slack sends run notifications to Slack via incoming webhooks.
package slack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/slack-go/slack"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/signaltrace/internal/scoring"
	"github.com/linnemanlabs/signaltrace/internal/triage"
)

const (
	maxHeaderLen  = 150
	maxSectionLen = 3000
	maxIncidents  = 5
	maxTries      = 3
	httpTimeout   = 10 * time.Second
)

// Option configures a Notifier.
type Option func(*Notifier)

// WithMinPriority sets the lowest priority that triggers a notification.
func WithMinPriority(p scoring.Priority) Option {
	return func(n *Notifier) { n.minPriority = p }
}

// WithHTTPClient overrides the webhook HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

// WithBackOff overrides the retry schedule. newBackOff is called once per
// delivery.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(n *Notifier) {
		if newBackOff != nil {
			n.newBackOff = newBackOff
		}
	}
}

// Notifier posts run summaries to a Slack webhook.
type Notifier struct {
	webhookURL  string
	client      *http.Client
	minPriority scoring.Priority
	newBackOff  func() backoff.BackOff
	logger      log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	n := &Notifier{
		webhookURL:  webhookURL,
		client:      &http.Client{Timeout: httpTimeout},
		minPriority: scoring.P1,
		newBackOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:      logger,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Notify posts a summary of run when at least one incident reaches the
// minimum priority. Delivery is retried; 4xx responses other than 429 are
// not.
func (n *Notifier) Notify(ctx context.Context, run *triage.Run, incidents []*triage.Incident) error {
	if n.webhookURL == "" {
		return nil
	}
	top := n.qualifying(incidents)
	if len(top) == 0 {
		return nil
	}

	msg := buildMessage(run, incidents, top)

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, n.post(ctx, msg)
	},
		backoff.WithBackOff(n.newBackOff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			n.logger.Warn(ctx, "slack delivery failed, retrying",
				"run_id", run.ID,
				"attempt", attempt,
				"retry_in", next.String(),
				"err", err,
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}

	n.logger.Info(ctx, "slack notification sent", "run_id", run.ID, "incidents", len(top), "attempts", attempt)
	return nil
}

func (n *Notifier) post(ctx context.Context, msg *slack.WebhookMessage) error {
	//nolint:gosec // G704: webhookURL is from trusted config, not user input
	err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg)
	if err == nil {
		return nil
	}

	var rl *slack.RateLimitedError
	if errors.As(err, &rl) {
		return backoff.RetryAfter(int(rl.RetryAfter.Seconds()))
	}
	var sce slack.StatusCodeError
	if errors.As(err, &sce) && sce.Code >= 400 && sce.Code < 500 && sce.Code != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

// qualifying returns incidents at or above the minimum priority, in rank
// order, capped at maxIncidents.
func (n *Notifier) qualifying(incidents []*triage.Incident) []*triage.Incident {
	var out []*triage.Incident
	for _, inc := range incidents {
		if inc.Priority.AtLeast(n.minPriority) {
			out = append(out, inc)
			if len(out) == maxIncidents {
				break
			}
		}
	}
	return out
}

func buildMessage(run *triage.Run, all, top []*triage.Incident) *slack.WebhookMessage {
	counts := priorityCounts(all)

	blocks := []slack.Block{
		headerBlock(run, top[0]),
		summaryBlock(run, counts),
		slack.NewDividerBlock(),
	}
	for _, inc := range top {
		blocks = append(blocks, incidentBlock(inc))
	}
	blocks = append(blocks, slack.NewDividerBlock(), contextBlock(run))

	return &slack.WebhookMessage{
		Text:   fallbackText(run, counts),
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func headerBlock(run *triage.Run, first *triage.Incident) *slack.HeaderBlock {
	text := fmt.Sprintf("%s %d incidents in %s", priorityEmoji(first.Priority), run.NumIncidents, run.Filename)
	return slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(text, maxHeaderLen), true, false))
}

func summaryBlock(run *triage.Run, counts map[scoring.Priority]int) *slack.SectionBlock {
	fields := []*slack.TextBlockObject{
		mrkdwn(fmt.Sprintf("*Lines:* %d", run.NumLines)),
		mrkdwn(fmt.Sprintf("*Incidents:* %d", run.NumIncidents)),
		mrkdwn(fmt.Sprintf("*P0 / P1:* %d / %d", counts[scoring.P0], counts[scoring.P1])),
		mrkdwn(fmt.Sprintf("*Source:* %s", run.Source)),
	}
	return slack.NewSectionBlock(nil, fields, nil)
}

func incidentBlock(inc *triage.Incident) *slack.SectionBlock {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* #%d  %s\n", priorityEmoji(inc.Priority), inc.Priority, inc.Rank, inc.Title)
	fmt.Fprintf(&b, "%s x%d in %s (score %.2f)", inc.Severity, inc.Count, strings.Join(inc.Services, ", "), inc.Score)
	if inc.Explanation != nil && inc.Explanation.WhatHappened != "" {
		fmt.Fprintf(&b, "\n>%s", inc.Explanation.WhatHappened)
	}
	return slack.NewSectionBlock(mrkdwn(truncate(b.String(), maxSectionLen)), nil, nil)
}

func contextBlock(run *triage.Run) *slack.ContextBlock {
	text := fmt.Sprintf("signaltrace • run %s • %s", run.ID, run.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	return slack.NewContextBlock("", mrkdwn(text))
}

func fallbackText(run *triage.Run, counts map[scoring.Priority]int) string {
	return fmt.Sprintf("signaltrace: %d incidents in %s (P0: %d, P1: %d)",
		run.NumIncidents, run.Filename, counts[scoring.P0], counts[scoring.P1])
}

func priorityCounts(incidents []*triage.Incident) map[scoring.Priority]int {
	counts := make(map[scoring.Priority]int)
	for _, inc := range incidents {
		counts[inc.Priority]++
	}
	return counts
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func priorityEmoji(p scoring.Priority) string {
	switch p {
	case scoring.P0:
		return "\U0001f534" // red circle
	case scoring.P1:
		return "\U0001f7e0" // orange circle
	case scoring.P2:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

var _ triage.Notifier = (*Notifier)(nil)
