// Package notify delivers out-of-band escalations to a human operator over
// Slack and reports their acknowledgments back to the resolver.
package notify

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/jonathan/job-applier/internal/challenge"
)

// ackReactions are the emoji an operator adds to mark a challenge solved.
var ackReactions = map[string]bool{
	"white_check_mark": true,
	"heavy_check_mark": true,
	"+1":               true,
	"done":             true,
}

// SlackNotifier implements challenge.Notifier over a Slack channel. One
// message is posted per escalation; acknowledgment is a reaction on that
// message.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger

	mu       sync.Mutex
	messages map[string]string // challenge ID -> message timestamp
}

var _ challenge.Notifier = (*SlackNotifier)(nil)

func NewSlackNotifier(token, channel string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{
		client:   slack.New(token),
		channel:  channel,
		logger:   logger,
		messages: make(map[string]string),
	}
}

// Escalate posts the challenge context to the operator channel, attaching
// the page snapshot when one was captured.
func (n *SlackNotifier) Escalate(ctx context.Context, e challenge.Escalation) error {
	text := fmt.Sprintf(
		":lock: *Human verification needed*\n*Job:* %s at %s\n*Challenge:* %s\n*Page:* %s\nReact with :white_check_mark: once solved.",
		orDash(e.JobTitle), orDash(e.Company), e.Challenge.Type, e.Challenge.PageURL,
	)

	_, ts, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("failed to post escalation to %s: %w", n.channel, err)
	}

	n.mu.Lock()
	n.messages[e.Challenge.ID] = ts
	n.mu.Unlock()

	if e.SnapshotPath != "" {
		err := n.uploadSnapshot(ctx, e.SnapshotPath, ts)
		if err != nil {
			// The text message already went out; a lost snapshot is not
			// worth failing the escalation over.
			n.logger.Warn("failed to upload challenge snapshot",
				zap.String("challenge_id", e.Challenge.ID), zap.Error(err))
		}
	}

	n.logger.Info("escalation posted",
		zap.String("challenge_id", e.Challenge.ID),
		zap.String("channel", n.channel))
	return nil
}

// Acknowledged reports whether the operator reacted to the escalation
// message with a solved marker.
func (n *SlackNotifier) Acknowledged(ctx context.Context, challengeID string) (bool, error) {
	n.mu.Lock()
	ts, ok := n.messages[challengeID]
	n.mu.Unlock()
	if !ok {
		return false, nil
	}

	reactions, err := n.client.GetReactionsContext(ctx,
		slack.ItemRef{Channel: n.channel, Timestamp: ts},
		slack.GetReactionsParameters{})
	if err != nil {
		return false, fmt.Errorf("failed to read reactions: %w", err)
	}

	for _, r := range reactions {
		if ackReactions[r.Name] && r.Count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// uploadSnapshot threads the page snapshot under the escalation message.
// The upload API needs the byte size up front.
func (n *SlackNotifier) uploadSnapshot(ctx context.Context, path, threadTS string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat snapshot %s: %w", path, err)
	}
	_, err = n.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:         n.channel,
		File:            path,
		FileSize:        int(info.Size()),
		Filename:        "challenge.png",
		Title:           "Challenge snapshot",
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
