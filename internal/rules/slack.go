package rules

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/vigilo/vigilo/internal/database"
)

// SlackNotifier posts fired alerts to a Slack channel
type SlackNotifier struct {
	client         *slack.Client
	defaultChannel string
}

// NewSlackNotifier creates a notifier from a bot token
func NewSlackNotifier(botToken, defaultChannel string) *SlackNotifier {
	return &SlackNotifier{
		client:         slack.New(botToken),
		defaultChannel: defaultChannel,
	}
}

// Notify posts the alert text to the channel (falling back to the
// configured default channel when empty)
func (n *SlackNotifier) Notify(channel, text string) error {
	if channel == "" || channel == "default" {
		channel = n.defaultChannel
	}
	_, _, err := n.client.PostMessage(channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("post to %s: %w", channel, err)
	}
	return nil
}

// formatSlackAlert renders a fired rule as a Slack message
func formatSlackAlert(ruleName string, event *database.SemanticEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s*\n", ruleName)
	fmt.Fprintf(&b, "*Camera:* %s\n", event.SourceName)
	fmt.Fprintf(&b, "*Time:* %s\n", event.Timestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "*Description:* %s", event.Description)
	if len(event.Categories) > 0 {
		fmt.Fprintf(&b, "\n*Detected:* %s", strings.Join(event.Categories, ", "))
	}
	if event.Confidence > 0 {
		fmt.Fprintf(&b, " (%d%% confidence)", event.Confidence)
	}
	return b.String()
}
