package slack

import (
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/gosuda/timeproof/internal/messenger"
)

func severityEmoji(s messenger.Severity) string {
	switch s {
	case messenger.SeverityCritical:
		return ":red_circle:"
	case messenger.SeverityWarning:
		return ":warning:"
	case messenger.SeverityResolved:
		return ":large_green_circle:"
	default:
		return ":information_source:"
	}
}

// AlertFallback renders the one-line text shown where blocks are not.
func AlertFallback(alert messenger.Alert) string {
	return fmt.Sprintf("%s %s", severityEmoji(alert.Severity), alert.Title)
}

// BuildAlertBlocks builds Slack Block Kit blocks for an operational alert:
// a header, the alert text and, if present, a fields section.
func BuildAlertBlocks(alert messenger.Alert) []slacklib.Block {
	header := slacklib.NewHeaderBlock(
		slacklib.NewTextBlockObject(slacklib.PlainTextType, AlertFallback(alert), true, false),
	)
	blocks := []slacklib.Block{header}

	if alert.Text != "" {
		blocks = append(blocks, slacklib.NewSectionBlock(
			slacklib.NewTextBlockObject(slacklib.MarkdownType, alert.Text, false, false),
			nil,
			nil,
		))
	}

	if len(alert.Fields) > 0 {
		fields := make([]*slacklib.TextBlockObject, 0, len(alert.Fields))
		for _, f := range alert.Fields {
			fields = append(fields, slacklib.NewTextBlockObject(
				slacklib.MarkdownType,
				fmt.Sprintf("*%s*\n%s", f.Label, f.Value),
				false,
				false,
			))
		}
		blocks = append(blocks, slacklib.NewSectionBlock(nil, fields, nil))
	}

	return blocks
}
