package messenger

import "context"

// MessageID uniquely identifies a message within a messenger platform.
type MessageID string

// Severity tags an operational alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityResolved Severity = "resolved"
)

// Field is a labelled value shown alongside an alert.
type Field struct {
	Label string
	Value string
}

// Alert is an operational notification for the on-call channel.
type Alert struct {
	Severity Severity
	Title    string
	Text     string
	Fields   []Field
}

// Messenger abstracts communication with a chat platform.
type Messenger interface {
	// SendMessage posts a plain text message to a channel and returns its platform message ID.
	SendMessage(ctx context.Context, channelID, text string) (MessageID, error)

	// SendAlert posts a formatted alert to a channel.
	SendAlert(ctx context.Context, channelID string, alert Alert) (MessageID, error)

	// Platform returns the messenger platform identifier (e.g. "slack").
	Platform() string
}
