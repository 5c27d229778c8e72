// Package notify posts config refresh outcomes to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/csmportal/internal/jobmon"
	"go.uber.org/zap"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// Event is a portal event formatted for display in chat.
type Event struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "error", "success"
	Color    string
	Fields   []Field
}

// Field is a key-value pair displayed in an event attachment.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Notifier delivers an event to one platform.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

func stateSeverity(s jobmon.State) string {
	switch s {
	case jobmon.Completed:
		return "success"
	case jobmon.Errored:
		return "error"
	case jobmon.TimedOut:
		return "warning"
	default:
		return "info"
	}
}

// FormatJobEvent formats a terminal job update.
func FormatJobEvent(customerID, customerName string, u jobmon.Update) Event {
	who := customerID
	if customerName != "" {
		who = fmt.Sprintf("%s (%s)", customerName, customerID)
	}
	severity := stateSeverity(u.State)
	evt := Event{
		Title:    fmt.Sprintf("Config refresh %s for %s", u.State, who),
		Body:     u.Message,
		Severity: severity,
		Color:    severityColor(severity),
		Fields: []Field{
			{Name: "Progress", Value: fmt.Sprintf("%.0f%%", u.Progress*100), Short: true},
			{Name: "Elapsed", Value: u.Elapsed.Round(time.Second).String(), Short: true},
		},
	}
	if u.Raw != "" {
		evt.Fields = append(evt.Fields, Field{Name: "Backend status", Value: u.Raw})
	}
	return evt
}

// Multi fans an event out to several notifiers. One platform failing does
// not stop the others; failures are joined.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a Multi. Nil notifiers are skipped.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of configured notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

// Notify sends evt to every notifier.
func (m *Multi) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JobHook returns a job monitor finish callback that posts the outcome.
// Cancelled jobs are not announced since the operator stopped them. The job
// goroutine has no request context, so delivery gets its own timeout.
func JobHook(n Notifier, timeout time.Duration, logger *zap.Logger) func(string, string, jobmon.Update) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(customerID, customerName string, final jobmon.Update) {
		if final.State == jobmon.Cancelled {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := n.Notify(ctx, FormatJobEvent(customerID, customerName, final)); err != nil {
			logger.Warn("job notification failed",
				zap.String("customer_id", customerID),
				zap.Stringer("state", final.State),
				zap.Error(err))
		}
	}
}
