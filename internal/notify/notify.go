// Package notify tells the operator that a run has finished.
package notify

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/ob1/internal/config"
	"github.com/hochfrequenz/ob1/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string   // Optional run reference
	PRURLs  []string // Pull requests opened by the run
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// FromConfig builds the notifier for the configured channels
func FromConfig(cfg config.NotificationsConfig) Notifier {
	var notifiers []Notifier
	if cfg.Desktop {
		notifiers = append(notifiers, NewDesktopNotifier(true))
	}
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, NewSlackNotifier(cfg.SlackWebhook))
	}
	if len(notifiers) == 0 {
		return NoopNotifier{}
	}
	return NewMultiNotifier(notifiers...)
}

// RunFinished summarizes a finished run
func RunFinished(run *domain.Run, outcomes []domain.Outcome) Notification {
	var succeeded int
	var lines, urls []string
	for _, out := range outcomes {
		if out.Succeeded() {
			succeeded++
		}
		lines = append(lines, out.String())
		if out.PRURL != "" {
			urls = append(urls, out.PRURL)
		}
	}

	typ := NotifySuccess
	switch {
	case len(outcomes) == 0:
		typ = NotifyInfo
	case succeeded == 0:
		typ = NotifyError
	case succeeded < len(outcomes):
		typ = NotifyWarning
	}

	return Notification{
		Title:   fmt.Sprintf("ob1 run %s: %d/%d agents succeeded", run.ID, succeeded, len(outcomes)),
		Message: strings.Join(lines, "\n"),
		Type:    typ,
		RunID:   run.ID,
		PRURLs:  urls,
	}
}
