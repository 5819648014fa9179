package alert

import (
	"context"
	"errors"
	"fmt"
)

// Level grades a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Link is one item referenced by a notification.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// Notification is the data sent to alert destinations.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Level Level  `json:"level"`
	RunID string `json:"run_id,omitempty"`
	Links []Link `json:"links,omitempty"`
}

func (n *Notification) icon() string {
	if n.Level == LevelWarning {
		return "⚠️"
	}
	return "🔥"
}

// topLinks returns at most limit links.
func (n *Notification) topLinks(limit int) []Link {
	if len(n.Links) < limit {
		limit = len(n.Links)
	}
	return n.Links[:limit]
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}
