package handlers

import (
	"context"

	"github.com/uzulla/slagg/pkg/message"
)

// Notification is a disabled-by-default placeholder sink. It exists so the
// pipeline can be exercised with multiple handlers; its body carries no
// side effects.
type Notification struct {
	enabled bool
}

// NewNotification returns a Notification handler. enabled defaults to
// false unless explicitly turned on in config.
func NewNotification(enabled bool) *Notification {
	return &Notification{enabled: enabled}
}

func (n *Notification) Name() string  { return "notification" }
func (n *Notification) Enabled() bool { return n.enabled }

func (n *Notification) Handle(ctx context.Context, m message.Message) error {
	if !n.enabled {
		return nil
	}
	return nil
}
