package handlers

import (
	"context"

	"github.com/uzulla/slagg/pkg/message"
)

const defaultSpeechCommand = "say"

// Speech is a disabled-by-default placeholder sink carrying a configurable
// command string. Its body carries no side effects; the core's
// correctness does not depend on it.
type Speech struct {
	enabled bool
	command string
}

// NewSpeech returns a Speech handler. An empty command falls back to the
// default "say".
func NewSpeech(enabled bool, command string) *Speech {
	if command == "" {
		command = defaultSpeechCommand
	}
	return &Speech{enabled: enabled, command: command}
}

func (s *Speech) Name() string    { return "speech" }
func (s *Speech) Enabled() bool   { return s.enabled }
func (s *Speech) Command() string { return s.command }

func (s *Speech) Handle(ctx context.Context, m message.Message) error {
	if !s.enabled {
		return nil
	}
	return nil
}
