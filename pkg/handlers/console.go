// Package handlers contains the built-in message-pipeline sinks:
// console, notification, and speech.
package handlers

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/uzulla/slagg/pkg/highlight"
	"github.com/uzulla/slagg/pkg/message"
)

const (
	ansiRedBold = "\x1b[1;31m"
	ansiReset   = "\x1b[0m"
)

// Console formats each message as "{team}/{channel}/{user} > {text}" and
// writes it to Out, one line per message. If Matcher is non-nil, lines
// whose original text matches any highlight pattern are wrapped in
// red-bold ANSI escapes.
type Console struct {
	mu      sync.Mutex
	Out     io.Writer
	Matcher *highlight.Matcher
	enabled bool
}

// NewConsole returns a Console handler writing to out. enabled controls
// whether Handle performs any work; a disabled Console is still
// registrable, since the handler capability contract is fixed regardless
// of enablement.
func NewConsole(out io.Writer, matcher *highlight.Matcher, enabled bool) *Console {
	return &Console{Out: out, Matcher: matcher, enabled: enabled}
}

func (c *Console) Name() string  { return "console" }
func (c *Console) Enabled() bool { return c.enabled }

// Handle renders and writes one message line. Writes of a single formatted
// line are serialized so concurrent handler executions never interleave
// mid-line.
func (c *Console) Handle(ctx context.Context, m message.Message) error {
	if !c.enabled {
		return nil
	}

	text := m.Text
	rendered := fmt.Sprintf("%s/%s/%s > %s", m.TeamName, m.ChannelDisplayName, m.UserDisplayName, collapse(sanitize(text)))

	if c.matches(text) {
		rendered = ansiRedBold + rendered + ansiReset
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.Out, rendered)
	return err
}

// matches calls the highlight matcher on the original, untransformed text
// and fails soft: a panic from a pathological pattern is treated as "no
// match" rather than aborting the render.
func (c *Console) matches(text string) (matched bool) {
	if c.Matcher == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return c.Matcher.MatchesAny(text)
}

// sanitize drops unprintable ASCII control bytes, preserving \t, \n, and \r.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isDroppedControl(c) {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isDroppedControl(c byte) bool {
	switch {
	case c >= 0x00 && c <= 0x08:
		return true
	case c == 0x0B || c == 0x0C:
		return true
	case c >= 0x0E && c <= 0x1F:
		return true
	case c == 0x7F:
		return true
	default:
		return false
	}
}

// collapse replaces \r?\n with a single space, collapses runs of
// whitespace to one space, and trims the ends.
func collapse(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")

	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range s {
		if isWhitespace(r) {
			if !lastWasSpace {
				b.WriteByte(' ')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func isWhitespace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}
