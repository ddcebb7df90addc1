// Package highlight implements the keyword matcher that the console
// handler consults at render time.
package highlight

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var specShape = regexp.MustCompile(`^/(.*)/([gimuy]*)$`)

// BadKeyword is returned when a keyword specification cannot be parsed or
// compiled.
type BadKeyword struct {
	Spec   string
	Reason string
}

func (e *BadKeyword) Error() string {
	return fmt.Sprintf("bad keyword %q: %s", e.Spec, e.Reason)
}

// Matcher holds a parallel pair of pattern source strings and their
// compiled predicates. The two lists always have equal length; a
// successfully added pattern appears in both, a rejected one in neither.
type Matcher struct {
	mu       sync.RWMutex
	sources  []string
	compiled []*regexp.Regexp
}

// New builds a Matcher from an initial keyword list. If any spec in the
// list fails to parse or compile, construction fails and no partially
// initialized Matcher is returned.
func New(specs []string) (*Matcher, error) {
	m := &Matcher{}
	for _, spec := range specs {
		if err := m.AddKeyword(spec); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddKeyword compiles spec and appends it atomically. On failure neither
// the source list nor the compiled list changes.
func (m *Matcher) AddKeyword(spec string) error {
	re, err := compile(spec)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, spec)
	m.compiled = append(m.compiled, re)
	return nil
}

func compile(spec string) (*regexp.Regexp, error) {
	match := specShape.FindStringSubmatch(spec)
	if match == nil {
		return nil, &BadKeyword{Spec: spec, Reason: "must be in /pattern/flags form"}
	}

	pattern, flags := match[1], match[2]
	goPattern := pattern
	if inline := toGoFlags(flags); inline != "" {
		goPattern = "(?" + inline + ")" + pattern
	}

	re, err := regexp.Compile(goPattern)
	if err != nil {
		return nil, &BadKeyword{Spec: spec, Reason: "compile failed: " + err.Error()}
	}
	return re, nil
}

// toGoFlags maps the JS-style /pattern/flags flag letters onto the subset
// Go's regexp inline-flag syntax supports (i, s, m); g, u, y have no Go
// regexp equivalent and are accepted but ignored, since only MatchesAny
// semantics are required, not global/unicode/sticky iteration.
func toGoFlags(flags string) string {
	var b strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			b.WriteRune(f)
		}
	}
	return b.String()
}

// RemoveKeyword removes one occurrence of spec, returning whether it did.
func (m *Matcher) RemoveKeyword(spec string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.sources {
		if s == spec {
			m.sources = append(m.sources[:i], m.sources[i+1:]...)
			m.compiled = append(m.compiled[:i], m.compiled[i+1:]...)
			return true
		}
	}
	return false
}

// GetKeywords returns a defensive copy of the current pattern sources.
func (m *Matcher) GetKeywords() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.sources))
	copy(out, m.sources)
	return out
}

// MatchesAny short-circuits on the first compiled predicate that matches
// text. A nil Matcher fails soft and matches nothing.
func (m *Matcher) MatchesAny(text string) bool {
	if m == nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, re := range m.compiled {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
