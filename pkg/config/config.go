// Package config loads and validates the ./.env.json configuration file.
// Teams whose configuration fails validation are excluded before the
// runtime core ever sees them; if every configured team fails validation,
// loading the file itself is a fatal error.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

var (
	appTokenShape   = regexp.MustCompile(`^xapp-1-[A-Za-z0-9-]+$`)
	botTokenShape   = regexp.MustCompile(`^xoxb-[A-Za-z0-9-]+$`)
	channelIDShape  = regexp.MustCompile(`^C[A-Z0-9]{10}$`)
	keywordSpecForm = regexp.MustCompile(`^/.*/[gimuy]*$`)
)

// TeamConfig is one team's credentials and subscribed channels.
type TeamConfig struct {
	AppToken string   `json:"appToken"`
	BotToken string   `json:"botToken"`
	Channels []string `json:"channels"`
}

// HandlerConfig configures a single built-in handler.
type HandlerConfig struct {
	Enabled bool   `json:"enabled"`
	Command string `json:"command,omitempty"`
}

// HandlersConfig is the optional "handlers" section of the config file.
type HandlersConfig struct {
	Console      HandlerConfig `json:"console"`
	Notification HandlerConfig `json:"notification"`
	Speech       HandlerConfig `json:"speech"`
}

// HighlightConfig is the optional "highlight" section of the config file.
type HighlightConfig struct {
	Keywords []string `json:"keywords"`
}

// Config is the fully validated, typed configuration consumed by the core.
// Teams is already filtered down to shape-valid entries; see DroppedTeam
// for the ones that were excluded.
type Config struct {
	Teams     map[string]TeamConfig `json:"teams"`
	Handlers  HandlersConfig        `json:"handlers"`
	Highlight HighlightConfig       `json:"highlight"`
}

// DroppedTeam names a team excluded from Config.Teams and why.
type DroppedTeam struct {
	Name   string
	Reason string
}

type rawConfig struct {
	Teams     map[string]TeamConfig `json:"teams"`
	Handlers  *HandlersConfig       `json:"handlers"`
	Highlight *HighlightConfig      `json:"highlight"`
}

// Load reads, parses, and validates the configuration file at path.
// Individual teams that fail their shape checks are dropped and returned
// in the second value rather than failing the whole load; if the
// resulting team set would be empty, Load returns a fatal error instead.
func Load(path string) (*Config, []DroppedTeam, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if len(raw.Teams) == 0 {
		return nil, nil, fmt.Errorf("config: %q must declare a non-empty \"teams\" mapping", path)
	}

	valid := make(map[string]TeamConfig, len(raw.Teams))
	var dropped []DroppedTeam
	for name, team := range raw.Teams {
		if err := validateTeam(name, team); err != nil {
			dropped = append(dropped, DroppedTeam{Name: name, Reason: err.Error()})
			continue
		}
		valid[name] = team
	}

	if len(valid) == 0 {
		return nil, dropped, fmt.Errorf("config: no team in %s passed validation", path)
	}

	cfg := &Config{Teams: valid, Handlers: HandlersConfig{Console: HandlerConfig{Enabled: true}}}

	if raw.Handlers != nil {
		cfg.Handlers = *raw.Handlers
	}
	if raw.Highlight != nil {
		if err := validateHighlight(*raw.Highlight); err != nil {
			return nil, dropped, err
		}
		cfg.Highlight = *raw.Highlight
	}

	return cfg, dropped, nil
}

func validateTeam(name string, team TeamConfig) error {
	if !appTokenShape.MatchString(team.AppToken) {
		return fmt.Errorf("team %q: appToken has invalid shape", name)
	}
	if !botTokenShape.MatchString(team.BotToken) {
		return fmt.Errorf("team %q: botToken has invalid shape", name)
	}
	if len(team.Channels) == 0 {
		return fmt.Errorf("team %q: channels must be non-empty", name)
	}
	for _, ch := range team.Channels {
		if !channelIDShape.MatchString(ch) {
			return fmt.Errorf("team %q: channel %q has invalid shape", name, ch)
		}
	}
	return nil
}

func validateHighlight(h HighlightConfig) error {
	for _, spec := range h.Keywords {
		if !keywordSpecForm.MatchString(spec) {
			return fmt.Errorf("config: highlight keyword %q must be in /pattern/flags form", spec)
		}
	}
	return nil
}
