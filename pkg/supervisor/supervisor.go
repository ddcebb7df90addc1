// Package supervisor owns the fleet of per-team clients: fleet-wide
// initialize, parallel connect with per-team error containment, and
// coordinated shutdown.
package supervisor

import (
	"context"
	"errors"
	"sync"

	"github.com/uzulla/slagg/pkg/config"
	"github.com/uzulla/slagg/pkg/logger"
	"github.com/uzulla/slagg/pkg/message"
	"github.com/uzulla/slagg/pkg/team"
)

var (
	ErrAlreadyInitialized = errors.New("supervisor: already initialized")
	ErrNotInitialized     = errors.New("supervisor: not initialized")
	ErrShuttingDown       = errors.New("supervisor: shutting down")
	ErrNoTeamsConnected   = errors.New("supervisor: no teams connected")
)

// Sink is the capability the Supervisor forwards every accepted Message
// to. *pipeline.Pipeline satisfies this via ProcessMessage.
type Sink interface {
	ProcessMessage(ctx context.Context, m message.Message)
}

type teamRecord struct {
	config config.TeamConfig
	client *team.Client
}

// Supervisor owns the set of Team Clients exclusively, from creation to
// teardown.
type Supervisor struct {
	mu sync.Mutex

	initialized  bool
	shuttingDown bool

	teams        map[string]*teamRecord
	newTransport team.TransportFactory
	sink         Sink
	log          *logger.Logger
}

// New returns an uninitialized Supervisor. newTransport is the factory
// used to build each Team Client's transport; pass team.NewSlackTransport
// in production, a fake in tests.
func New(newTransport team.TransportFactory, log *logger.Logger) *Supervisor {
	return &Supervisor{
		teams:        make(map[string]*teamRecord),
		newTransport: newTransport,
		log:          log,
	}
}

// SetSink stores the pipeline every accepted Message is forwarded to.
func (s *Supervisor) SetSink(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Initialize is single-shot: teamsConfig must be non-empty and every
// entry must already carry valid credentials and a non-empty channel
// list (the loader is expected to have dropped anything short of that).
func (s *Supervisor) Initialize(teamsConfig map[string]config.TeamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}
	if len(teamsConfig) == 0 {
		return errors.New("supervisor: teamsConfig must be non-empty")
	}
	for name, tc := range teamsConfig {
		if tc.AppToken == "" || tc.BotToken == "" || len(tc.Channels) == 0 {
			return errors.New("supervisor: team " + name + " is missing required configuration")
		}
	}

	records := make(map[string]*teamRecord, len(teamsConfig))
	for name, tc := range teamsConfig {
		records[name] = &teamRecord{config: tc}
	}
	s.teams = records
	s.initialized = true
	return nil
}

// ConnectAll creates a Team Client per configured team, wires its sink to
// forward Messages to the pipeline (pipeline errors are caught and
// logged per-team, never propagated to the client), then connects every
// client in parallel and waits for all to settle.
func (s *Supervisor) ConnectAll(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.shuttingDown {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	records := make([]*teamRecord, 0, len(s.teams))
	for name, rec := range s.teams {
		c := team.New(name, rec.config.AppToken, rec.config.BotToken, rec.config.Channels, s.newTransport, s.log)
		c.SetSink(s.forwardToSink(ctx))
		c.SetErrorSink(s.errorSinkFor(name))
		rec.client = c
		records = append(records, rec)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	var succeeded, failed int
	var countMu sync.Mutex

	for _, rec := range records {
		wg.Add(1)
		go func(rec *teamRecord) {
			defer wg.Done()
			err := rec.client.Connect(ctx)
			countMu.Lock()
			defer countMu.Unlock()
			if err != nil {
				failed++
				s.log.ErrorF("supervisor", "team failed to connect", map[string]any{
					"team": rec.client.GetTeamName(), "error": err.Error(),
				})
				return
			}
			succeeded++
		}(rec)
	}
	wg.Wait()

	if succeeded == 0 {
		return ErrNoTeamsConnected
	}
	return nil
}

func (s *Supervisor) forwardToSink(ctx context.Context) func(message.Message) {
	return func(m message.Message) {
		s.mu.Lock()
		sink := s.sink
		s.mu.Unlock()
		if sink == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.log.ErrorF("supervisor", "pipeline panic", map[string]any{"team": m.TeamName, "error": r})
			}
		}()
		sink.ProcessMessage(ctx, m)
	}
}

func (s *Supervisor) errorSinkFor(teamName string) func(error) {
	return func(err error) {
		s.HandleTeamError(teamName, err)
	}
}

// HandleTeamError logs the failure and evicts the team if it is no
// longer connected.
func (s *Supervisor) HandleTeamError(teamName string, err error) {
	if err != nil {
		s.log.ErrorF("supervisor", "team error", map[string]any{"team": teamName, "error": err.Error()})
	}

	s.mu.Lock()
	rec, ok := s.teams[teamName]
	s.mu.Unlock()
	if !ok || rec.client == nil {
		return
	}
	if !rec.client.IsConnected() {
		s.removeTeam(teamName)
	}
}

// removeTeam fire-and-forgets a disconnect on the team's client and
// evicts it from the fleet. The client is never reconstructed.
func (s *Supervisor) removeTeam(teamName string) {
	s.mu.Lock()
	rec, ok := s.teams[teamName]
	if ok {
		delete(s.teams, teamName)
	}
	s.mu.Unlock()
	if !ok || rec.client == nil {
		return
	}
	go rec.client.Disconnect()
}

// Shutdown is idempotent and safe to call from a signal handler: it
// checks and sets the shutting-down flag atomically, then disconnects
// every client concurrently before clearing fleet state.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	records := make([]*teamRecord, 0, len(s.teams))
	for _, rec := range s.teams {
		records = append(records, rec)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, rec := range records {
		if rec.client == nil {
			continue
		}
		wg.Add(1)
		go func(rec *teamRecord) {
			defer wg.Done()
			if err := rec.client.Disconnect(); err != nil {
				s.log.WarnF("supervisor", "disconnect error", map[string]any{"error": err.Error()})
			}
		}(rec)
	}
	wg.Wait()

	s.mu.Lock()
	s.teams = make(map[string]*teamRecord)
	s.sink = nil
	s.mu.Unlock()
}

func (s *Supervisor) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.teams {
		if rec.client != nil && rec.client.IsConnected() {
			n++
		}
	}
	return n
}

func (s *Supervisor) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.teams)
}

func (s *Supervisor) ConnectedNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, rec := range s.teams {
		if rec.client != nil && rec.client.IsConnected() {
			names = append(names, name)
		}
	}
	return names
}

func (s *Supervisor) AllNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.teams))
	for name := range s.teams {
		names = append(names, name)
	}
	return names
}

func (s *Supervisor) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Supervisor) IsShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shuttingDown
}
