package supervisor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uzulla/slagg/pkg/config"
	"github.com/uzulla/slagg/pkg/logger"
	"github.com/uzulla/slagg/pkg/message"
	"github.com/uzulla/slagg/pkg/team"
)

type fakeTransport struct {
	mu       sync.Mutex
	events   chan team.SocketEvent
	openErr  error
	channels map[string]string
}

func newFakeTransport(openErr error) *fakeTransport {
	return &fakeTransport{events: make(chan team.SocketEvent, 4), openErr: openErr, channels: make(map[string]string)}
}

func (f *fakeTransport) Open(ctx context.Context) error     { return f.openErr }
func (f *fakeTransport) Events() <-chan team.SocketEvent     { return f.events }
func (f *fakeTransport) Close() error                        { return nil }
func (f *fakeTransport) LookupChannel(ctx context.Context, id string) (string, error) {
	if name, ok := f.channels[id]; ok {
		return name, nil
	}
	return id, nil
}
func (f *fakeTransport) LookupUser(ctx context.Context, id string) (string, error) {
	return id, nil
}

type recordingSink struct {
	mu  sync.Mutex
	got []message.Message
}

func (r *recordingSink) ProcessMessage(ctx context.Context, m message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, m)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

func twoTeamConfig() map[string]config.TeamConfig {
	return map[string]config.TeamConfig{
		"alpha": {AppToken: "xapp-1-a", BotToken: "xoxb-a", Channels: []string{"C1234567890"}},
		"beta":  {AppToken: "xapp-1-b", BotToken: "xoxb-b", Channels: []string{"C0987654321"}},
	}
}

func TestConnectAllFaultIsolation(t *testing.T) {
	goodA := newFakeTransport(nil)
	badB := newFakeTransport(errors.New("invalid_auth"))

	factory := func(appToken, botToken string) team.Transport {
		switch appToken {
		case "xapp-1-a":
			return goodA
		default:
			return badB
		}
	}

	log := logger.New(&bytes.Buffer{}, logger.DEBUG)
	s := New(factory, log)
	sink := &recordingSink{}
	s.SetSink(sink)

	if err := s.Initialize(twoTeamConfig()); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}

	if err := s.ConnectAll(context.Background()); err != nil {
		t.Fatalf("expected at least one team to connect, got error: %v", err)
	}

	waitFor(t, time.Second, func() bool { return s.ConnectedCount() == 1 })
	names := s.ConnectedNames()
	if len(names) != 1 || names[0] != "alpha" {
		t.Fatalf("expected only alpha connected, got %v", names)
	}
}

func TestConnectAllFailsWhenNoTeamConnects(t *testing.T) {
	bad := newFakeTransport(errors.New("invalid_auth"))
	factory := func(appToken, botToken string) team.Transport { return bad }

	log := logger.New(&bytes.Buffer{}, logger.DEBUG)
	s := New(factory, log)
	s.SetSink(&recordingSink{})

	cfg := map[string]config.TeamConfig{
		"alpha": {AppToken: "xapp-1-a", BotToken: "xoxb-a", Channels: []string{"C1234567890"}},
	}
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("unexpected initialize error: %v", err)
	}
	if err := s.ConnectAll(context.Background()); !errors.Is(err, ErrNoTeamsConnected) {
		t.Fatalf("expected ErrNoTeamsConnected, got %v", err)
	}
}

func TestInitializeRejectsSecondCall(t *testing.T) {
	log := logger.New(&bytes.Buffer{}, logger.DEBUG)
	s := New(func(a, b string) team.Transport { return newFakeTransport(nil) }, log)

	cfg := twoTeamConfig()
	if err := s.Initialize(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Initialize(cfg); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	log := logger.New(&bytes.Buffer{}, logger.DEBUG)
	s := New(func(a, b string) team.Transport { return newFakeTransport(nil) }, log)
	s.SetSink(&recordingSink{})

	if err := s.Initialize(twoTeamConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.ConnectAll(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.Shutdown() }()
	go func() { defer wg.Done(); s.Shutdown() }()
	wg.Wait()

	if !s.IsShuttingDown() {
		t.Fatalf("expected shutting-down flag set")
	}
	if s.TotalCount() != 0 {
		t.Fatalf("expected fleet cleared after shutdown, got %d teams", s.TotalCount())
	}
}

func TestConnectAllRejectedWhileShuttingDown(t *testing.T) {
	log := logger.New(&bytes.Buffer{}, logger.DEBUG)
	s := New(func(a, b string) team.Transport { return newFakeTransport(nil) }, log)
	s.SetSink(&recordingSink{})

	if err := s.Initialize(twoTeamConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Shutdown()

	if err := s.ConnectAll(context.Background()); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}
