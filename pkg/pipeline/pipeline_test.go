package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/uzulla/slagg/pkg/message"
)

type fakeHandler struct {
	mu      sync.Mutex
	name    string
	enabled bool
	err     error
	calls   []message.Message
}

func (f *fakeHandler) Handle(ctx context.Context, m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, m)
	return f.err
}
func (f *fakeHandler) Name() string  { return f.name }
func (f *fakeHandler) Enabled() bool { return f.enabled }

func (f *fakeHandler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRegisterHandlerUniqueness(t *testing.T) {
	p := New(nil)
	h1 := &fakeHandler{name: "x", enabled: true}
	h2 := &fakeHandler{name: "x", enabled: true}

	if err := p.RegisterHandler(h1); err != nil {
		t.Fatalf("register h1: %v", err)
	}
	if err := p.RegisterHandler(h2); err != nil {
		t.Fatalf("register h2: %v", err)
	}

	got, ok := p.GetHandler("x")
	if !ok || got != Handler(h2) {
		t.Fatalf("expected h2 to be registered under name x")
	}
	if p.GetHandlerCount() != 1 {
		t.Fatalf("expected handler count 1, got %d", p.GetHandlerCount())
	}
}

func TestRegisterHandlerRejectsIncompleteCapability(t *testing.T) {
	p := New(nil)
	if err := p.RegisterHandler("not a handler"); !errors.Is(err, ErrBadHandler) {
		t.Fatalf("expected ErrBadHandler, got %v", err)
	}
}

func TestDispatchIgnoresDisabledHandlers(t *testing.T) {
	p := New(nil)
	a := &fakeHandler{name: "a", enabled: true}
	b := &fakeHandler{name: "b", enabled: false}
	c := &fakeHandler{name: "c", enabled: true}
	p.RegisterHandler(a)
	p.RegisterHandler(b)
	p.RegisterHandler(c)

	p.ProcessMessage(context.Background(), message.Message{Text: "hi"})

	if a.callCount() != 1 || c.callCount() != 1 {
		t.Fatalf("expected enabled handlers to be called once each: a=%d c=%d", a.callCount(), c.callCount())
	}
	if b.callCount() != 0 {
		t.Fatalf("disabled handler should never be called, got %d calls", b.callCount())
	}
}

func TestFaultIsolation(t *testing.T) {
	p := New(nil)
	a := &fakeHandler{name: "a", enabled: true}
	e := &fakeHandler{name: "e", enabled: true, err: errors.New("boom")}
	c := &fakeHandler{name: "c", enabled: true}
	p.RegisterHandler(a)
	p.RegisterHandler(e)
	p.RegisterHandler(c)

	p.ProcessMessage(context.Background(), message.Message{Text: "hi"})

	if a.callCount() != 1 || c.callCount() != 1 {
		t.Fatalf("expected surviving handlers still called: a=%d c=%d", a.callCount(), c.callCount())
	}
}

func TestProcessMessagesOrdersByWallTime(t *testing.T) {
	p := New(nil)
	var order []string
	record := &orderingHandler{name: "rec", record: &order}
	p.RegisterHandler(record)

	base := time.Unix(1000, 0)
	msgs := []message.Message{
		{Text: "second", WallTime: base.Add(2 * time.Second)},
		{Text: "first", WallTime: base},
		{Text: "third", WallTime: base.Add(3 * time.Second)},
	}

	if err := p.ProcessMessages(context.Background(), msgs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

type orderingHandler struct {
	mu     sync.Mutex
	name   string
	record *[]string
}

func (o *orderingHandler) Handle(ctx context.Context, m message.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	*o.record = append(*o.record, m.Text)
	return nil
}
func (o *orderingHandler) Name() string  { return o.name }
func (o *orderingHandler) Enabled() bool { return true }

func TestProcessMessagesRejectsNil(t *testing.T) {
	p := New(nil)
	if err := p.ProcessMessages(context.Background(), nil); !errors.Is(err, ErrBadArgument) {
		t.Fatalf("expected ErrBadArgument, got %v", err)
	}
}

func TestSortByTimestampDoesNotMutateInput(t *testing.T) {
	base := time.Unix(1000, 0)
	input := []message.Message{
		{Text: "b", WallTime: base.Add(time.Second)},
		{Text: "a", WallTime: base},
	}
	original := append([]message.Message(nil), input...)

	sorted := SortByTimestamp(input)

	for i := range input {
		if input[i].Text != original[i].Text {
			t.Fatalf("input slice was mutated: %v", input)
		}
	}
	if sorted[0].Text != "a" || sorted[1].Text != "b" {
		t.Fatalf("unexpected sort result: %v", sorted)
	}
}

func TestSortByTimestampFallsBackToPlatformTimestamp(t *testing.T) {
	input := []message.Message{
		{Text: "later", PlatformTimestamp: "200.5"},
		{Text: "earlier", PlatformTimestamp: "100.1"},
	}
	sorted := SortByTimestamp(input)
	if sorted[0].Text != "earlier" || sorted[1].Text != "later" {
		t.Fatalf("unexpected sort result: %v", sorted)
	}
}
