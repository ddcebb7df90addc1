package team

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/uzulla/slagg/pkg/logger"
	"github.com/uzulla/slagg/pkg/message"
)

const (
	backoffBase   = time.Second
	backoffCap    = 30 * time.Second
	maxReconnects = 5
)

var channelIDShape = func(s string) bool {
	if len(s) != 11 || s[0] != 'C' {
		return false
	}
	for _, r := range s[1:] {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// Client owns exactly one streaming session to one team: its transport,
// channel directory cache, reconnect policy, and event demultiplexing.
// State transitions are made under mu by whichever goroutine drives them
// (Connect, the event loop, reconnect timers, Disconnect); public accessors
// read under mu.
type Client struct {
	mu sync.Mutex

	teamName    string
	appToken    string
	botToken    string
	newTransport TransportFactory

	state   State
	attempt int

	configuredChannels []string
	channelIDs         []string
	channelNames       map[string]string
	skipped            []message.SkippedChannel

	transport Transport
	cancel    context.CancelFunc

	sink    func(message.Message)
	onError func(error)

	log *logger.Logger
}

// New returns an idle Client for one team. newTransport is invoked fresh
// on every connection attempt.
func New(teamName, appToken, botToken string, channels []string, newTransport TransportFactory, log *logger.Logger) *Client {
	cp := make([]string, len(channels))
	copy(cp, channels)
	return &Client{
		teamName:           teamName,
		appToken:           appToken,
		botToken:           botToken,
		newTransport:       newTransport,
		configuredChannels: cp,
		channelNames:       make(map[string]string),
		log:                log,
		state:              StateIdle,
	}
}

// SetSink registers the function invoked for every accepted Message.
func (c *Client) SetSink(fn func(message.Message)) error {
	if fn == nil {
		return ErrBadArgument
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = fn
	return nil
}

// SetErrorSink registers an optional callback invoked whenever the client
// observes a failure worth the Supervisor's attention.
func (c *Client) SetErrorSink(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *Client) GetTeamName() string { return c.teamName }

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Client) IsInvalidated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateInvalidated
}

// GetChannelIds returns a defensive copy of the surviving subscribed
// channel ids.
func (c *Client) GetChannelIds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.channelIDs))
	copy(out, c.channelIDs)
	return out
}

func (c *Client) GetSkippedChannels() []message.SkippedChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]message.SkippedChannel, len(c.skipped))
	copy(out, c.skipped)
	return out
}

// Connect is idempotent: it is a no-op from Connecting, Connected, or
// Invalidated. Otherwise it transitions Idle/Disconnected/Closed →
// Connecting and runs the connect-subscribe-stream sequence.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateInvalidated:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	return c.connectOnce(runCtx)
}

func (c *Client) connectOnce(ctx context.Context) error {
	transport := c.newTransport(c.appToken, c.botToken)

	if err := transport.Open(ctx); err != nil {
		c.handleConnectFailure(ctx, err)
		return err
	}

	if err := c.subscribe(ctx, transport); err != nil {
		_ = transport.Close()
		c.handleConnectFailure(ctx, err)
		return err
	}

	c.mu.Lock()
	c.transport = transport
	c.state = StateConnected
	c.attempt = 0
	c.mu.Unlock()

	c.log.Info(c.teamName, "connected")
	go c.eventLoop(ctx, transport)
	return nil
}

// subscribe implements the per-channel shape check, directory lookup, and
// classification algorithm in configured order.
func (c *Client) subscribe(ctx context.Context, dir Directory) error {
	var kept []string
	names := make(map[string]string)
	var skipped []message.SkippedChannel

	for _, id := range c.configuredChannels {
		if !channelIDShape(id) {
			skipped = append(skipped, message.SkippedChannel{ChannelID: id, Reason: message.ReasonInvalidFormat})
			continue
		}
		name, err := dir.LookupChannel(ctx, id)
		if err != nil {
			reason := classifyChannelError(err)
			skipped = append(skipped, message.SkippedChannel{ChannelID: id, Reason: reason, RawError: err})
			continue
		}
		names[id] = name
		kept = append(kept, id)
	}

	c.mu.Lock()
	c.channelIDs = kept
	c.channelNames = names
	c.skipped = skipped
	c.mu.Unlock()

	for _, s := range skipped {
		c.log.WarnF(c.teamName, "skipped channel", map[string]any{"channel": s.ChannelID, "reason": s.Reason.String()})
	}

	if len(kept) == 0 {
		return &NoValidChannelsError{Skipped: len(skipped)}
	}
	return nil
}

func (c *Client) handleConnectFailure(ctx context.Context, err error) {
	if isAuthFailure(err) {
		c.invalidate(err)
		return
	}
	c.log.ErrorF(c.teamName, "connect failed", map[string]any{"error": err.Error()})
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.reportError(err)
	c.scheduleReconnect(ctx)
}

func (c *Client) eventLoop(ctx context.Context, transport Transport) {
	events := transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.handleSocketEvent(ctx, transport, evt)
			c.mu.Lock()
			closed := c.state == StateClosed || c.state == StateInvalidated
			c.mu.Unlock()
			if closed {
				return
			}
		}
	}
}

func (c *Client) handleSocketEvent(ctx context.Context, transport Transport, evt SocketEvent) {
	switch evt.Kind {
	case SocketConnected:
		c.mu.Lock()
		c.state = StateConnected
		c.attempt = 0
		c.mu.Unlock()
	case SocketDisconnected, SocketError:
		c.onTransportFailure(ctx, evt.Err)
	case SocketMessage:
		c.handleInboundEvent(ctx, transport, evt.Message)
	}
}

func (c *Client) onTransportFailure(ctx context.Context, err error) {
	if isAuthFailure(err) {
		c.invalidate(err)
		return
	}
	if err != nil {
		c.log.ErrorF(c.teamName, "transport failure", map[string]any{"error": err.Error()})
	}
	c.mu.Lock()
	alreadyDisconnected := c.state == StateDisconnected
	if c.state != StateClosed && c.state != StateInvalidated {
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	c.reportError(err)
	if !alreadyDisconnected {
		c.scheduleReconnect(ctx)
	}
}

// scheduleReconnect implements the exponential backoff policy: base 1s,
// multiplier 2, cap 30s, hard limit of 5 attempts.
func (c *Client) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateInvalidated {
		c.mu.Unlock()
		return
	}
	if c.attempt >= maxReconnects {
		c.mu.Unlock()
		c.log.Warn(c.teamName, "reconnect limit reached, abandoning team")
		return
	}
	delay := backoffDelay(c.attempt)
	c.attempt++
	c.mu.Unlock()

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		closed := c.state == StateClosed || c.state == StateInvalidated
		c.mu.Unlock()
		if closed {
			return
		}
		c.mu.Lock()
		c.state = StateConnecting
		c.mu.Unlock()
		if err := c.connectOnce(ctx); err != nil {
			c.log.ErrorF(c.teamName, "reconnect attempt failed", map[string]any{"error": err.Error()})
		}
	})
}

func backoffDelay(attempt int) time.Duration {
	d := backoffBase * time.Duration(1<<uint(attempt))
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// invalidate is the terminal transition on a permanent authentication
// failure. It is irreversible within the process lifetime.
func (c *Client) invalidate(err error) {
	c.mu.Lock()
	if c.state == StateInvalidated {
		c.mu.Unlock()
		return
	}
	c.state = StateInvalidated
	transport := c.transport
	c.transport = nil
	c.channelIDs = nil
	c.channelNames = make(map[string]string)
	cancel := c.cancel
	c.mu.Unlock()

	if err != nil {
		c.log.ErrorF(c.teamName, "invalidated", map[string]any{"error": err.Error()})
	} else {
		c.log.Error(c.teamName, "invalidated")
	}
	c.reportError(err)
	if cancel != nil {
		cancel()
	}
	go c.teardownSocket(transport)
}

func (c *Client) teardownSocket(transport Transport) {
	if transport == nil {
		return
	}
	if err := transport.Close(); err != nil {
		c.log.WarnF(c.teamName, "transport teardown error", map[string]any{"error": err.Error()})
	}
}

// Disconnect moves the client to Closed, attempts a best-effort transport
// teardown, and clears the directory cache. It never raises.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	transport := c.transport
	cancel := c.cancel
	c.state = StateClosed
	c.transport = nil
	c.channelIDs = nil
	c.channelNames = make(map[string]string)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.teardownSocket(transport)
	return nil
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// handleInboundEvent implements the demultiplexing algorithm: channel
// membership filter, bot filter, subtype filter, author/channel
// resolution, then delivery to the sink.
func (c *Client) handleInboundEvent(ctx context.Context, dir Directory, evt InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.ErrorF(c.teamName, "event handling panic", map[string]any{"error": fmt.Sprintf("%v", r)})
		}
	}()

	c.mu.Lock()
	_, kept := c.lookupKept(evt.ChannelID)
	c.mu.Unlock()
	if !kept {
		return
	}
	if evt.IsBot {
		return
	}
	if evt.Subtype != "" {
		return
	}

	userDisplay := evt.UserID
	if name, err := dir.LookupUser(ctx, evt.UserID); err == nil && name != "" {
		userDisplay = name
	}

	c.mu.Lock()
	channelName, ok := c.channelNames[evt.ChannelID]
	c.mu.Unlock()
	if !ok {
		channelName = evt.ChannelID
	}

	m := message.Message{
		TeamName:           c.teamName,
		ChannelDisplayName: channelName,
		ChannelID:          evt.ChannelID,
		UserDisplayName:    userDisplay,
		Text:               evt.Text,
		PlatformTimestamp:  evt.PlatformTime,
		WallTime:           parseWallTime(evt.PlatformTime),
	}

	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(m)
	}
}

func (c *Client) lookupKept(channelID string) (string, bool) {
	for _, id := range c.channelIDs {
		if id == channelID {
			return id, true
		}
	}
	return "", false
}

// parseWallTime parses a platform timestamp of the form "<epoch>.<micros>"
// into an absolute instant. An unparsable timestamp yields the zero
// time.Time, leaving sort fallback to the raw string.
func parseWallTime(platformTime string) time.Time {
	if platformTime == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(platformTime), 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, int64(f*float64(time.Second)))
}
