package team

import "context"

// SocketEventKind tags the inbound events a transport may emit.
type SocketEventKind int

const (
	SocketConnected SocketEventKind = iota
	SocketDisconnected
	SocketError
	SocketMessage
)

// InboundEvent is the transport-agnostic shape of a single chat message
// event, carrying just enough for the demultiplexing algorithm in
// client.go to classify and render it.
type InboundEvent struct {
	ChannelID     string
	UserID        string
	IsBot         bool
	Subtype       string
	Text          string
	PlatformTime  string
}

// SocketEvent is one item read off a Socket's event channel.
type SocketEvent struct {
	Kind    SocketEventKind
	Message InboundEvent
	Err     error
}

// Socket abstracts the long-lived streaming session a transport SDK
// maintains with one team. Implementations translate platform-specific
// wire events into SocketEvent values.
type Socket interface {
	Open(ctx context.Context) error
	Events() <-chan SocketEvent
	Close() error
}

// Directory abstracts the platform's channel/user lookup API used during
// subscription and event demultiplexing.
type Directory interface {
	LookupChannel(ctx context.Context, channelID string) (name string, err error)
	LookupUser(ctx context.Context, userID string) (displayName string, err error)
}

// Transport bundles the two capabilities a concrete platform client must
// provide to a Client.
type Transport interface {
	Socket
	Directory
}

// TransportFactory builds a fresh Transport for one connection attempt.
// A fresh instance per attempt keeps reconnects free of stale internal
// socket state.
type TransportFactory func(appToken, botToken string) Transport
