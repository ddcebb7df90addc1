package team

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlackTransport is the real chat-platform transport: a Socket Mode
// session plus the Web API's channel/user lookup surface, adapted to the
// Transport interface Client depends on.
type SlackTransport struct {
	api          *slack.Client
	socketClient *socketmode.Client
	botUserID    string

	events chan SocketEvent
	cancel context.CancelFunc
}

// NewSlackTransport builds a fresh Socket Mode client for one connection
// attempt. It implements TransportFactory.
func NewSlackTransport(appToken, botToken string) Transport {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	socketClient := socketmode.New(api)
	return &SlackTransport{
		api:          api,
		socketClient: socketClient,
		events:       make(chan SocketEvent, 64),
	}
}

func (t *SlackTransport) Open(ctx context.Context) error {
	authResp, err := t.api.AuthTestContext(ctx)
	if err != nil {
		return wrapSlackErr(err)
	}
	t.botUserID = authResp.UserID

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	go t.pump(runCtx)

	go func() {
		if err := t.socketClient.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			t.emit(SocketEvent{Kind: SocketError, Err: wrapSlackErr(err)})
		}
	}()

	return nil
}

func (t *SlackTransport) Events() <-chan SocketEvent { return t.events }

func (t *SlackTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

func (t *SlackTransport) pump(ctx context.Context) {
	defer close(t.events)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-t.socketClient.Events:
			if !ok {
				return
			}
			switch evt.Type {
			case socketmode.EventTypeConnected:
				t.emit(SocketEvent{Kind: SocketConnected})
			case socketmode.EventTypeConnectionError, socketmode.EventTypeIncomingError:
				t.emit(SocketEvent{Kind: SocketError, Err: fmt.Errorf("socket mode error: %v", evt.Data)})
			case socketmode.EventTypeDisconnect:
				t.emit(SocketEvent{Kind: SocketDisconnected})
			case socketmode.EventTypeEventsAPI:
				t.handleEventsAPI(evt)
			}
		}
	}
}

func (t *SlackTransport) handleEventsAPI(evt socketmode.Event) {
	if evt.Request != nil {
		t.socketClient.Ack(*evt.Request)
	}

	outer, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	msgEvt, ok := outer.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}

	t.emit(SocketEvent{
		Kind: SocketMessage,
		Message: InboundEvent{
			ChannelID:    msgEvt.Channel,
			UserID:       msgEvt.User,
			IsBot:        msgEvt.BotID != "" || msgEvt.User == t.botUserID,
			Subtype:      msgEvt.SubType,
			Text:         msgEvt.Text,
			PlatformTime: msgEvt.TimeStamp,
		},
	})
}

func (t *SlackTransport) emit(evt SocketEvent) {
	select {
	case t.events <- evt:
	default:
	}
}

func (t *SlackTransport) LookupChannel(ctx context.Context, channelID string) (string, error) {
	info, err := t.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
	if err != nil {
		return "", wrapSlackErr(err)
	}
	return info.Name, nil
}

func (t *SlackTransport) LookupUser(ctx context.Context, userID string) (string, error) {
	u, err := t.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		return "", wrapSlackErr(err)
	}
	switch {
	case u.Profile.DisplayName != "":
		return u.Profile.DisplayName, nil
	case u.RealName != "":
		return u.RealName, nil
	case u.Name != "":
		return u.Name, nil
	default:
		return "", errors.New("no display name available")
	}
}

// wrapSlackErr lifts a slack-go error into a TransportError so classify.go
// can inspect its machine-readable code alongside the message.
func wrapSlackErr(err error) error {
	if err == nil {
		return nil
	}
	var statusErr *slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return &TransportError{Err: err, Status: statusErr.Code}
	}
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return &TransportError{Err: err, Code: "ratelimited", Status: 429}
	}
	return &TransportError{Err: err, Code: err.Error()}
}
