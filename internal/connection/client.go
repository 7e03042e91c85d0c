// Package connection keeps the realtime chat socket open while the user is
// signed in, the app is in the foreground and the device is online.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"chatclient/internal/auth"
	"chatclient/internal/models"
	"chatclient/internal/observability"
	"chatclient/internal/observable"
	"chatclient/internal/wire"
)

type Transport interface {
	Frames() <-chan []byte
	Err() error
	Send(ctx context.Context, data []byte) error
	Close() error
}

type DialFunc func(ctx context.Context, accessToken string) (Transport, error)

// MessageHandler receives every NEW_MESSAGE pushed by the server.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.ChatMessage) error
}

type Signal interface {
	Watch(ctx context.Context) <-chan bool
}

type Sessions interface {
	Current() *auth.Session
	Watch(ctx context.Context) <-chan *auth.Session
}

type Config struct {
	Dial       DialFunc
	Retry      *RetryHandler
	Errors     ErrorHandler
	Handler    MessageHandler
	Online     Signal
	Foreground Signal
	Sessions   Sessions
}

type Client struct {
	dial       DialFunc
	retry      *RetryHandler
	errors     ErrorHandler
	handler    MessageHandler
	online     Signal
	foreground Signal
	sessions   Sessions

	state  *observable.Value[models.ConnectionState]
	active *observable.Value[bool]
	now    func() time.Time

	mu        sync.Mutex
	transport Transport
}

func New(cfg Config) *Client {
	retry := cfg.Retry
	if retry == nil {
		retry = NewRetryHandler(cfg.Errors)
	}
	observability.SetConnectionState(models.StateDisconnected)
	return &Client{
		dial:       cfg.Dial,
		retry:      retry,
		errors:     cfg.Errors,
		handler:    cfg.Handler,
		online:     cfg.Online,
		foreground: cfg.Foreground,
		sessions:   cfg.Sessions,
		state:      observable.NewValue(models.StateDisconnected),
		active:     observable.NewValue(true),
		now:        time.Now,
	}
}

func (c *Client) State() models.ConnectionState {
	return c.state.Get()
}

func (c *Client) WatchState(ctx context.Context) <-chan models.ConnectionState {
	return c.state.Watch(ctx)
}

// SetActive turns the connection on or off on request. Inactive behaves like
// the app being in the background.
func (c *Client) SetActive(active bool) {
	c.active.Set(active)
}

func (c *Client) Active() bool {
	return c.active.Get()
}

func (c *Client) setState(state models.ConnectionState) {
	if c.state.Set(state) {
		slog.Debug("connection state changed", "state", state)
		observability.SetConnectionState(state)
	}
}

type reportKind int

const (
	reportConnected reportKind = iota
	reportRetrying
	reportFailed
)

type report struct {
	gen   int
	kind  reportKind
	state models.ConnectionState
}

type connectLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *connectLoop) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

const (
	seenOnline = 1 << iota
	seenForeground
	seenSession
	seenAll = seenOnline | seenForeground | seenSession
)

// Run drives the state machine until ctx is done. It always returns nil once
// ctx is cancelled; connection failures only show up as states.
func (c *Client) Run(ctx context.Context) error {
	onlineCh := c.online.Watch(ctx)
	foregroundCh := c.foreground.Watch(ctx)
	activeCh := c.active.Watch(ctx)
	sessionCh := c.sessions.Watch(ctx)
	reports := make(chan report)

	var (
		snap   = Snapshot{Active: true, State: models.StateDisconnected}
		seen   int
		userID string
		gen    int
		loop   *connectLoop
	)
	defer func() {
		loop.stop()
		c.setState(models.StateDisconnected)
	}()

	evaluate := func() {
		next, action := Next(snap)
		switch action {
		case ActionTeardown:
			loop.stop()
			loop = nil
			c.retry.ResetDelay()
		case ActionCloseNetwork:
			loop.stop()
			loop = nil
		case ActionConnect:
			loop.stop()
			gen++
			loop = c.startLoop(ctx, gen, reports)
		}
		if action != ActionNone {
			slog.Debug("connection action", "action", action, "state", next)
		}
		snap.State = next
		c.setState(next)
	}

	for {
		changed := false
		select {
		case <-ctx.Done():
			return nil

		case online, ok := <-onlineCh:
			if !ok {
				return nil
			}
			changed = seen&seenOnline == 0 || snap.Online != online
			seen |= seenOnline
			snap.Online = online

		case foreground, ok := <-foregroundCh:
			if !ok {
				return nil
			}
			changed = seen&seenForeground == 0 || snap.Foreground != foreground
			if foreground && !snap.Foreground && seen&seenForeground != 0 {
				c.retry.ResetDelay()
			}
			seen |= seenForeground
			snap.Foreground = foreground

		case active, ok := <-activeCh:
			if !ok {
				return nil
			}
			changed = snap.Active != active
			snap.Active = active

		case session, ok := <-sessionCh:
			if !ok {
				return nil
			}
			hasSession := session != nil
			newUserID := ""
			if hasSession {
				newUserID = session.UserID
			}
			// A refreshed token revives a client stopped by a rejected
			// handshake. Next leaves a live socket alone.
			changed = true
			if hasSession && snap.HasSession && newUserID != userID {
				// Another user signed in: drop the old user's socket first.
				slog.Info("session user changed, reconnecting")
				loop.stop()
				loop = nil
				snap.State = models.StateDisconnected
			}
			seen |= seenSession
			snap.HasSession = hasSession
			userID = newUserID

		case r := <-reports:
			if r.gen != gen {
				continue
			}
			switch r.kind {
			case reportConnected:
				snap.State = models.StateConnected
			case reportRetrying:
				snap.State = models.StateConnecting
			case reportFailed:
				snap.State = r.state
			}
			c.setState(snap.State)
			continue
		}

		if changed && seen == seenAll {
			evaluate()
		}
	}
}

func (c *Client) startLoop(ctx context.Context, gen int, reports chan<- report) *connectLoop {
	ctx, cancel := context.WithCancel(ctx)
	l := &connectLoop{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		c.connectLoop(ctx, gen, reports)
	}()
	return l
}

func (c *Client) connectLoop(ctx context.Context, gen int, reports chan<- report) {
	send := func(r report) bool {
		r.gen = gen
		select {
		case reports <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	attempt := 0
	for {
		err := c.connectOnce(ctx, func() {
			attempt = 0
			observability.IncConnectAttempt("success")
			send(report{kind: reportConnected})
		})
		if ctx.Err() != nil {
			return
		}

		if !c.retry.ShouldRetry(err) {
			observability.IncConnectAttempt("fatal")
			slog.Warn("chat connection failed", "error", err)
			send(report{kind: reportFailed, state: c.errors.StateFor(err)})
			return
		}

		observability.IncConnectAttempt("retriable")
		slog.Info("chat connection lost, retrying", "attempt", attempt, "error", err)
		if !send(report{kind: reportRetrying}) {
			return
		}
		if err := c.retry.ApplyRetryDelay(ctx, attempt); err != nil {
			return
		}
		attempt++
	}
}

// connectOnce dials with the current access token and reads frames until the
// socket fails or ctx is done. The socket is always closed on return.
func (c *Client) connectOnce(ctx context.Context, onConnected func()) error {
	session := c.sessions.Current()
	if session == nil {
		return auth.ErrNoSession
	}

	t, err := c.dial(ctx, session.AccessToken)
	if err != nil {
		return err
	}
	defer func() {
		c.setTransport(nil)
		if err := t.Close(); err != nil {
			slog.Debug("failed to close transport", "error", err)
		}
	}()

	c.setTransport(t)
	onConnected()

	for {
		select {
		case frame, ok := <-t.Frames():
			if !ok {
				if err := t.Err(); err != nil {
					return err
				}
				return io.EOF
			}
			c.dispatch(ctx, frame)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) setTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

func (c *Client) dispatch(ctx context.Context, frame []byte) {
	in, err := wire.Decode(frame)
	if err != nil {
		observability.IncEnvelope("invalid")
		slog.Warn("failed to decode envelope", "error", err)
		return
	}
	observability.IncEnvelope(string(wire.TypeOf(in)))

	switch msg := in.(type) {
	case wire.NewMessage:
		if err := c.handler.HandleMessage(ctx, msg.ToChatMessage(c.now())); err != nil {
			slog.Error("failed to handle new message", "message_id", msg.ID, "chat_id", msg.ChatID, "error", err)
		}
	default:
		slog.Debug("envelope not handled", "type", wire.TypeOf(in))
	}
}

// liveTransport returns the open transport if a message can be sent right now.
func (c *Client) liveTransport() Transport {
	if c.sessions.Current() == nil || c.state.Get() != models.StateConnected {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// SendMessage writes a NEW_MESSAGE envelope on the live socket. It never waits
// for a connection: without one it returns models.ErrNotConnected.
func (c *Client) SendMessage(ctx context.Context, msg wire.OutgoingNewMessage) error {
	return c.send(ctx, msg)
}

// SendTyping tells the chat's other participants that the user is typing.
func (c *Client) SendTyping(ctx context.Context, chatID string) error {
	session := c.sessions.Current()
	if session == nil {
		return models.ErrNotConnected
	}
	return c.send(ctx, wire.OutgoingUserTyping{UserID: session.UserID, ChatID: chatID})
}

func (c *Client) send(ctx context.Context, msg wire.Outgoing) error {
	t := c.liveTransport()
	if t == nil {
		return models.ErrNotConnected
	}
	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrMessageSendFailed, err)
	}
	if err := t.Send(ctx, data); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrMessageSendFailed, err)
	}
	return nil
}
