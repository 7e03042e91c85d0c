// Package ws is the WebSocket transport of the chat connection.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// FrameBuffer is the number of inbound frames held between the socket
	// reader and the consumer. A full buffer blocks the reader.
	FrameBuffer = 100

	writeWait = 10 * time.Second
	closeWait = time.Second
)

var ErrClosed = errors.New("transport closed")

type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	Close() error
}

// Transport is one open chat socket.
type Transport struct {
	ws      wsConnection
	frames  chan []byte
	done    chan struct{}
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error

	errMu   sync.Mutex
	readErr error
}

func newTransport(ws wsConnection) *Transport {
	t := &Transport{
		ws:     ws,
		frames: make(chan []byte, FrameBuffer),
		done:   make(chan struct{}),
	}
	ws.SetPingHandler(t.handlePing)
	go t.pumpFrames()
	return t
}

// Frames yields inbound text frames. It is closed when the socket stops
// reading; Err then tells why.
func (t *Transport) Frames() <-chan []byte {
	return t.frames
}

// Err returns the error that ended reading, or nil while the socket is open.
func (t *Transport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.readErr
}

func (t *Transport) pumpFrames() {
	defer close(t.frames)
	for {
		messageType, data, err := t.ws.ReadMessage()
		if err != nil {
			t.errMu.Lock()
			select {
			case <-t.done:
				t.readErr = ErrClosed
			default:
				t.readErr = err
			}
			t.errMu.Unlock()
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case t.frames <- data:
		case <-t.done:
			t.errMu.Lock()
			t.readErr = ErrClosed
			t.errMu.Unlock()
			return
		}
	}
}

// handlePing answers with a pong carrying the same payload.
func (t *Transport) handlePing(appData string) error {
	err := t.ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return nil
	}
	return err
}

// Send writes one text frame. The write deadline comes from ctx when it has one.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal close frame and releases the socket. It is safe to call
// more than once and from any goroutine.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		t.closeErr = t.ws.Close()
	})
	return t.closeErr
}
