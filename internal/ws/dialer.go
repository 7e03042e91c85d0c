package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// HandshakeError is returned when the server answered the upgrade request
// with a non-101 status.
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

type Dialer struct {
	url    string
	locale string
	dialer *websocket.Dialer
}

// NewDialer returns a dialer for the chat socket at {baseURL}/chats.
func NewDialer(baseURL, locale string, handshakeTimeout time.Duration) *Dialer {
	return &Dialer{
		url:    strings.TrimRight(baseURL, "/") + "/chats",
		locale: locale,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

func (d *Dialer) Dial(ctx context.Context, accessToken string) (*Transport, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	if d.locale != "" {
		header.Set("Accept-Language", d.locale)
	}

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return newTransport(conn), nil
}
