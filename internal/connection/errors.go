package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"chatclient/internal/models"
	"chatclient/internal/ws"

	"github.com/gorilla/websocket"
)

var retriableCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
	websocket.CloseAbnormalClosure,
	websocket.CloseInternalServerErr,
	websocket.CloseServiceRestart,
	websocket.CloseTryAgainLater,
}

// ErrorHandler classifies connection failures. Network trouble and transient
// server conditions are retriable, everything else is not.
type ErrorHandler struct{}

func (ErrorHandler) IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var hsErr *ws.HandshakeError
	if errors.As(err, &hsErr) {
		switch {
		case hsErr.StatusCode == http.StatusRequestTimeout,
			hsErr.StatusCode == http.StatusTooManyRequests,
			hsErr.StatusCode >= 500:
			return true
		}
		return false
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return websocket.IsCloseError(closeErr, retriableCloseCodes...)
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// An unknown host stays unknown until the network or the config changes.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// StateFor returns the error state the client surfaces for err. Network
// failures map to ERROR_NETWORK whether or not they are retriable.
func (h ErrorHandler) StateFor(err error) models.ConnectionState {
	if h.IsRetriable(err) || isNetworkError(err) {
		return models.StateErrorNetwork
	}
	return models.StateErrorUnknown
}

func isNetworkError(err error) bool {
	var netErr net.Error
	var opErr *net.OpError
	return errors.As(err, &netErr) || errors.As(err, &opErr)
}
