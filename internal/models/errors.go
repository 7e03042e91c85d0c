package models

import "strings"

// ConnectionError is returned by the live-session send path.
type ConnectionError string

const (
	ErrNotConnected      ConnectionError = "NOT_CONNECTED"
	ErrMessageSendFailed ConnectionError = "MESSAGE_SEND_FAILED"
)

func (e ConnectionError) Error() string {
	return "connection: " + strings.ToLower(strings.ReplaceAll(string(e), "_", " "))
}

// RemoteError is a typed failure of a REST call.
type RemoteError string

const (
	ErrBadRequest      RemoteError = "BAD_REQUEST"
	ErrUnauthorized    RemoteError = "UNAUTHORIZED"
	ErrForbidden       RemoteError = "FORBIDDEN"
	ErrRemoteNotFound  RemoteError = "NOT_FOUND"
	ErrRequestTimeout  RemoteError = "REQUEST_TIMEOUT"
	ErrConflict        RemoteError = "CONFLICT"
	ErrPayloadTooLarge RemoteError = "PAYLOAD_TOO_LARGE"
	ErrTooManyRequests RemoteError = "TOO_MANY_REQUESTS"
	ErrServerError     RemoteError = "SERVER_ERROR"
	ErrNoInternet      RemoteError = "NO_INTERNET"
	ErrSerialization   RemoteError = "SERIALIZATION"
	ErrRemoteUnknown   RemoteError = "UNKNOWN"
)

func (e RemoteError) Error() string {
	return "remote: " + strings.ToLower(strings.ReplaceAll(string(e), "_", " "))
}

// LocalError is a typed failure of the local store.
type LocalError string

const (
	ErrDiskFull LocalError = "DISK_FULL"
)

func (e LocalError) Error() string {
	return "local: " + strings.ToLower(strings.ReplaceAll(string(e), "_", " "))
}
