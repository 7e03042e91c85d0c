package connection

import "chatclient/internal/models"

type Action int

const (
	ActionNone Action = iota
	// ActionConnect starts a connect loop.
	ActionConnect
	// ActionTeardown stops the connect loop and arms the retry skip flag.
	ActionTeardown
	// ActionCloseNetwork stops the connect loop without touching the skip flag.
	ActionCloseNetwork
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionTeardown:
		return "teardown"
	case ActionCloseNetwork:
		return "close_network"
	}
	return "none"
}

// Snapshot is the latest value of every input of the state machine.
type Snapshot struct {
	HasSession bool
	Foreground bool
	Online     bool
	Active     bool
	State      models.ConnectionState
}

// Next returns the state the client moves to and what it has to do about
// the socket. Rules are checked in order; the first match wins.
func Next(s Snapshot) (models.ConnectionState, Action) {
	switch {
	case !s.HasSession, !s.Foreground, !s.Active:
		return models.StateDisconnected, ActionTeardown
	case !s.Online:
		return models.StateErrorNetwork, ActionCloseNetwork
	case s.State == models.StateConnecting, s.State == models.StateConnected:
		return s.State, ActionNone
	default:
		return models.StateConnecting, ActionConnect
	}
}
