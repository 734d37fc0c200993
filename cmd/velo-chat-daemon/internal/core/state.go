package core

import (
	"sync"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
)

// ChatProtocolID identifies the packet channel protocol on a libp2p stream.
const ChatProtocolID = "/velo-chat/1.0.0"

// DaemonState represents the possible operational states of the daemon.
type DaemonState int

const (
	StateInitializing DaemonState = iota
	StateInitializingP2P
	StateRunning
	StateShuttingDown
	StateError
)

func (s DaemonState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateInitializingP2P:
		return "Initializing P2P Network"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "Shutting Down"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// AppState holds the shared state accessible by different parts of the daemon.
// Access is protected by the Mutex.
type AppState struct {
	Mu        sync.Mutex
	State     DaemonState
	Node      host.Host    // nil until the transport is up
	Dht       *dht.IpfsDHT // nil until initialized
	LastError error        // last significant error, surfaced via the API
}

// NewAppState creates and initializes a new AppState.
func NewAppState() *AppState {
	return &AppState{State: StateInitializing}
}

// SetError records err and moves the daemon into the error state.
func (a *AppState) SetError(err error) {
	a.Mu.Lock()
	defer a.Mu.Unlock()
	a.State = StateError
	a.LastError = err
}

// Snapshot returns the current state and last error under the lock.
func (a *AppState) Snapshot() (DaemonState, error) {
	a.Mu.Lock()
	defer a.Mu.Unlock()
	return a.State, a.LastError
}
