package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"velo-chat-daemon/cmd/velo-chat-daemon/chat"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/bus"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core"
	"velo-chat-daemon/cmd/velo-chat-daemon/store"
)

// ConnectFunc dials a peer address, optionally selecting the resulting
// chat. Nil until the P2P stack is up.
type ConnectFunc func(ctx context.Context, address string, autoSelect bool) error

// ApiHandler holds dependencies needed by the API handlers.
type ApiHandler struct {
	appState    *core.AppState
	bus         *bus.EventBus
	store       *store.Store
	chatService *chat.Service

	// connectProvider returns the current dial function, nil before the
	// transport is ready.
	connectProvider func() ConnectFunc
	// retryInit re-runs transport initialization after a bootstrap failure.
	retryInit func()
	// inviteLink returns the shareable link for the local node.
	inviteLink func() string

	wsMu   sync.Mutex
	wsConn *websocket.Conn
}

func newAPIHandler(
	appState *core.AppState,
	eventBus *bus.EventBus,
	st *store.Store,
	chatService *chat.Service,
	connectProvider func() ConnectFunc,
	retryInit func(),
	inviteLink func() string,
) *ApiHandler {
	if appState == nil || eventBus == nil || st == nil || chatService == nil {
		panic("nil dependencies provided to ApiHandler")
	}
	return &ApiHandler{
		appState:        appState,
		bus:             eventBus,
		store:           st,
		chatService:     chatService,
		connectProvider: connectProvider,
		retryInit:       retryInit,
		inviteLink:      inviteLink,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
