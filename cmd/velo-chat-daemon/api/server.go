package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"

	"velo-chat-daemon/cmd/velo-chat-daemon/chat"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/bus"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core"
	"velo-chat-daemon/cmd/velo-chat-daemon/store"
)

// StartAPIServer initializes and starts the HTTP control API server.
func StartAPIServer(
	ctx context.Context,
	addr string,
	appState *core.AppState,
	eventBus *bus.EventBus,
	st *store.Store,
	chatService *chat.Service,
	connectProvider func() ConnectFunc,
	retryInit func(),
	inviteLink func() string,
) (net.Listener, *http.Server, *ApiHandler, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	handler := newAPIHandler(appState, eventBus, st, chatService, connectProvider, retryInit, inviteLink)

	mux := http.NewServeMux()

	setupRoutes(mux, handler)

	server := &http.Server{
		Addr:        listener.Addr().String(),
		Handler:     corsMiddleware(mux),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API server error: %v", err)
			appState.SetError(fmt.Errorf("API server failed: %w", err))
		}
		log.Println("API server stopped serving.")
	}()

	consumer := NewConsumer(ctx, handler)
	consumer.Start()

	return listener, server, handler, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin == "http://localhost:5173" || origin == "http://localhost:5174" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
