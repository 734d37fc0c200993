package api

import (
	"net/http"
)

// setupRoutes configures the routes for the API server.
func setupRoutes(mux *http.ServeMux, handler *ApiHandler) {
	mux.HandleFunc("/status", handler.handleStatus)
	mux.HandleFunc("/retry-init", handler.handleRetryInit)

	mux.HandleFunc("/chats", handler.handleChats)
	mux.HandleFunc("/messages", handler.handleMessages)

	mux.HandleFunc("/chat/send", handler.handleSendMessage)
	mux.HandleFunc("/chat/typing", handler.handleTyping)
	mux.HandleFunc("/chat/select", handler.handleSelectChat)

	mux.HandleFunc("/group/create", handler.handleCreateGroup)
	mux.HandleFunc("/peer/connect", handler.handleConnect)

	mux.HandleFunc("/ws", handler.handleWebSocket)
}
