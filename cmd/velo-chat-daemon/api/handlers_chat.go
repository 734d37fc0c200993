package api

import (
	"net/http"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core"
)

func (h *ApiHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, lastErr := h.appState.Snapshot()

	resp := StatusResponse{State: state.String()}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}

	h.appState.Mu.Lock()
	node := h.appState.Node
	h.appState.Mu.Unlock()
	if node != nil {
		resp.PeerID = node.ID().String()
		for _, addr := range node.Addrs() {
			resp.ListenAddrs = append(resp.ListenAddrs, addr.String())
		}
		if h.inviteLink != nil {
			resp.InviteLink = h.inviteLink()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *ApiHandler) handleChats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Chats())
}

func (h *ApiHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "chatId query parameter is required")
		return
	}
	msgs := h.store.MessagesByChat(chatID)
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ApiHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChatID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "chatId and content are required")
		return
	}

	msg, err := h.chatService.SendMessage(req.ChatID, req.Content, req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *ApiHandler) handleTyping(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.chatService.SendTyping(req.ChatID, req.IsTyping)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ApiHandler) handleSelectChat(w http.ResponseWriter, r *http.Request) {
	var req SelectChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.store.SetActiveChat(req.ChatID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ApiHandler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}

	chat, err := h.chatService.CreateGroup(req.Name, req.Participants)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *ApiHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req ConnectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	connect := h.connectProvider()
	if connect == nil {
		writeError(w, http.StatusServiceUnavailable, "transport is not ready")
		return
	}
	if err := connect(r.Context(), req.Address, true); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRetryInit re-triggers transport initialization after a bootstrap
// failure. There is no automatic retry loop; this is the manual action.
func (h *ApiHandler) handleRetryInit(w http.ResponseWriter, r *http.Request) {
	state, _ := h.appState.Snapshot()
	if state != core.StateError {
		writeError(w, http.StatusConflict, "daemon is not in an error state")
		return
	}
	if h.retryInit == nil {
		writeError(w, http.StatusServiceUnavailable, "retry is not available")
		return
	}
	h.retryInit()
	w.WriteHeader(http.StatusAccepted)
}
