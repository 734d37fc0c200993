package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.RemoteAddr
		if strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "http://127.0.0.1") ||
			strings.HasPrefix(origin, "127.0.0.1") {
			return true
		}
		return false
	},
}

// handleWebSocket is the HTTP handler that upgrades connections to socket
func (h *ApiHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log.Println("API WS Handler: Received HTTP request for upgrade...")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API WS Handler: Failed to upgrade: %v", err)
		return
	}

	h.wsMu.Lock()
	if h.wsConn != nil {
		h.wsConn.Close()
	}
	h.wsConn = conn
	h.wsMu.Unlock()

	remoteAddr := conn.RemoteAddr()
	log.Printf("API WS Handler: Connection established from %s", remoteAddr)

	defer func() {
		log.Printf("API WS Handler: Closing connection from %s", remoteAddr)
		conn.Close()
	}()

	h.readLoop(conn)

	log.Printf("API WS Handler: readLoop finished for %s", remoteAddr)
}

// readLoop handles commands arriving from the UI over the websocket.
func (h *ApiHandler) readLoop(conn *websocket.Conn) {
	remoteAddr := conn.RemoteAddr()
	defer log.Printf("API WS ReadLoop: Exiting for %s", remoteAddr)

	conn.SetReadLimit(maxMessageSize)

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("API WS ReadLoop: Unexpected close error for %s: %v", remoteAddr, err)
			} else {
				log.Printf("API WS ReadLoop: WebSocket closed or read error for %s: %v", remoteAddr, err)
			}
			break
		}

		var cmd WsCommand
		if err := json.Unmarshal(messageBytes, &cmd); err != nil {
			log.Printf("API WS ReadLoop: cannot deserialize command %s", string(messageBytes))
			continue
		}

		switch cmd.Type {
		case WsCmdSendMessage:
			var req SendMessageRequest
			if err := json.Unmarshal(cmd.Payload, &req); err != nil {
				continue
			}
			if _, err := h.chatService.SendMessage(req.ChatID, req.Content, req.Type); err != nil {
				log.Printf("API WS ReadLoop: send failed: %v", err)
			}
		case WsCmdTyping:
			var req TypingRequest
			if err := json.Unmarshal(cmd.Payload, &req); err != nil {
				continue
			}
			h.chatService.SendTyping(req.ChatID, req.IsTyping)
		default:
			log.Printf("API WS ReadLoop: ignoring unknown command type %q", cmd.Type)
		}
	}
}

func (h *ApiHandler) send(msg []byte) {
	h.wsMu.Lock()
	defer h.wsMu.Unlock()

	if h.wsConn == nil {
		return
	}

	if err := h.wsConn.WriteMessage(websocket.TextMessage, msg); err != nil {
		log.Printf("API WS Send: Failed to send message: %v", err)
	}
}

// pushEvent serializes a tagged frame and sends it to the connected UI.
func (h *ApiHandler) pushEvent(t WsEventType, payload interface{}) {
	frame, err := json.Marshal(WsEvent{Type: t, Payload: payload})
	if err != nil {
		log.Printf("API WS Push: Failed to marshal %s event: %v", t, err)
		return
	}
	h.send(frame)
}
