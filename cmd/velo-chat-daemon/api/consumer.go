package api

import (
	"context"
	"log"

	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core/events"
)

// Consumer forwards store and connection events to the websocket UI.
type Consumer struct {
	handler    *ApiHandler
	ctx        context.Context
	eventsChan chan interface{}
}

func NewConsumer(ctx context.Context, handler *ApiHandler) *Consumer {
	return &Consumer{
		handler:    handler,
		ctx:        ctx,
		eventsChan: make(chan interface{}, 64),
	}
}

func (c *Consumer) Start() {
	log.Println("api consumer started")
	c.handler.bus.Subscribe(c.eventsChan, events.MessageMergedEvent{})
	c.handler.bus.Subscribe(c.eventsChan, events.MessageStatusChangedEvent{})
	c.handler.bus.Subscribe(c.eventsChan, events.ChatUpsertedEvent{})
	c.handler.bus.Subscribe(c.eventsChan, events.TypingChangedEvent{})
	c.handler.bus.Subscribe(c.eventsChan, events.ConnectionOpenedEvent{})
	c.handler.bus.Subscribe(c.eventsChan, events.ConnectionClosedEvent{})
	c.handler.bus.Subscribe(c.eventsChan, events.ActiveChatChangedEvent{})

	go c.listen()
}

func (c *Consumer) listen() {
	for {
		select {
		case <-c.ctx.Done():
			log.Println("api consumer stopped")
			return
		case event := <-c.eventsChan:
			c.handleEvent(event)
		}
	}
}

func (c *Consumer) handleEvent(event interface{}) {
	switch event := event.(type) {
	case events.MessageMergedEvent:
		c.handler.pushEvent(WsEventMessageMerged, event.Message)
	case events.MessageStatusChangedEvent:
		c.handler.pushEvent(WsEventMessageStatus, WsMessageStatusPayload{
			ChatID:    event.ChatID,
			MessageID: event.MessageID,
			Status:    event.Status,
		})
	case events.ChatUpsertedEvent:
		c.handler.pushEvent(WsEventChatUpserted, event.Chat)
	case events.TypingChangedEvent:
		c.handler.pushEvent(WsEventTyping, WsTypingPayload{
			ChatID:     event.ChatID,
			TypingUser: event.TypingUser,
			IsTyping:   event.IsTyping,
		})
	case events.ConnectionOpenedEvent:
		c.handler.pushEvent(WsEventConnection, WsConnectionPayload{Address: event.Address, Open: true})
	case events.ConnectionClosedEvent:
		c.handler.pushEvent(WsEventConnection, WsConnectionPayload{Address: event.Address, Open: false})
	case events.ActiveChatChangedEvent:
		c.handler.pushEvent(WsEventActiveChat, WsActiveChatPayload{ChatID: event.ChatID})
	}
}
