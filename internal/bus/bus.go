// Package bus carries events from channels to the gateway and replies back.
package bus

import (
	"context"
	"sync"
)

const defaultBuffer = 100

// MessageBus routes events between channels and the gateway.
type MessageBus struct {
	inbound  chan InboundEvent
	outbound chan OutboundMessage

	// Channel message handlers (channel name → handler)
	handlers  map[string]MessageHandler
	handlerMu sync.RWMutex
}

func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundEvent, defaultBuffer),
		outbound: make(chan OutboundMessage, defaultBuffer),
		handlers: make(map[string]MessageHandler),
	}
}

// PublishInbound queues an inbound event. It blocks while the buffer is
// full or until ctx is cancelled.
func (mb *MessageBus) PublishInbound(ctx context.Context, ev InboundEvent) bool {
	select {
	case mb.inbound <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// ConsumeInbound blocks until an inbound event is available or ctx is cancelled.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case ev := <-mb.inbound:
		return ev, true
	case <-ctx.Done():
		return InboundEvent{}, false
	}
}

// PublishOutbound queues an outbound message. It blocks while the buffer is
// full or until ctx is cancelled.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	select {
	case mb.outbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// SubscribeOutbound blocks until an outbound message is available or ctx is cancelled.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// RegisterHandler registers the delivery handler for a channel.
func (mb *MessageBus) RegisterHandler(channel string, handler MessageHandler) {
	mb.handlerMu.Lock()
	defer mb.handlerMu.Unlock()
	mb.handlers[channel] = handler
}

// GetHandler returns the delivery handler for a channel.
func (mb *MessageBus) GetHandler(channel string) (MessageHandler, bool) {
	mb.handlerMu.RLock()
	defer mb.handlerMu.RUnlock()
	handler, ok := mb.handlers[channel]
	return handler, ok
}
