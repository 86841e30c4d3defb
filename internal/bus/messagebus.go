package bus

import (
	"context"
	"sync"
)

// MessageBus is the in-process hub connecting channel adapters to the
// agent runtime: inbound messages from channels (or a session_send tool
// call) flow through Inbound, agent replies flow back through Outbound,
// and broadcast Events fan out to any number of subscribers (gateway
// clients, cache-invalidation listeners). Buffered and non-blocking: a
// publish into a full channel drops rather than stalling the caller.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

const busBufferSize = 256

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, busBufferSize),
		outbound:    make(chan OutboundMessage, busBufferSize),
		subscribers: make(map[string]EventHandler),
	}
}

func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
	}
}

func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
	}
}

func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.subscribers {
		h(event)
	}
}

var (
	_ MessageRouter  = (*MessageBus)(nil)
	_ EventPublisher = (*MessageBus)(nil)
)
