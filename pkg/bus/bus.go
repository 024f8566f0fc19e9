// Package bus is the in-process message fabric between the interactive
// surface, the conversation controller, and the subagent supervisor.
// Both directions are bounded queues with non-blocking publishes: a slow
// consumer costs dropped messages (logged), never a stalled publisher.
package bus

import (
	"context"
	"sync"

	"github.com/corvid/agentkit/pkg/logger"
)

// queueDepth bounds each direction. Deep enough to absorb a burst of
// subagent progress reports, small enough that backlog means something
// is wrong with the consumer.
const queueDepth = 100

// queue is one direction of the bus.
type queue[T any] struct {
	ch chan T
}

func newQueue[T any]() queue[T] {
	return queue[T]{ch: make(chan T, queueDepth)}
}

// put enqueues without blocking. It reports false when the bus is shut
// down or the buffer is full.
func (q queue[T]) put(done <-chan struct{}, msg T) bool {
	select {
	case <-done:
		return false
	default:
	}
	select {
	case q.ch <- msg:
		return true
	default:
		return false
	}
}

// take blocks for the next message until ctx is cancelled or the bus
// shuts down.
func (q queue[T]) take(ctx context.Context, done <-chan struct{}) (T, bool) {
	var zero T
	select {
	case <-done:
		return zero, false
	default:
	}
	select {
	case msg := <-q.ch:
		return msg, true
	case <-done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// MessageBus carries inbound traffic (user turns, subagent reports)
// toward the conversation controller and outbound traffic (responses,
// progress pings) back to whatever is displaying them.
type MessageBus struct {
	inbound   queue[InboundMessage]
	outbound  queue[OutboundMessage]
	done      chan struct{}
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  newQueue[InboundMessage](),
		outbound: newQueue[OutboundMessage](),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	if !mb.inbound.put(mb.done, msg) {
		logger.WarnCF("bus", "inbound queue full or bus closed, dropping message",
			map[string]interface{}{"channel": msg.Channel, "chat_id": msg.ChatID})
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return mb.inbound.take(ctx, mb.done)
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	if !mb.outbound.put(mb.done, msg) {
		logger.WarnCF("bus", "outbound queue full or bus closed, dropping message",
			map[string]interface{}{"channel": msg.Channel, "chat_id": msg.ChatID})
	}
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return mb.outbound.take(ctx, mb.done)
}

// Close shuts the bus down. Publishes after Close are dropped (each drop
// is logged at WARN) and pending consumers unblock with ok=false; the queue channels are
// never closed, so there is no send-on-closed-channel hazard.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
	})
}
