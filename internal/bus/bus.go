// Package bus carries inbound Discord events from the platform layer to the
// dispatch loop. Outbound traffic does not pass through here: sends and
// thread creation are request/response calls on the platform client.
package bus

import "context"

// InboundEvent is one message-shaped event received from Discord.
type InboundEvent struct {
	ChannelID    string // channel the event belongs to (thread parent for thread events)
	ChannelName  string // channel name, for branch inference
	CategoryName string // parent category name, empty when uncategorized
	ThreadID     string // set when the event originated inside a thread
	MessageID    string
	AuthorID     string
	AuthorName   string
	Text         string
	IsThread     bool
	Metadata     map[string]string
}

// Bus is a bounded in-process queue of inbound events.
type Bus struct {
	inbound chan InboundEvent
}

// New creates a bus with a fixed buffer. Publishing to a full buffer drops
// the event rather than blocking the gateway reader.
func New() *Bus {
	return &Bus{inbound: make(chan InboundEvent, 256)}
}

// PublishInbound enqueues an event. Returns false if the buffer is full.
func (b *Bus) PublishInbound(ev InboundEvent) bool {
	select {
	case b.inbound <- ev:
		return true
	default:
		return false
	}
}

// ConsumeInbound blocks until an event arrives or ctx is done.
func (b *Bus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	select {
	case <-ctx.Done():
		return InboundEvent{}, false
	case ev := <-b.inbound:
		return ev, true
	}
}
