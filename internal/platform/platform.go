// Package platform defines the contract every chat source adapter implements.
//
// An adapter wraps one client library. It is told to connect and disconnect
// channels and reports what happened through its Events channel: raw chat
// messages plus lifecycle notifications. Adapters never touch connection state
// themselves; the supervisor owns that.
package platform

import (
	"context"
	"errors"
	"sync"

	"github.com/john/chatmux/internal/message"
)

// ErrAuthFailure marks a rejected credential
var ErrAuthFailure = errors.New("authentication failed")

// EventKind classifies adapter events
type EventKind int

const (
	EventMessage EventKind = iota
	EventConnected
	EventDisconnected
	EventAuthFailed
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventAuthFailed:
		return "auth_failed"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event is emitted by an adapter. Raw holds the platform payload for EventMessage.
type Event struct {
	Platform message.Platform
	Kind     EventKind
	Channel  string
	Raw      any
	Err      error
}

// Adapter wraps one external chat source
type Adapter interface {
	Platform() message.Platform
	// Connect starts joining channel. Success is reported asynchronously.
	Connect(ctx context.Context, channel string) error
	// Disconnect leaves channel, or every joined channel when channel is empty
	Disconnect(ctx context.Context, channel string) error
	Events() <-chan Event
}

// Poller is implemented by adapters whose connection must be confirmed by
// repeatedly asking the platform, e.g. whether a channel is live.
type Poller interface {
	Confirm(ctx context.Context, channel string) (bool, error)
}

// Credentialed is implemented by adapters that need a secret per channel
type Credentialed interface {
	HasCredential(channel string) bool
}

// Emitter is the buffered event channel shared by adapter implementations.
// Emit blocks until the event is accepted or the emitter is closed.
type Emitter struct {
	platform message.Platform
	ch       chan Event
	done     chan struct{}
	once     sync.Once
}

// NewEmitter creates an emitter with the given buffer size
func NewEmitter(p message.Platform, size int) *Emitter {
	if size <= 0 {
		size = 64
	}
	return &Emitter{
		platform: p,
		ch:       make(chan Event, size),
		done:     make(chan struct{}),
	}
}

// Events returns the receive side
func (e *Emitter) Events() <-chan Event { return e.ch }

// Emit sends ev, stamping the platform
func (e *Emitter) Emit(ev Event) {
	ev.Platform = e.platform
	select {
	case e.ch <- ev:
	case <-e.done:
	}
}

// Lifecycle is a shorthand for emitting a non-message event
func (e *Emitter) Lifecycle(kind EventKind, channel string, err error) {
	e.Emit(Event{Kind: kind, Channel: channel, Err: err})
}

// Close unblocks pending and future Emit calls. The channel itself stays open
// so readers select on their own context.
func (e *Emitter) Close() {
	e.once.Do(func() { close(e.done) })
}
