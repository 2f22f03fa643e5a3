// Package platformtest provides a scriptable adapter for tests
package platformtest

import (
	"context"
	"sync"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
)

// Adapter is a push-confirmed fake. Connect and Disconnect calls are recorded;
// set AutoConfirm to emit Connected/Disconnected immediately.
type Adapter struct {
	*platform.Emitter

	P           message.Platform
	AutoConfirm bool
	ConnectErr  error

	mu          sync.Mutex
	connects    []string
	disconnects []string
}

// New creates a fake adapter for p
func New(p message.Platform) *Adapter {
	return &Adapter{Emitter: platform.NewEmitter(p, 16), P: p}
}

func (a *Adapter) Platform() message.Platform { return a.P }

func (a *Adapter) Connect(ctx context.Context, channel string) error {
	a.mu.Lock()
	a.connects = append(a.connects, channel)
	err := a.ConnectErr
	auto := a.AutoConfirm
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if auto {
		a.Lifecycle(platform.EventConnected, channel, nil)
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context, channel string) error {
	a.mu.Lock()
	a.disconnects = append(a.disconnects, channel)
	auto := a.AutoConfirm
	a.mu.Unlock()
	if auto {
		a.Lifecycle(platform.EventDisconnected, channel, nil)
	}
	return nil
}

// Connects returns the channels passed to Connect so far
func (a *Adapter) Connects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.connects...)
}

// Disconnects returns the channels passed to Disconnect so far
func (a *Adapter) Disconnects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.disconnects...)
}

// PollAdapter is a poll-confirmed fake; Confirm returns Live.
type PollAdapter struct {
	*Adapter

	mu         sync.Mutex
	live       bool
	confirmErr error
	polled     int
}

// NewPoll creates a poll-confirmed fake adapter for p
func NewPoll(p message.Platform) *PollAdapter {
	return &PollAdapter{Adapter: New(p)}
}

// SetLive changes what Confirm reports
func (a *PollAdapter) SetLive(live bool) {
	a.mu.Lock()
	a.live = live
	a.mu.Unlock()
}

// SetConfirmErr makes Confirm fail with err
func (a *PollAdapter) SetConfirmErr(err error) {
	a.mu.Lock()
	a.confirmErr = err
	a.mu.Unlock()
}

// Polls returns how many times Confirm was called
func (a *PollAdapter) Polls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polled
}

func (a *PollAdapter) Confirm(ctx context.Context, channel string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polled++
	if a.confirmErr != nil {
		return false, a.confirmErr
	}
	return a.live, nil
}

// CredentialAdapter is a credentialed fake holding a token per channel
type CredentialAdapter struct {
	*Adapter
	Tokens map[string]string
}

// NewCredentialed creates a credentialed fake adapter for p
func NewCredentialed(p message.Platform, tokens map[string]string) *CredentialAdapter {
	return &CredentialAdapter{Adapter: New(p), Tokens: tokens}
}

func (a *CredentialAdapter) HasCredential(channel string) bool {
	return a.Tokens[channel] != ""
}
