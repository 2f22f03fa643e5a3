// Package supervisor owns the connection state of every chat platform.
//
// Each platform is served by one "link" goroutine that applies triggers in
// order, so at most one transition per platform is in flight. Adapter calls
// never run on a link goroutine: connect attempts and disconnects run in
// their own goroutines and report back through the link's inbox.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/john/chatmux/internal/message"
	"github.com/john/chatmux/internal/platform"
	"github.com/john/chatmux/internal/telemetry"
)

var (
	// ErrConnectTimeout is reported when a connect attempt outlives its deadline
	ErrConnectTimeout = errors.New("connect timed out")
	// ErrMissingCredential rejects a connect request for a channel without a token
	ErrMissingCredential = errors.New("missing credential")
	// ErrNoChannel rejects a connect request with no channel given or stored
	ErrNoChannel = errors.New("no channel")
	// ErrStopped is returned once Run has exited
	ErrStopped = errors.New("supervisor stopped")
)

// Alert destinations
const (
	AlertChat     = "chat"
	AlertSettings = "settings"
	AlertBoth     = "both"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultPollInterval   = 5 * time.Second
	cleanupTimeout        = 10 * time.Second
)

// ChannelStore persists the last requested channel per platform
type ChannelStore interface {
	Channel(p message.Platform) string
	SetChannel(p message.Platform, channel string) error
}

// Publisher receives state tables and alerts for viewers
type Publisher interface {
	PublishStateChange(states map[message.Platform]State)
	PublishAlert(dest, text string)
}

// Options configure a Supervisor
type Options struct {
	ConnectTimeout time.Duration
	PollInterval   time.Duration
	// OnMessage receives every EventMessage from every adapter. It is called
	// from the adapter's reader goroutine.
	OnMessage func(platform.Event)
	Logger    *zap.Logger
}

type command struct {
	trigger Trigger
	channel string
	err     error
	gen     uint64 // non-zero for attempt results; stale generations are dropped
	reply   chan error
}

type attempt struct {
	cancel    context.CancelFunc
	abandoned atomic.Bool
}

type link struct {
	platform message.Platform
	adapter  platform.Adapter
	inbox    chan command

	// owned by the link goroutine
	channel string
	gen     uint64
	attempt *attempt
}

// Supervisor drives the adapters through the connection state machine
type Supervisor struct {
	links  map[message.Platform]*link
	store  ChannelStore
	pub    Publisher
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	states map[message.Platform]State

	// held across state change and publish so tables go out in order
	pubMu sync.Mutex

	wg      sync.WaitGroup
	running atomic.Bool
	stopped chan struct{}
}

// New creates a Supervisor for adapters. Every platform starts Disconnected.
func New(adapters []platform.Adapter, store ChannelStore, pub Publisher, opts Options) *Supervisor {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Supervisor{
		links:   make(map[message.Platform]*link, len(adapters)),
		store:   store,
		pub:     pub,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("component", "supervisor")),
		states:  make(map[message.Platform]State, len(adapters)),
		stopped: make(chan struct{}),
	}
	for _, a := range adapters {
		p := a.Platform()
		s.links[p] = &link{platform: p, adapter: a, inbox: make(chan command, 32)}
		s.states[p] = Disconnected
	}
	return s
}

// Run starts the link and reader goroutines and blocks until ctx is done and
// all of them, including in-flight attempts, have exited.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("supervisor already running")
	}
	defer close(s.stopped)

	for _, l := range s.links {
		s.wg.Add(2)
		go s.runLink(ctx, l)
		go s.readEvents(ctx, l)
	}
	s.logger.Info("supervisor started", zap.Int("platforms", len(s.links)))

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("supervisor stopped")
	return nil
}

// CurrentStates returns a copy of the state table
func (s *Supervisor) CurrentStates() map[message.Platform]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Supervisor) snapshot() map[message.Platform]State {
	out := make(map[message.Platform]State, len(s.states))
	for p, st := range s.states {
		out[p] = st
	}
	return out
}

func (s *Supervisor) state(p message.Platform) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[p]
}

// RequestConnect asks for platform to join channel. An empty channel means
// the stored one.
func (s *Supervisor) RequestConnect(ctx context.Context, platformName, channel string) error {
	l, err := s.link(platformName)
	if err != nil {
		return err
	}
	return s.request(ctx, l, command{trigger: RequestConnect, channel: channel})
}

// RequestDisconnect asks for platform to leave channel, or all channels when
// channel is empty.
func (s *Supervisor) RequestDisconnect(ctx context.Context, platformName, channel string) error {
	l, err := s.link(platformName)
	if err != nil {
		return err
	}
	return s.request(ctx, l, command{trigger: RequestDisconnect, channel: channel})
}

// AdapterConnected reports that p's connection is established
func (s *Supervisor) AdapterConnected(p message.Platform) {
	s.notify(p, command{trigger: AdapterConnected})
}

// AdapterDisconnected reports that p's connection is closed
func (s *Supervisor) AdapterDisconnected(p message.Platform) {
	s.notify(p, command{trigger: AdapterDisconnected})
}

// AdapterFailed reports that p's connection attempt failed
func (s *Supervisor) AdapterFailed(p message.Platform, reason error) {
	s.notify(p, command{trigger: AdapterFailed, err: reason})
}

func (s *Supervisor) link(name string) (*link, error) {
	p, err := message.ParsePlatform(name)
	if err != nil {
		return nil, err
	}
	l, ok := s.links[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no adapter", message.ErrUnknownPlatform, p)
	}
	return l, nil
}

func (s *Supervisor) request(ctx context.Context, l *link, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case l.inbox <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

func (s *Supervisor) notify(p message.Platform, cmd command) {
	l, ok := s.links[p]
	if !ok {
		s.logger.Warn("trigger for platform without adapter", zap.String("platform", string(p)), zap.Stringer("trigger", cmd.trigger))
		return
	}
	select {
	case l.inbox <- cmd:
	case <-s.stopped:
	}
}

// deliver hands an internal result to the link, giving up on shutdown
func (s *Supervisor) deliver(ctx context.Context, l *link, cmd command) {
	select {
	case l.inbox <- cmd:
	case <-ctx.Done():
	}
}

func (s *Supervisor) runLink(ctx context.Context, l *link) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			if l.attempt != nil {
				l.attempt.cancel()
			}
			return
		case cmd := <-l.inbox:
			err := s.handle(ctx, l, cmd)
			if cmd.reply != nil {
				cmd.reply <- err
			}
		}
	}
}

func (s *Supervisor) readEvents(ctx context.Context, l *link) {
	defer s.wg.Done()
	events := l.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.route(ctx, l, ev)
		}
	}
}

func (s *Supervisor) route(ctx context.Context, l *link, ev platform.Event) {
	switch ev.Kind {
	case platform.EventMessage:
		if s.opts.OnMessage != nil {
			s.opts.OnMessage(ev)
		}
	case platform.EventConnected:
		s.deliver(ctx, l, command{trigger: AdapterConnected, channel: ev.Channel})
	case platform.EventDisconnected:
		s.deliver(ctx, l, command{trigger: AdapterDisconnected, channel: ev.Channel})
	case platform.EventAuthFailed:
		err := ev.Err
		if err == nil {
			err = platform.ErrAuthFailure
		}
		s.deliver(ctx, l, command{trigger: AdapterFailed, channel: ev.Channel, err: err})
	case platform.EventFailed:
		s.deliver(ctx, l, command{trigger: AdapterFailed, channel: ev.Channel, err: ev.Err})
	default:
		s.logger.Warn("unknown adapter event", zap.String("platform", string(l.platform)), zap.Stringer("kind", ev.Kind))
	}
}

func (s *Supervisor) handle(ctx context.Context, l *link, cmd command) error {
	switch cmd.trigger {
	case RequestConnect:
		return s.connect(ctx, l, strings.TrimSpace(cmd.channel))
	case RequestDisconnect:
		s.disconnect(ctx, l, strings.TrimSpace(cmd.channel))
		return nil
	}
	if cmd.gen != 0 && cmd.gen != l.gen {
		s.logger.Debug("dropping stale attempt result",
			zap.String("platform", string(l.platform)),
			zap.Stringer("trigger", cmd.trigger))
		return nil
	}
	s.apply(ctx, l, cmd)
	return nil
}

func (s *Supervisor) connect(ctx context.Context, l *link, channel string) error {
	p := l.platform
	if channel == "" && s.store != nil {
		channel = s.store.Channel(p)
	}
	if channel == "" {
		return fmt.Errorf("connect %s: %w", p, ErrNoChannel)
	}

	from := s.state(p)
	to, ok := Transition(from, RequestConnect)
	if !ok {
		s.persistChannel(p, channel)
		s.logger.Debug("connect already in progress",
			zap.String("platform", string(p)),
			zap.Stringer("state", from))
		return nil
	}

	if cred, ok := l.adapter.(platform.Credentialed); ok && !cred.HasCredential(channel) {
		s.alert(AlertSettings, fmt.Sprintf("%s: no token configured for channel %s", p, channel))
		return fmt.Errorf("connect %s channel %s: %w", p, channel, ErrMissingCredential)
	}
	s.persistChannel(p, channel)

	l.channel = channel
	s.setState(p, from, to)
	s.startAttempt(ctx, l)
	return nil
}

// persistChannel remembers channel as p's target when it changed
func (s *Supervisor) persistChannel(p message.Platform, channel string) {
	if s.store == nil || s.store.Channel(p) == channel {
		return
	}
	if err := s.store.SetChannel(p, channel); err != nil {
		s.logger.Warn("failed to persist channel", zap.String("platform", string(p)), zap.Error(err))
	}
}

func (s *Supervisor) startAttempt(ctx context.Context, l *link) {
	l.gen++
	gen := l.gen
	channel := l.channel

	actx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	att := &attempt{cancel: cancel}
	l.attempt = att

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		cmd, ok := s.runAttempt(actx, l.adapter, channel)
		if att.abandoned.Load() {
			s.cleanup(ctx, l.adapter, channel)
			return
		}
		if ok {
			cmd.gen = gen
			cmd.channel = channel
			s.deliver(ctx, l, cmd)
		}
	}()
}

// runAttempt connects and, for poll-confirmed adapters, polls until live.
// ok is false when the attempt was cancelled and nothing should be reported.
func (s *Supervisor) runAttempt(ctx context.Context, a platform.Adapter, channel string) (command, bool) {
	if err := a.Connect(ctx, channel); err != nil {
		if ctx.Err() != nil {
			return expired(ctx)
		}
		return command{trigger: AdapterFailed, err: err}, true
	}

	poller, ok := a.(platform.Poller)
	if !ok {
		// push-confirmed: the link cancels us when the adapter reports in
		<-ctx.Done()
		return expired(ctx)
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		live, err := poller.Confirm(ctx, channel)
		switch {
		case ctx.Err() != nil:
			return expired(ctx)
		case errors.Is(err, platform.ErrAuthFailure):
			return command{trigger: AdapterFailed, err: err}, true
		case err != nil:
			s.logger.Warn("confirm failed", zap.String("platform", string(a.Platform())), zap.Error(err))
		case live:
			return command{trigger: AdapterConnected}, true
		}

		select {
		case <-ctx.Done():
			return expired(ctx)
		case <-ticker.C:
		}
	}
}

func expired(ctx context.Context) (command, bool) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return command{trigger: ConnectTimeout, err: ErrConnectTimeout}, true
	}
	return command{}, false
}

// cleanup undoes whatever an abandoned attempt managed to set up
func (s *Supervisor) cleanup(ctx context.Context, a platform.Adapter, channel string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := a.Disconnect(cctx, channel); err != nil {
		s.logger.Warn("connect cleanup failed",
			zap.String("platform", string(a.Platform())),
			zap.Error(err))
	}
}

func (s *Supervisor) disconnect(ctx context.Context, l *link, channel string) {
	p := l.platform
	from := s.state(p)
	to, ok := Transition(from, RequestDisconnect)
	if !ok {
		s.logger.Debug("nothing to disconnect", zap.String("platform", string(p)), zap.Stringer("state", from))
		return
	}

	if from == Connecting {
		if l.attempt != nil {
			l.attempt.abandoned.Store(true)
			l.attempt.cancel()
			l.attempt = nil
		}
		s.setState(p, from, to)
		return
	}

	s.setState(p, from, to)
	a := l.adapter
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := a.Disconnect(dctx, channel); err != nil {
			s.logger.Warn("disconnect failed; treating as disconnected",
				zap.String("platform", string(p)),
				zap.Error(err))
			s.deliver(ctx, l, command{trigger: AdapterDisconnected, err: err})
		}
	}()
}

func (s *Supervisor) apply(ctx context.Context, l *link, cmd command) {
	p := l.platform
	from := s.state(p)
	to, ok := Transition(from, cmd.trigger)
	if !ok {
		log := s.logger.Debug
		if cmd.trigger == AdapterFailed {
			log = s.logger.Warn
		}
		log("ignoring trigger",
			zap.String("platform", string(p)),
			zap.Stringer("state", from),
			zap.Stringer("trigger", cmd.trigger),
			zap.Error(cmd.err))
		return
	}

	if from == Connecting && l.attempt != nil {
		l.attempt.cancel()
		l.attempt = nil
	}
	s.setState(p, from, to)

	channel := cmd.channel
	if channel == "" {
		channel = l.channel
	}
	switch cmd.trigger {
	case AdapterFailed:
		if errors.Is(cmd.err, platform.ErrAuthFailure) {
			s.alert(AlertBoth, fmt.Sprintf("%s rejected the credentials for %s", p, channel))
		} else {
			s.alert(AlertChat, fmt.Sprintf("Could not connect to %s channel %s: %v", p, channel, cmd.err))
		}
	case ConnectTimeout:
		s.alert(AlertChat, fmt.Sprintf("Timed out connecting to %s channel %s", p, channel))
	}

	// a failed attempt may have left the adapter half joined
	if from == Connecting && to == Disconnected {
		a := l.adapter
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleanup(ctx, a, channel)
		}()
	}
}

func (s *Supervisor) setState(p message.Platform, from, to State) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.states[p] = to
	table := s.snapshot()
	s.mu.Unlock()

	s.logger.Info("connection state changed",
		zap.String("platform", string(p)),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	telemetry.SetGaugeVec(telemetry.ConnectionState, float64(to), string(p))
	telemetry.IncVec(telemetry.Transitions, string(p), to.String())

	if s.pub != nil {
		s.pub.PublishStateChange(table)
	}
}

func (s *Supervisor) alert(dest, text string) {
	s.logger.Warn("alert", zap.String("dest", dest), zap.String("text", text))
	if s.pub != nil {
		s.pub.PublishAlert(dest, text)
	}
}
