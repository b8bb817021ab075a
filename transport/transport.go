// Package transport delivers vehicle frames from a SocketCAN channel, or
// from the simulator when no channel can be opened.
//
// Lifecycle:
//
//	disconnected --open--> connecting --confirm--> connected
//	disconnected, connecting --fallback--> simulation
//	connecting, connected --fail--> error
//	any --close--> disconnected
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/jd3nn1s/vehiclebus/frame"
	"github.com/jd3nn1s/vehiclebus/simulator"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultFrameBuffer = 64
	DefaultErrorBuffer = 16
)

// Source produces frames until its context is done.
type Source interface {
	Run(ctx context.Context, tick time.Duration, emit func(frame.Frame)) error
}

type Transport struct {
	mu      sync.Mutex
	machine *fsm.FSM
	pending []State
	err     error

	// the running channel or simulator
	bus     Bus
	cancel  context.CancelFunc
	done    chan struct{}
	attempt uint64

	newSource       func() Source
	opener          func(name string) (Bus, error)
	tick            time.Duration
	forceSimulation bool

	frames chan frame.Frame
	errs   chan error

	notifyMu sync.Mutex
	subMu    sync.Mutex
	subs     map[int]func(State)
	nextSub  int
}

type Option func(*Transport)

// WithSource replaces the simulator used for fallback.
func WithSource(fn func() Source) Option {
	return func(t *Transport) {
		t.newSource = fn
	}
}

// WithOpener replaces the SocketCAN opener used by Connect.
func WithOpener(fn func(name string) (Bus, error)) Option {
	return func(t *Transport) {
		t.opener = fn
	}
}

// WithTick sets the simulator tick.
func WithTick(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.tick = d
		}
	}
}

func WithBuffers(frames, errs int) Option {
	return func(t *Transport) {
		if frames > 0 {
			t.frames = make(chan frame.Frame, frames)
		}
		if errs > 0 {
			t.errs = make(chan error, errs)
		}
	}
}

// WithForceSimulation makes Connect skip the real channel.
func WithForceSimulation(force bool) Option {
	return func(t *Transport) {
		t.forceSimulation = force
	}
}

func New(opts ...Option) *Transport {
	t := &Transport{
		newSource: func() Source {
			return simulator.New()
		},
		tick:   simulator.DefaultTick,
		frames: make(chan frame.Frame, DefaultFrameBuffer),
		errs:   make(chan error, DefaultErrorBuffer),
		subs:   make(map[int]func(State)),
	}
	t.machine = newMachine(func(s State) {
		t.pending = append(t.pending, s)
	})
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Frames is the stream of received or simulated frames. Frames are dropped
// when the consumer falls behind.
func (t *Transport) Frames() <-chan frame.Frame {
	return t.frames
}

// Errors is the stream of transport faults. Reporting a fault does not end
// the frame stream.
func (t *Transport) Errors() <-chan error {
	return t.errs
}

func (t *Transport) State() State {
	return State(t.machine.Current())
}

// Err is the fault that moved the transport to Error, if any.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// OnStateChange calls fn once for every state entered. fn must not call
// Connect, Simulate or Disconnect synchronously.
func (t *Transport) OnStateChange(fn func(State)) (cancel func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		delete(t.subs, id)
	}
}

// Connect opens the named channel. If it cannot be opened the transport
// falls back to simulation instead of failing. Connect is a no-op unless
// the transport is Disconnected; a transport in Error must be disconnected
// first.
func (t *Transport) Connect(ctx context.Context, name string) State {
	t.mu.Lock()
	if cur := t.State(); cur != Disconnected {
		t.mu.Unlock()
		log.WithField("state", cur).Debug("connect ignored")
		return cur
	}
	if t.forceSimulation {
		t.startSimulation()
		return t.unlockAndNotify()
	}

	t.event(eventOpen)
	t.attempt++
	attempt := t.attempt
	attemptCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.unlockAndNotify()

	log.WithField("channel", name).Info("opening canbus")

	type result struct {
		bus Bus
		err error
	}
	open := t.opener
	if open == nil {
		open = newBus
	}
	resChan := make(chan result, 1)
	go func() {
		b, err := open(name)
		resChan <- result{b, err}
	}()

	var res result
	select {
	case res = <-resChan:
	case <-attemptCtx.Done():
		go func() {
			if r := <-resChan; r.err == nil {
				closeBus(r.bus)
			}
		}()
		t.mu.Lock()
		if t.attempt == attempt && t.State() == Connecting {
			t.cancel = nil
			t.event(eventClose)
		}
		log.WithField("channel", name).Info("connect cancelled")
		return t.unlockAndNotify()
	}
	cancel()

	t.mu.Lock()
	if t.attempt != attempt || t.State() != Connecting {
		// disconnected while opening
		t.mu.Unlock()
		if res.err == nil {
			closeBus(res.bus)
		}
		return t.State()
	}
	t.cancel = nil
	if res.err != nil {
		t.report(errors.Wrapf(res.err, "unable to open channel %s", name))
		log.WithField("channel", name).
			WithField("err", res.err).
			Warn("canbus unavailable, falling back to simulation")
		t.startSimulation()
	} else {
		t.startBus(res.bus)
	}
	return t.unlockAndNotify()
}

// Simulate starts simulation without trying a real channel.
func (t *Transport) Simulate() State {
	t.mu.Lock()
	if cur := t.State(); cur != Disconnected {
		t.mu.Unlock()
		return cur
	}
	t.startSimulation()
	return t.unlockAndNotify()
}

// Disconnect stops the simulator or closes the channel. It is safe to call
// in any state.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	cancel, bus, done := t.cancel, t.bus, t.done
	t.cancel, t.bus, t.done, t.err = nil, nil, nil, nil
	t.attempt++
	if t.State() != Disconnected {
		t.event(eventClose)
	}
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if bus != nil {
		closeBus(bus)
	}
	if done != nil {
		<-done
	}
	t.notify(pending)
}

// Send publishes f when a real channel is connected. In any other state the
// frame is dropped.
func (t *Transport) Send(f frame.Frame) error {
	t.mu.Lock()
	bus := t.bus
	connected := t.State() == Connected
	t.mu.Unlock()

	if !connected || bus == nil {
		log.WithField("canID", f.ID()).Debug("not connected, dropping frame")
		return nil
	}
	if err := bus.Publish(f.CAN()); err != nil {
		return errors.Wrapf(err, "unable to send frame 0x%x", f.ID())
	}
	return nil
}

// startSimulation must be called with mu held.
func (t *Transport) startSimulation() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel, t.done = cancel, done

	src := t.newSource()
	tick := t.tick
	go func() {
		defer close(done)
		_ = src.Run(ctx, tick, t.emit)
	}()
	t.event(eventFallback)
}

// startBus must be called with mu held.
func (t *Transport) startBus(b Bus) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.bus, t.cancel, t.done = b, cancel, done

	b.SubscribeFunc(t.handleFrame)
	go func() {
		defer close(done)
		t.readLoop(ctx, b)
	}()
	t.event(eventConfirm)
	log.Info("canbus opened and subscribed")
}

func (t *Transport) readLoop(ctx context.Context, b Bus) {
	err := b.ConnectAndPublish()
	select {
	case <-ctx.Done():
		return
	default:
	}
	if err == nil {
		err = errors.New("channel closed")
	}
	err = errors.Wrapf(ErrBusFault, "read loop: %v", err)
	t.report(err)

	t.mu.Lock()
	if t.bus == b && t.State() == Connected {
		t.err = err
		t.event(eventFail)
	}
	t.unlockAndNotify()
}

// event must be called with mu held.
func (t *Transport) event(name string) {
	if err := t.machine.Event(context.Background(), name); err != nil {
		log.WithField("event", name).
			WithField("err", err).
			Debug("transport event rejected")
	}
}

// unlockAndNotify releases mu, then tells subscribers about the states
// entered while it was held.
func (t *Transport) unlockAndNotify() State {
	state := t.State()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()
	t.notify(pending)
	return state
}

func (t *Transport) notify(states []State) {
	if len(states) == 0 {
		return
	}
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.subMu.Lock()
	subs := make([]func(State), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.subMu.Unlock()

	for _, s := range states {
		log.WithField("state", s).Info("transport state changed")
		for _, fn := range subs {
			fn(s)
		}
	}
}

func (t *Transport) emit(f frame.Frame) {
	select {
	case t.frames <- f:
	default:
		log.WithField("canID", f.ID()).Debug("frame buffer full, dropping frame")
	}
}

func (t *Transport) report(err error) {
	log.WithField("err", err).Error("transport fault")
	select {
	case t.errs <- err:
	default:
	}
}
