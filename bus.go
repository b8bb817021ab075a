// Package vehiclebus connects a frame transport to the vehicle state store
// and forwards every state change to the registered forwarders.
package vehiclebus

import (
	"context"
	"sync"
	"time"

	"github.com/jd3nn1s/vehiclebus/codec"
	"github.com/jd3nn1s/vehiclebus/frame"
	"github.com/jd3nn1s/vehiclebus/telemetry"
	"github.com/jd3nn1s/vehiclebus/transport"
	log "github.com/sirupsen/logrus"
)

// Forwarder receives the new state whenever it differs from the last one
// forwarded.
type Forwarder interface {
	Forward(newState *telemetry.VehicleState, prevState *telemetry.VehicleState) error
}

type Bus struct {
	transport  *transport.Transport
	store      *telemetry.Store
	reconnect  bool
	retryDelay time.Duration

	mu         sync.Mutex
	forwarders []Forwarder
	state      telemetry.VehicleState
}

type Option func(*Bus)

// WithReconnect controls whether a failed channel is reopened. Without it
// Start returns the first link failure.
func WithReconnect(reconnect bool) Option {
	return func(b *Bus) {
		b.reconnect = reconnect
	}
}

// WithRetryDelay sets the pause before a failed channel is reopened.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Bus) {
		if d >= 0 {
			b.retryDelay = d
		}
	}
}

func New(t *transport.Transport, s *telemetry.Store, opts ...Option) *Bus {
	b := &Bus{
		transport:  t,
		store:      s,
		reconnect:  true,
		retryDelay: retrySleep,
		state:      s.Snapshot(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) AddForwarder(fwd Forwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forwarders = append(b.forwarders, fwd)
}

func (b *Bus) Transport() *transport.Transport {
	return b.transport
}

func (b *Bus) Store() *telemetry.Store {
	return b.store
}

// Telemetry is the state last handed to the forwarders.
func (b *Bus) Telemetry() telemetry.VehicleState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start opens the channel and keeps it open until ctx is done. The transport
// is disconnected on return.
func (b *Bus) Start(ctx context.Context, channel string) error {
	l := &link{t: b.transport, channel: channel}
	defer b.transport.Disconnect()

	if b.reconnect {
		err := retry(ctx, l, b.retryDelay)
		log.WithField("err", err).Info("canbus supervisor done")
		return err
	}
	if err := l.Open(ctx); err != nil {
		return err
	}
	return l.Start(ctx)
}

// CheckFrame applies one frame to the store and reports whether the state
// now differs from the last forwarded one.
func (b *Bus) CheckFrame(f frame.Frame) bool {
	for _, u := range codec.Decode(f) {
		b.store.Apply(u)
	}
	return b.changed()
}

func (b *Bus) changed() bool {
	st := b.store.Snapshot()
	b.mu.Lock()
	defer b.mu.Unlock()
	return st != b.state
}

// TelemetryUpdate hands the current state to every forwarder.
func (b *Bus) TelemetryUpdate() {
	st := b.store.Snapshot()

	b.mu.Lock()
	prev := b.state
	b.state = st
	forwarders := make([]Forwarder, len(b.forwarders))
	copy(forwarders, b.forwarders)
	b.mu.Unlock()

	for _, fwd := range forwarders {
		if err := fwd.Forward(&st, &prev); err != nil {
			log.WithField("err", err).Warn("unable to forward telemetry")
		}
	}
}

// Run pumps frames from the transport into the store until ctx is done. It
// also runs the store's odometer clock.
func (b *Bus) Run(ctx context.Context) error {
	ticked := make(chan struct{}, 1)
	cancel := b.store.Subscribe(telemetry.FieldOdometer, func(telemetry.Change) {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})
	defer cancel()

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.store.Run(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-b.transport.Frames():
			if b.CheckFrame(f) {
				b.TelemetryUpdate()
			}
		case err := <-b.transport.Errors():
			log.WithField("err", err).Debug("transport error received")
		case <-ticked:
			if b.changed() {
				b.TelemetryUpdate()
			}
		}
	}
}
