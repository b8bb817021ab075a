package vehiclebus

import (
	"context"

	"github.com/jd3nn1s/vehiclebus/transport"
	"github.com/pkg/errors"
)

var errLinkClosed = errors.New("transport disconnected")

// link supervises a transport so it can be run by retry.
type link struct {
	t       *transport.Transport
	channel string
}

func (l *link) Open(ctx context.Context) error {
	switch state := l.t.Connect(ctx, l.channel); state {
	case transport.Connected, transport.SimulationActive:
		return nil
	case transport.Error:
		return l.failure()
	default:
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.Errorf("unable to connect %s: transport %s", l.channel, state)
	}
}

func (l *link) Close() error {
	l.t.Disconnect()
	return nil
}

// Start blocks until the transport leaves its running state or ctx is done.
func (l *link) Start(ctx context.Context) error {
	stopped := make(chan struct{}, 1)
	cancel := l.t.OnStateChange(func(s transport.State) {
		if s == transport.Error || s == transport.Disconnected {
			select {
			case stopped <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	if s := l.t.State(); s == transport.Error || s == transport.Disconnected {
		return l.failure()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return l.failure()
	}
}

func (l *link) failure() error {
	if err := l.t.Err(); err != nil {
		return err
	}
	return errLinkClosed
}

func (l *link) Name() string {
	return "canbus " + l.channel
}
