package vehiclebus

import (
	"sync"

	"github.com/jd3nn1s/vehiclebus/telemetry"
	"github.com/jd3nn1s/vehiclebus/transport"
)

type forwarderStub struct {
	mu        sync.Mutex
	calls     int
	newState  telemetry.VehicleState
	prevState telemetry.VehicleState
	err       error
	fwdChan   chan telemetry.VehicleState
}

func createForwarderStub() *forwarderStub {
	return &forwarderStub{
		fwdChan: make(chan telemetry.VehicleState, 64),
	}
}

func (fwd *forwarderStub) Forward(newState *telemetry.VehicleState, prevState *telemetry.VehicleState) error {
	fwd.mu.Lock()
	fwd.calls++
	fwd.newState = *newState
	fwd.prevState = *prevState
	err := fwd.err
	fwd.mu.Unlock()

	select {
	case fwd.fwdChan <- *newState:
	default:
	}
	return err
}

func (fwd *forwarderStub) callCount() int {
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	return fwd.calls
}

func watchStates(t *transport.Transport) <-chan transport.State {
	ch := make(chan transport.State, 16)
	t.OnStateChange(func(s transport.State) {
		select {
		case ch <- s:
		default:
		}
	})
	return ch
}
