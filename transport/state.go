package transport

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a Transport.
type State string

const (
	Disconnected     State = "disconnected"
	Connecting       State = "connecting"
	Connected        State = "connected"
	SimulationActive State = "simulation"
	Error            State = "error"
)

const (
	eventOpen     = "open"
	eventConfirm  = "confirm"
	eventFallback = "fallback"
	eventFail     = "fail"
	eventClose    = "close"
)

func (s State) String() string {
	return string(s)
}

func newMachine(onEnter func(State)) *fsm.FSM {
	return fsm.NewFSM(
		string(Disconnected),
		fsm.Events{
			{Name: eventOpen, Src: []string{string(Disconnected)}, Dst: string(Connecting)},
			{Name: eventConfirm, Src: []string{string(Connecting)}, Dst: string(Connected)},
			{Name: eventFallback, Src: []string{string(Disconnected), string(Connecting)}, Dst: string(SimulationActive)},
			{Name: eventFail, Src: []string{string(Connecting), string(Connected)}, Dst: string(Error)},
			{Name: eventClose, Src: []string{
				string(Connecting),
				string(Connected),
				string(SimulationActive),
				string(Error),
			}, Dst: string(Disconnected)},
		},
		fsm.Callbacks{
			// only called when the state actually changes
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Dst))
			},
		},
	)
}
