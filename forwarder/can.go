package forwarder

import (
	"github.com/jd3nn1s/vehiclebus/codec"
	"github.com/jd3nn1s/vehiclebus/frame"
	"github.com/jd3nn1s/vehiclebus/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FrameSender puts a frame on the bus.
type FrameSender interface {
	Send(frame.Frame) error
}

// CANForwarder sends speed changes on its own outbound id, encoded like the
// speed channel, for displays that listen on a different id.
type CANForwarder struct {
	sender FrameSender
	id     uint32
}

// NewCANForwarder refuses ids the bus is read from, so received values are
// never republished under their own id.
func NewCANForwarder(sender FrameSender, id uint32) (*CANForwarder, error) {
	if sender == nil {
		return nil, errors.New("canbus is not initialized")
	}
	if frame.IsInbound(id) {
		return nil, errors.Errorf("outbound id 0x%x is an inbound channel", id)
	}
	return &CANForwarder{sender: sender, id: id}, nil
}

func (fwd *CANForwarder) Forward(newState *telemetry.VehicleState, prevState *telemetry.VehicleState) error {
	if prevState.Speed == newState.Speed {
		return nil
	}
	payload := codec.Encode(codec.Speed(newState.Speed)).Payload()
	f, err := frame.New(fwd.id, payload)
	if err != nil {
		return err
	}
	log.WithField("canID", fwd.id).
		WithField("speed", newState.Speed).
		Debug("sending speed over canbus")
	if err := fwd.sender.Send(f); err != nil {
		return errors.Wrapf(err, "unable to send speed to CAN bus")
	}
	return nil
}
