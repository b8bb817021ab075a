package transport

import (
	"github.com/brutella/can"
	"github.com/jd3nn1s/vehiclebus/frame"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrBusFault       = errors.New("transport: bus fault")
	ErrMalformedFrame = errors.New("transport: malformed frame")
)

// Bus is the part of a brutella/can bus the transport drives.
type Bus interface {
	SubscribeFunc(can.HandlerFunc)
	ConnectAndPublish() error
	Disconnect() error
	Publish(can.Frame) error
}

// to allow testing
var newBus = func(name string) (Bus, error) {
	b, err := can.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// handleFrame is subscribed to the real bus and runs on its read loop.
func (t *Transport) handleFrame(cf can.Frame) {
	log.WithField("canID", cf.ID).
		WithField("length", cf.Length).
		Debug("received canbus frame")

	f, err := frame.FromCAN(cf)
	if err != nil {
		switch errors.Cause(err) {
		case frame.ErrErrorFrame:
			t.report(errors.Wrapf(ErrBusFault, "%v", err))
		default:
			t.report(errors.Wrapf(ErrMalformedFrame, "%v", err))
		}
		return
	}
	t.emit(f)
}

func closeBus(b Bus) {
	if err := b.Disconnect(); err != nil {
		log.WithField("err", err).Warn("unable to disconnect canbus")
	}
}
