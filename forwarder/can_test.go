package forwarder

import (
	"testing"

	"github.com/jd3nn1s/vehiclebus/codec"
	"github.com/jd3nn1s/vehiclebus/frame"
	"github.com/jd3nn1s/vehiclebus/telemetry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dashSpeedID = 0x3e0

type senderStub struct {
	sent []frame.Frame
	err  error
}

func (s *senderStub) Send(f frame.Frame) error {
	s.sent = append(s.sent, f)
	return s.err
}

func TestSendSpeed(t *testing.T) {
	sender := &senderStub{}
	fwder, err := NewCANForwarder(sender, dashSpeedID)
	require.NoError(t, err)

	prevT := telemetry.VehicleState{}
	newT := telemetry.VehicleState{Speed: 100}
	assert.NoError(t, fwder.Forward(&newT, &prevT))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, uint32(dashSpeedID), sender.sent[0].ID())
	assert.Equal(t, codec.Encode(codec.Speed(100)).Payload(), sender.sent[0].Payload())

	prevT = newT
	assert.NoError(t, fwder.Forward(&newT, &prevT))
	assert.Len(t, sender.sent, 1, "unexpected call after unchanged telemetry")

	newT.Speed = 200
	assert.NoError(t, fwder.Forward(&newT, &prevT))
	assert.Len(t, sender.sent, 2)

	sender.err = errors.New("bus down")
	prevT = newT
	newT.Speed = 10
	assert.Error(t, fwder.Forward(&newT, &prevT))
}

func TestNewCANForwarderRejectsInboundIDs(t *testing.T) {
	sender := &senderStub{}
	for _, id := range []uint32{frame.Speed, frame.RPM, frame.Battery} {
		_, err := NewCANForwarder(sender, id)
		assert.Error(t, err, "id 0x%x", id)
	}
	_, err := NewCANForwarder(nil, dashSpeedID)
	assert.Error(t, err)
}
