package frame

import (
	"testing"

	"github.com/brutella/can"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	payload := []byte{1, 2}
	f, err := New(Speed, payload)
	require.NoError(t, err)
	assert.Equal(t, Speed, f.ID())
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []byte{1, 2}, f.Payload())

	// frames must not alias the caller's buffer
	payload[0] = 9
	assert.Equal(t, []byte{1, 2}, f.Payload())
	f.Payload()[1] = 9
	assert.Equal(t, []byte{1, 2}, f.Payload())

	_, err = New(Speed, make([]byte, 9))
	assert.Equal(t, ErrPayloadTooLong, errors.Cause(err))

	empty, err := New(Fuel, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, []byte{}, empty.Payload())
}

func TestCANRoundTrip(t *testing.T) {
	f := MustNew(RPM, []byte{0x80, 0x0c})
	cf := f.CAN()
	assert.Equal(t, uint32(RPM), cf.ID)
	assert.Equal(t, uint8(2), cf.Length)

	back, err := FromCAN(cf)
	require.NoError(t, err)
	assert.Equal(t, f, back)

	ext := MustNew(0x999, []byte{1})
	cf = ext.CAN()
	assert.NotZero(t, cf.ID&flagExtended)
	back, err = FromCAN(cf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x999), back.ID())
}

func TestFromCANRejectsNonData(t *testing.T) {
	_, err := FromCAN(can.Frame{ID: flagError | 0x04, Length: 8})
	assert.Equal(t, ErrErrorFrame, errors.Cause(err))

	_, err = FromCAN(can.Frame{ID: flagRemote | Speed})
	assert.Equal(t, ErrRemoteFrame, errors.Cause(err))

	_, err = FromCAN(can.Frame{ID: Speed, Length: 12})
	assert.Equal(t, ErrPayloadTooLong, errors.Cause(err))
}

func TestFromCANIgnoresBytesPastLength(t *testing.T) {
	f, err := FromCAN(can.Frame{
		ID:     Fuel,
		Length: 1,
		Data:   [8]uint8{50, 0xff, 0xff},
	})
	require.NoError(t, err)
	assert.Equal(t, MustNew(Fuel, []byte{50}), f)
}

func TestIsInbound(t *testing.T) {
	assert.True(t, IsInbound(Speed))
	assert.True(t, IsInbound(Status))
	assert.True(t, IsInbound(Battery))
	assert.False(t, IsInbound(0xff))
	assert.False(t, IsInbound(0x107))
	assert.False(t, IsInbound(0x3e0))
}
