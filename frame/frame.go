// Package frame holds the immutable CAN frame value passed from a channel
// (real or simulated) to the codec.
package frame

import (
	"fmt"

	"github.com/brutella/can"
	"github.com/pkg/errors"
)

// Channel ids of the vehicle bus.
const (
	Speed      uint32 = 0x100
	RPM        uint32 = 0x101
	Fuel       uint32 = 0x102
	EngineTemp uint32 = 0x103
	Signals    uint32 = 0x104
	Status     uint32 = 0x105
	Battery    uint32 = 0x106
)

// IsInbound reports whether id is one of the channels decoded from the bus.
func IsInbound(id uint32) bool {
	return id >= Speed && id <= Battery
}

// MaxLength is the classical CAN payload limit.
const MaxLength = 8

// flags carried in the upper bits of a SocketCAN identifier
const (
	flagExtended uint32 = 0x80000000
	flagRemote   uint32 = 0x40000000
	flagError    uint32 = 0x20000000

	maskExtendedID uint32 = 0x1FFFFFFF
	maskStandardID uint32 = 0x7FF
)

var (
	ErrPayloadTooLong = errors.New("frame: payload longer than 8 bytes")
	ErrErrorFrame     = errors.New("frame: bus error frame")
	ErrRemoteFrame    = errors.New("frame: remote transmission request")
)

// Frame is a channel id and up to 8 bytes of payload. The zero value is an
// empty frame on channel 0.
type Frame struct {
	id     uint32
	length uint8
	data   [MaxLength]byte
}

// New copies payload into a new Frame.
func New(id uint32, payload []byte) (Frame, error) {
	if len(payload) > MaxLength {
		return Frame{}, errors.Wrapf(ErrPayloadTooLong, "channel 0x%x: %d bytes", id, len(payload))
	}
	f := Frame{id: id, length: uint8(len(payload))}
	copy(f.data[:], payload)
	return f, nil
}

// MustNew is New for payloads known to fit, e.g. codec output.
func MustNew(id uint32, payload []byte) Frame {
	f, err := New(id, payload)
	if err != nil {
		panic(err)
	}
	return f
}

func (f Frame) ID() uint32 {
	return f.id
}

func (f Frame) Len() int {
	return int(f.length)
}

// Payload returns a copy of the frame data.
func (f Frame) Payload() []byte {
	p := make([]byte, f.length)
	copy(p, f.data[:f.length])
	return p
}

func (f Frame) String() string {
	return fmt.Sprintf("0x%03x [%d] % x", f.id, f.length, f.data[:f.length])
}

// CAN converts to the SocketCAN representation used by brutella/can.
func (f Frame) CAN() can.Frame {
	id := f.id
	if id > maskStandardID {
		id |= flagExtended
	}
	return can.Frame{
		ID:     id,
		Length: f.length,
		Data:   f.data,
	}
}

// FromCAN converts a received SocketCAN frame. Error and remote frames are
// not data and are returned as errors so the caller can report them.
func FromCAN(cf can.Frame) (Frame, error) {
	if cf.ID&flagError != 0 {
		return Frame{}, errors.Wrapf(ErrErrorFrame, "class 0x%x", cf.ID&maskExtendedID)
	}
	if cf.ID&flagRemote != 0 {
		return Frame{}, errors.Wrapf(ErrRemoteFrame, "id 0x%x", cf.ID&maskExtendedID)
	}
	if cf.Length > MaxLength {
		return Frame{}, errors.Wrapf(ErrPayloadTooLong, "id 0x%x: length %d", cf.ID&maskExtendedID, cf.Length)
	}
	id := cf.ID & maskExtendedID
	if cf.ID&flagExtended == 0 {
		id &= maskStandardID
	}
	f := Frame{id: id, length: cf.Length}
	copy(f.data[:], cf.Data[:cf.Length])
	return f, nil
}
