// Package codec maps bus frames to typed vehicle signal updates and back.
//
// Every channel carries its own signal. Multi-byte fields are little endian
// and are converted with a fixed scale and offset:
//
//	0x100  bytes 0-1  speed, 0.1 km/h per bit
//	0x101  bytes 0-1  rpm, 0.25 rpm per bit
//	0x102  byte 0     fuel percent
//	0x103  byte 0     engine temperature, offset -40 C
//	0x104  byte 0     bit0 left turn, bit1 right turn, bit2 headlights
//	0x105  byte 0     bit0 parking brake, bit1 seatbelt, bit2 door open
//	       byte 1     low nibble gear
//	0x106  bytes 0-1  battery, 0.01 V per bit
//
// Decoding never fails. A field whose bytes are missing is skipped and an
// unknown channel yields no updates.
package codec

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/jd3nn1s/vehiclebus/frame"
	log "github.com/sirupsen/logrus"
)

const (
	speedPerKmh    = 10
	rpmPerRev      = 4
	batteryPerVolt = 100
	tempOffset     = -40

	maxFuelPercent = 100
)

const (
	bitLeftTurn   = 0x01
	bitRightTurn  = 0x02
	bitHeadlights = 0x04

	bitParkingBrake = 0x01
	bitSeatbelt     = 0x02
	bitDoorOpen     = 0x04
)

// Decode returns the signals carried by f.
func Decode(f frame.Frame) []Update {
	p := f.Payload()
	var updates []Update

	switch f.ID() {
	case frame.Speed:
		if v, ok := uint16At(p, 0); ok {
			updates = append(updates, Speed(float64(v)/speedPerKmh))
		}
	case frame.RPM:
		if v, ok := uint16At(p, 0); ok {
			updates = append(updates, Rpm(float64(v)/rpmPerRev))
		}
	case frame.Fuel:
		if len(p) >= 1 {
			updates = append(updates, FuelPercent(clampInt(int(p[0]), 0, maxFuelPercent)))
		}
	case frame.EngineTemp:
		if len(p) >= 1 {
			updates = append(updates, EngineTemp(int(p[0])+tempOffset))
		}
	case frame.Signals:
		if len(p) >= 1 {
			updates = append(updates,
				TurnSignal{
					Left:  p[0]&bitLeftTurn != 0,
					Right: p[0]&bitRightTurn != 0,
				},
				Headlights(p[0]&bitHeadlights != 0),
			)
		}
	case frame.Status:
		if len(p) >= 1 {
			updates = append(updates,
				ParkingBrake(p[0]&bitParkingBrake != 0),
				Seatbelt(p[0]&bitSeatbelt != 0),
				DoorOpen(p[0]&bitDoorOpen != 0),
			)
		}
		if len(p) >= 2 {
			updates = append(updates, gearFromNibble(p[1]))
		}
	case frame.Battery:
		if v, ok := uint16At(p, 0); ok {
			updates = append(updates, BatteryVoltage(float64(v)/batteryPerVolt))
		}
	default:
		log.WithField("canID", f.ID()).
			WithField("length", f.Len()).
			Debug("unknown channel id")
		return nil
	}

	if len(updates) == 0 {
		log.WithField("canID", f.ID()).
			WithField("length", f.Len()).
			Debug("frame too short")
	}
	return updates
}

// Encode produces the frame carrying u alone. Other fields sharing the
// channel are encoded as zero.
func Encode(u Update) frame.Frame {
	return frame.MustNew(u.Channel(), put(nil, u))
}

// EncodeAll merges the updates into one frame per channel, ordered by
// channel id. Later updates of the same field overwrite earlier ones.
func EncodeAll(updates []Update) []frame.Frame {
	payloads := make(map[uint32][]byte)
	for _, u := range updates {
		payloads[u.Channel()] = put(payloads[u.Channel()], u)
	}

	ids := make([]uint32, 0, len(payloads))
	for id := range payloads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	frames := make([]frame.Frame, 0, len(ids))
	for _, id := range ids {
		frames = append(frames, frame.MustNew(id, payloads[id]))
	}
	return frames
}

// put writes u into p, growing p to the length the field needs.
func put(p []byte, u Update) []byte {
	switch v := u.(type) {
	case Speed:
		p = grow(p, 2)
		binary.LittleEndian.PutUint16(p[0:2], toUint16(float64(v)*speedPerKmh))
	case Rpm:
		p = grow(p, 2)
		binary.LittleEndian.PutUint16(p[0:2], toUint16(float64(v)*rpmPerRev))
	case FuelPercent:
		p = grow(p, 1)
		p[0] = uint8(clampInt(int(v), 0, maxFuelPercent))
	case EngineTemp:
		p = grow(p, 1)
		p[0] = uint8(clampInt(int(v)-tempOffset, 0, math.MaxUint8))
	case TurnSignal:
		p = grow(p, 1)
		p[0] = setBit(p[0], bitLeftTurn, v.Left)
		p[0] = setBit(p[0], bitRightTurn, v.Right)
	case Headlights:
		p = grow(p, 1)
		p[0] = setBit(p[0], bitHeadlights, bool(v))
	case ParkingBrake:
		p = grow(p, 1)
		p[0] = setBit(p[0], bitParkingBrake, bool(v))
	case Seatbelt:
		p = grow(p, 1)
		p[0] = setBit(p[0], bitSeatbelt, bool(v))
	case DoorOpen:
		p = grow(p, 1)
		p[0] = setBit(p[0], bitDoorOpen, bool(v))
	case Gear:
		p = grow(p, 2)
		p[1] = p[1]&0xf0 | uint8(gearFromNibble(uint8(v)))
	case BatteryVoltage:
		p = grow(p, 2)
		binary.LittleEndian.PutUint16(p[0:2], toUint16(float64(v)*batteryPerVolt))
	}
	return p
}

func uint16At(p []byte, offset int) (uint16, bool) {
	if len(p) < offset+2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(p[offset : offset+2]), true
}

func grow(p []byte, n int) []byte {
	for len(p) < n {
		p = append(p, 0)
	}
	return p
}

func setBit(b, bit uint8, on bool) uint8 {
	if on {
		return b | bit
	}
	return b &^ bit
}

func toUint16(v float64) uint16 {
	r := math.Round(v)
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	if r > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(r)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
