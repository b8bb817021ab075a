package codec

import (
	"fmt"

	"github.com/jd3nn1s/vehiclebus/frame"
)

// Update is one decoded vehicle signal. The concrete types below are the
// only implementations; switch on them to read the value.
type Update interface {
	// Channel is the bus channel id the signal travels on.
	Channel() uint32
	isUpdate()
}

// Speed in km/h.
type Speed float64

// Rpm is engine speed in revolutions per minute.
type Rpm float64

// FuelPercent is the tank level, 0..100.
type FuelPercent int

// EngineTemp is coolant temperature in degrees Celsius.
type EngineTemp int

type ParkingBrake bool

type TurnSignal struct {
	Left  bool
	Right bool
}

type Headlights bool

// BatteryVoltage in volts.
type BatteryVoltage float64

type DoorOpen bool

type Seatbelt bool

// Gear is the selector position carried in the low nibble of the status
// frame. Values past GearM6 decode to GearUnknown.
type Gear uint8

const (
	GearP Gear = iota
	GearR
	GearN
	GearD
	GearS
	GearM1
	GearM2
	GearM3
	GearM4
	GearM5
	GearM6

	GearUnknown Gear = 0x0f
)

var gearNames = map[Gear]string{
	GearP:  "P",
	GearR:  "R",
	GearN:  "N",
	GearD:  "D",
	GearS:  "S",
	GearM1: "M1",
	GearM2: "M2",
	GearM3: "M3",
	GearM4: "M4",
	GearM5: "M5",
	GearM6: "M6",
}

func (g Gear) String() string {
	if name, ok := gearNames[g]; ok {
		return name
	}
	return "?"
}

// ParseGear is the inverse of Gear.String. Anything unrecognised is
// GearUnknown.
func ParseGear(s string) Gear {
	for g, name := range gearNames {
		if name == s {
			return g
		}
	}
	return GearUnknown
}

func gearFromNibble(n uint8) Gear {
	g := Gear(n & 0x0f)
	if g > GearM6 {
		return GearUnknown
	}
	return g
}

func (Speed) Channel() uint32          { return frame.Speed }
func (Rpm) Channel() uint32            { return frame.RPM }
func (FuelPercent) Channel() uint32    { return frame.Fuel }
func (EngineTemp) Channel() uint32     { return frame.EngineTemp }
func (TurnSignal) Channel() uint32     { return frame.Signals }
func (Headlights) Channel() uint32     { return frame.Signals }
func (ParkingBrake) Channel() uint32   { return frame.Status }
func (Seatbelt) Channel() uint32       { return frame.Status }
func (DoorOpen) Channel() uint32       { return frame.Status }
func (Gear) Channel() uint32           { return frame.Status }
func (BatteryVoltage) Channel() uint32 { return frame.Battery }

func (Speed) isUpdate()          {}
func (Rpm) isUpdate()            {}
func (FuelPercent) isUpdate()    {}
func (EngineTemp) isUpdate()     {}
func (TurnSignal) isUpdate()     {}
func (Headlights) isUpdate()     {}
func (ParkingBrake) isUpdate()   {}
func (Seatbelt) isUpdate()       {}
func (DoorOpen) isUpdate()       {}
func (Gear) isUpdate()           {}
func (BatteryVoltage) isUpdate() {}

func (t TurnSignal) String() string {
	return fmt.Sprintf("left=%t right=%t", t.Left, t.Right)
}
