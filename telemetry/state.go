package telemetry

import (
	"github.com/jd3nn1s/vehiclebus/codec"
)

// VehicleState is a snapshot of everything known about the vehicle.
type VehicleState struct {
	Speed           float64
	Rpm             float64
	FuelPercent     int
	EngineTemp      int
	Gear            codec.Gear
	ParkingBrake    bool
	LeftTurnSignal  bool
	RightTurnSignal bool
	Headlights      bool
	BatteryVoltage  float64
	DoorOpen        bool
	Seatbelt        bool

	// derived
	EngineRunning bool
	OdometerKm    float64
	TripKm        float64
}

// DefaultOdometerKm is the reading a fresh store starts from.
const DefaultOdometerKm = 12345.6

func initialState() VehicleState {
	return VehicleState{
		FuelPercent:    100,
		EngineTemp:     70,
		Gear:           codec.GearP,
		ParkingBrake:   true,
		BatteryVoltage: 12,
		OdometerKm:     DefaultOdometerKm,
	}
}

// Field names a notifiable part of VehicleState.
type Field int

const (
	FieldSpeed Field = iota
	FieldRpm
	FieldFuel
	FieldEngineTemp
	FieldGear
	FieldParkingBrake
	FieldLeftTurnSignal
	FieldRightTurnSignal
	FieldHeadlights
	FieldBatteryVoltage
	FieldDoorOpen
	FieldSeatbelt
	FieldEngineRunning
	FieldOdometer
	FieldTrip
)

var fieldNames = []string{
	FieldSpeed:           "speed",
	FieldRpm:             "rpm",
	FieldFuel:            "fuel",
	FieldEngineTemp:      "engine_temp",
	FieldGear:            "gear",
	FieldParkingBrake:    "parking_brake",
	FieldLeftTurnSignal:  "left_turn_signal",
	FieldRightTurnSignal: "right_turn_signal",
	FieldHeadlights:      "headlights",
	FieldBatteryVoltage:  "battery_voltage",
	FieldDoorOpen:        "door_open",
	FieldSeatbelt:        "seatbelt",
	FieldEngineRunning:   "engine_running",
	FieldOdometer:        "odometer",
	FieldTrip:            "trip",
}

func (f Field) String() string {
	if f >= 0 && int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return "unknown"
}

// Change is emitted once per field whose value actually changed. Value has
// the field's type in VehicleState.
type Change struct {
	Field Field
	Value interface{}
}

// Warning is a threshold alarm. Each fires once when its condition becomes
// true and re-arms when the condition clears.
type Warning int

const (
	LowFuel Warning = iota
	EngineOverheat
	LowBattery

	numWarnings
)

const (
	lowFuelPercent  = 10
	overheatTemp    = 105
	lowBatteryVolts = 11
	runningRpmAbove = 500
	idleRpm         = 800
	maxFuelPercent  = 100
)

var warningNames = [numWarnings]string{
	LowFuel:        "low_fuel",
	EngineOverheat: "engine_overheat",
	LowBattery:     "low_battery",
}

func (w Warning) String() string {
	if w >= 0 && w < numWarnings {
		return warningNames[w]
	}
	return "unknown"
}

// active reports whether w's condition holds in st.
func (w Warning) active(st *VehicleState) bool {
	switch w {
	case LowFuel:
		return st.FuelPercent <= lowFuelPercent
	case EngineOverheat:
		return st.EngineTemp >= overheatTemp
	case LowBattery:
		return st.BatteryVoltage <= lowBatteryVolts
	}
	return false
}
