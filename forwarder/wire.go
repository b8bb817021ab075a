package forwarder

import (
	"encoding/binary"

	"github.com/jd3nn1s/vehiclebus/telemetry"
)

type Header struct {
	Type uint8
}

const (
	TypeTelemetry = 1
	TypeWarning   = 2
)

const (
	FlagParkingBrake uint16 = 1 << iota
	FlagLeftTurn
	FlagRightTurn
	FlagHeadlights
	FlagDoorOpen
	FlagSeatbelt
	FlagEngineRunning
)

// Telemetry is the fixed-size little endian packet body sent over UDP.
type Telemetry struct {
	Speed          float32
	Rpm            float32
	FuelPercent    uint8
	EngineTemp     int16
	Gear           uint8
	Flags          uint16
	BatteryVoltage float32
	OdometerKm     float64
	TripKm         float64
}

var maxTelemetrySize = binary.Size(Header{}) + binary.Size(Telemetry{})

func NewTelemetry(st *telemetry.VehicleState) Telemetry {
	t := Telemetry{
		Speed:          float32(st.Speed),
		Rpm:            float32(st.Rpm),
		FuelPercent:    uint8(st.FuelPercent),
		EngineTemp:     int16(st.EngineTemp),
		Gear:           uint8(st.Gear),
		BatteryVoltage: float32(st.BatteryVoltage),
		OdometerKm:     st.OdometerKm,
		TripKm:         st.TripKm,
	}
	if st.ParkingBrake {
		t.Flags |= FlagParkingBrake
	}
	if st.LeftTurnSignal {
		t.Flags |= FlagLeftTurn
	}
	if st.RightTurnSignal {
		t.Flags |= FlagRightTurn
	}
	if st.Headlights {
		t.Flags |= FlagHeadlights
	}
	if st.DoorOpen {
		t.Flags |= FlagDoorOpen
	}
	if st.Seatbelt {
		t.Flags |= FlagSeatbelt
	}
	if st.EngineRunning {
		t.Flags |= FlagEngineRunning
	}
	return t
}
