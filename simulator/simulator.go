// Package simulator generates plausible vehicle frames when no real channel
// is available.
package simulator

import (
	"context"
	"math/rand"
	"time"

	"github.com/jd3nn1s/vehiclebus/codec"
	"github.com/jd3nn1s/vehiclebus/frame"
	log "github.com/sirupsen/logrus"
)

// DefaultTick is the 10 Hz update rate of the simulated bus.
const DefaultTick = 100 * time.Millisecond

const (
	maxSpeed = 120

	idleRpm     = 800
	rpmPerKmh   = 25
	rpmNoise    = 100
	minRpm      = 700
	maxRpm      = 6000
	runningRpm  = 500
	chargeVolts = 14.2
	restVolts   = 12.6

	minTemp = 70
	maxTemp = 110

	// one in fuelBurnOdds ticks burns a percent while moving
	fuelBurnOdds = 1000
	// percent chance per tick of a turn signal toggling
	turnSignalOdds = 2
	// ticks between headlight toggles, 30s at 10Hz
	headlightPeriod = 300
)

// Vehicle is the simulated vehicle state.
type Vehicle struct {
	Speed      int
	Rpm        int
	Fuel       int
	EngineTemp int
	LeftTurn   bool
	RightTurn  bool
	Headlights bool
}

type Simulator struct {
	rnd     *rand.Rand
	vehicle Vehicle
	ticks   uint64
}

type Option func(*Simulator)

// WithSeed makes the generated sequence reproducible.
func WithSeed(seed int64) Option {
	return func(s *Simulator) {
		s.rnd = rand.New(rand.NewSource(seed))
	}
}

func New(opts ...Option) *Simulator {
	s := &Simulator{
		vehicle: Vehicle{
			Speed:      0,
			Rpm:        idleRpm,
			Fuel:       85,
			EngineTemp: 90,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// Vehicle returns the current simulated values.
func (s *Simulator) Vehicle() Vehicle {
	return s.vehicle
}

// Step advances the simulation by one tick and returns the frames that
// describe the new state.
func (s *Simulator) Step() []frame.Frame {
	v := &s.vehicle
	s.ticks++

	v.Speed = clamp(v.Speed+s.between(-2, 2), 0, maxSpeed)
	v.Rpm = clamp(idleRpm+v.Speed*rpmPerKmh+s.between(-rpmNoise, rpmNoise), minRpm, maxRpm)

	if v.Speed > 0 && s.rnd.Intn(fuelBurnOdds) == 0 {
		v.Fuel = clamp(v.Fuel-1, 0, 100)
	}

	v.EngineTemp = clamp(v.EngineTemp+s.between(-1, 1), minTemp, maxTemp)

	if s.rnd.Intn(100) < turnSignalOdds {
		v.LeftTurn = !v.LeftTurn
		v.RightTurn = false
	}
	if s.rnd.Intn(100) < turnSignalOdds {
		v.RightTurn = !v.RightTurn
		v.LeftTurn = false
	}

	if s.ticks%headlightPeriod == 0 {
		v.Headlights = !v.Headlights
	}

	return codec.EncodeAll(s.updates())
}

func (s *Simulator) updates() []codec.Update {
	v := s.vehicle
	gear := codec.GearP
	if v.Speed > 0 {
		gear = codec.GearD
	}
	volts := restVolts
	if v.Rpm > runningRpm {
		volts = chargeVolts
	}
	return []codec.Update{
		codec.Speed(v.Speed),
		codec.Rpm(v.Rpm),
		codec.FuelPercent(v.Fuel),
		codec.EngineTemp(v.EngineTemp),
		codec.TurnSignal{Left: v.LeftTurn, Right: v.RightTurn},
		codec.Headlights(v.Headlights),
		codec.ParkingBrake(v.Speed == 0),
		codec.Seatbelt(true),
		codec.DoorOpen(false),
		gear,
		codec.BatteryVoltage(volts),
	}
}

// Run calls emit with every frame of every tick until ctx is done.
func (s *Simulator) Run(ctx context.Context, tick time.Duration, emit func(frame.Frame)) error {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	log.WithField("tick", tick).Info("simulator started")
	for {
		select {
		case <-ctx.Done():
			log.Info("simulator stopped")
			return ctx.Err()
		case <-ticker.C:
		}
		for _, f := range s.Step() {
			emit(f)
		}
	}
}

// between returns a uniform int in [lo, hi].
func (s *Simulator) between(lo, hi int) int {
	return lo + s.rnd.Intn(hi-lo+1)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
