// Package telemetry owns the decoded vehicle state. It applies signal
// updates, derives engine and distance state, and notifies subscribers of
// changes and threshold warnings.
package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jd3nn1s/vehiclebus/codec"
	log "github.com/sirupsen/logrus"
)

// DefaultTickPeriod is how often the odometer integrates speed.
const DefaultTickPeriod = time.Second

// Store is the single writer of VehicleState. Mutations are serialised and
// their notifications are delivered before the next mutation starts, so
// subscribers must not call Apply, Tick, ResetTrip or ToggleEngine from a
// callback.
type Store struct {
	applyMu sync.Mutex

	mu         sync.RWMutex
	state      VehicleState
	warnActive [numWarnings]bool

	tickPeriod time.Duration

	subMu     sync.Mutex
	nextSubID int
	fieldSubs map[Field]map[int]func(Change)
	allSubs   map[int]func(Change)
	warnSubs  map[int]func(Warning)
}

type Option func(*Store)

// WithOdometer sets the starting odometer reading.
func WithOdometer(km float64) Option {
	return func(s *Store) {
		if km > 0 {
			s.state.OdometerKm = km
		} else {
			s.state.OdometerKm = 0
		}
	}
}

func WithTickPeriod(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.tickPeriod = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		state:      initialState(),
		tickPeriod: DefaultTickPeriod,
		fieldSubs:  make(map[Field]map[int]func(Change)),
		allSubs:    make(map[int]func(Change)),
		warnSubs:   make(map[int]func(Warning)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for w := Warning(0); w < numWarnings; w++ {
		s.warnActive[w] = w.active(&s.state)
	}
	return s
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() VehicleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe calls fn for every change of field. The returned func removes
// the subscription.
func (s *Store) Subscribe(field Field, fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	if s.fieldSubs[field] == nil {
		s.fieldSubs[field] = make(map[int]func(Change))
	}
	s.fieldSubs[field][id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.fieldSubs[field], id)
	}
}

// SubscribeAll calls fn for every change of any field.
func (s *Store) SubscribeAll(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.allSubs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.allSubs, id)
	}
}

func (s *Store) OnWarning(fn func(Warning)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.warnSubs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.warnSubs, id)
	}
}

// Apply stores u, updating derived fields and warnings in the same step.
func (s *Store) Apply(u codec.Update) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	ev := s.apply(u)
	s.mu.Unlock()

	s.notify(ev)
}

// ToggleEngine idles a stopped engine or stops a running one.
func (s *Store) ToggleEngine() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	rpm := codec.Rpm(idleRpm)
	if s.state.EngineRunning {
		rpm = 0
	}
	ev := s.apply(rpm)
	s.mu.Unlock()

	s.notify(ev)
}

// ResetTrip zeroes the trip distance. The odometer is untouched.
func (s *Store) ResetTrip() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	var ev events
	if s.state.TripKm != 0 {
		s.state.TripKm = 0
		ev.change(FieldTrip, 0.0)
	}
	s.mu.Unlock()

	log.Debug("trip reset")
	s.notify(ev)
}

// Tick integrates one tick period of travel at the current speed.
func (s *Store) Tick() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	var ev events
	if s.state.Speed > 0 {
		d := s.state.Speed * s.tickPeriod.Hours()
		s.state.OdometerKm += d
		s.state.TripKm += d
		ev.change(FieldOdometer, s.state.OdometerKm)
		ev.change(FieldTrip, s.state.TripKm)
	}
	s.mu.Unlock()

	s.notify(ev)
}

// Run ticks the odometer until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

type events struct {
	changes  []Change
	warnings []Warning
}

func (ev *events) change(f Field, v interface{}) {
	ev.changes = append(ev.changes, Change{Field: f, Value: v})
}

// apply must be called with mu held.
func (s *Store) apply(u codec.Update) events {
	st := &s.state
	var ev events

	switch v := u.(type) {
	case codec.Speed:
		if setFloat(&st.Speed, nonNegative(float64(v))) {
			ev.change(FieldSpeed, st.Speed)
		}
	case codec.Rpm:
		if setFloat(&st.Rpm, nonNegative(float64(v))) {
			ev.change(FieldRpm, st.Rpm)
		}
		if setBool(&st.EngineRunning, st.Rpm > runningRpmAbove) {
			ev.change(FieldEngineRunning, st.EngineRunning)
		}
	case codec.FuelPercent:
		if setInt(&st.FuelPercent, clampInt(int(v), 0, maxFuelPercent)) {
			ev.change(FieldFuel, st.FuelPercent)
		}
	case codec.EngineTemp:
		if setInt(&st.EngineTemp, int(v)) {
			ev.change(FieldEngineTemp, st.EngineTemp)
		}
	case codec.Gear:
		if st.Gear != v {
			st.Gear = v
			ev.change(FieldGear, st.Gear)
		}
	case codec.ParkingBrake:
		if setBool(&st.ParkingBrake, bool(v)) {
			ev.change(FieldParkingBrake, st.ParkingBrake)
		}
	case codec.TurnSignal:
		if setBool(&st.LeftTurnSignal, v.Left) {
			ev.change(FieldLeftTurnSignal, st.LeftTurnSignal)
		}
		if setBool(&st.RightTurnSignal, v.Right) {
			ev.change(FieldRightTurnSignal, st.RightTurnSignal)
		}
	case codec.Headlights:
		if setBool(&st.Headlights, bool(v)) {
			ev.change(FieldHeadlights, st.Headlights)
		}
	case codec.BatteryVoltage:
		if setFloat(&st.BatteryVoltage, nonNegative(float64(v))) {
			ev.change(FieldBatteryVoltage, st.BatteryVoltage)
		}
	case codec.DoorOpen:
		if setBool(&st.DoorOpen, bool(v)) {
			ev.change(FieldDoorOpen, st.DoorOpen)
		}
	case codec.Seatbelt:
		if setBool(&st.Seatbelt, bool(v)) {
			ev.change(FieldSeatbelt, st.Seatbelt)
		}
	default:
		log.WithField("update", u).Debug("ignoring unsupported update")
	}

	if len(ev.changes) > 0 {
		for w := Warning(0); w < numWarnings; w++ {
			active := w.active(st)
			if active && !s.warnActive[w] {
				ev.warnings = append(ev.warnings, w)
			}
			s.warnActive[w] = active
		}
	}
	return ev
}

func (s *Store) notify(ev events) {
	if len(ev.changes) == 0 && len(ev.warnings) == 0 {
		return
	}

	s.subMu.Lock()
	var calls []func()
	for _, c := range ev.changes {
		c := c
		for _, fn := range s.fieldSubs[c.Field] {
			fn := fn
			calls = append(calls, func() { fn(c) })
		}
		for _, fn := range s.allSubs {
			fn := fn
			calls = append(calls, func() { fn(c) })
		}
	}
	for _, w := range ev.warnings {
		w := w
		for _, fn := range s.warnSubs {
			fn := fn
			calls = append(calls, func() { fn(w) })
		}
	}
	s.subMu.Unlock()

	for _, call := range calls {
		call()
	}
}

func setFloat(dst *float64, v float64) bool {
	if math.Float64bits(*dst) == math.Float64bits(v) {
		return false
	}
	*dst = v
	return true
}

func setInt(dst *int, v int) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

func setBool(dst *bool, v bool) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

// nonNegative also maps NaN to zero.
func nonNegative(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	return v
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
