package main

import (
	"github.com/jd3nn1s/vehiclebus"
	"github.com/jd3nn1s/vehiclebus/config"
	"github.com/jd3nn1s/vehiclebus/forwarder"
	"github.com/jd3nn1s/vehiclebus/simulator"
	"github.com/jd3nn1s/vehiclebus/telemetry"
	"github.com/jd3nn1s/vehiclebus/transport"
	log "github.com/sirupsen/logrus"
)

// newVehicleBus builds the transport, store and bus described by cfg. Speed
// is only sent back to the bus when an outbound id is configured.
func newVehicleBus(cfg *config.Config, opts ...transport.Option) (*vehiclebus.Bus, error) {
	var simOpts []simulator.Option
	if cfg.Simulator.Seed != 0 {
		simOpts = append(simOpts, simulator.WithSeed(cfg.Simulator.Seed))
	}
	t := transport.New(append([]transport.Option{
		transport.WithTick(cfg.Simulator.Tick.Duration),
		transport.WithBuffers(cfg.Transport.FrameBuffer, cfg.Transport.ErrorBuffer),
		transport.WithForceSimulation(cfg.Transport.ForceSimulation),
		transport.WithSource(func() transport.Source {
			return simulator.New(simOpts...)
		}),
	}, opts...)...)

	store := telemetry.New(
		telemetry.WithOdometer(cfg.Telemetry.OdometerKm),
		telemetry.WithTickPeriod(cfg.Telemetry.Tick.Duration),
	)
	store.OnWarning(func(w telemetry.Warning) {
		log.WithField("warning", w).Warn("vehicle warning")
	})

	bus := vehiclebus.New(t, store,
		vehiclebus.WithReconnect(cfg.Transport.Reconnect),
		vehiclebus.WithRetryDelay(cfg.Transport.RetryDelay.Duration),
	)
	if id := cfg.Transport.SpeedOutID; id != 0 {
		canFwd, err := forwarder.NewCANForwarder(t, id)
		if err != nil {
			return nil, err
		}
		bus.AddForwarder(canFwd)
		log.WithField("canID", id).Info("sending speed on outbound id")
	}
	if *printTelemetry {
		bus.AddForwarder(printForwarder{})
	}
	return bus, nil
}
