package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jd3nn1s/vehiclebus/config"
	"github.com/jd3nn1s/vehiclebus/forwarder"
	"github.com/jd3nn1s/vehiclebus/telemetry"
	log "github.com/sirupsen/logrus"
)

var configFile = flag.String("config", "", "TOML configuration file")
var simulate = flag.Bool("simulate", false, "generate simulated frames instead of opening the channel")
var printTelemetry = flag.Bool("print-telemetry", false, "print telemetry to stdout")
var udpConfig = flag.String("udp", "", "UDP forwarder configuration file")

type printForwarder struct{}

func (printForwarder) Forward(newState *telemetry.VehicleState, prevState *telemetry.VehicleState) error {
	fmt.Printf("%+v\n", *newState)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if *simulate {
		cfg.Transport.ForceSimulation = true
	}
	return cfg, nil
}

func main() {
	log.SetLevel(log.InfoLevel)
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("unable to load configuration: ", err)
	}
	lvl, _ := cfg.Level()
	log.SetLevel(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus, err := newVehicleBus(cfg)
	if err != nil {
		log.Fatal("unable to set up canbus: ", err)
	}

	wg := sync.WaitGroup{}

	var udp *forwarder.UDPForwarder
	switch {
	case *udpConfig != "":
		udp, err = forwarder.LoadUDPForwarder(*udpConfig)
	case cfg.UDP.Server != "":
		udp, err = forwarder.NewUDPForwarder(forwarder.UDPConfig{
			Server: cfg.UDP.Server,
			Port:   cfg.UDP.Port,
		})
	}
	if err != nil {
		log.Fatal("unable to load UDP forwarder: ", err)
	}
	if udp != nil {
		defer udp.Close()
		bus.AddForwarder(udp)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = udp.Start(ctx)
		}()
	}

	if cfg.MQTT.Broker != "" {
		mqttFwd, err := forwarder.NewMQTTForwarder(forwarder.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Timeout:     cfg.MQTT.Timeout.Duration,
		})
		if err != nil {
			log.Fatal("unable to connect MQTT forwarder: ", err)
		}
		defer mqttFwd.Close()
		bus.AddForwarder(mqttFwd)
		bus.Store().OnWarning(mqttFwd.Warn)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = bus.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		// without reconnect a link failure ends the process
		defer cancel()
		if err := bus.Start(ctx, cfg.Transport.Channel); err != nil && err != context.Canceled {
			log.WithField("err", err).Error("canbus stopped")
		}
	}()
	wg.Wait()
	log.Info("vehiclebus stopped")
}
