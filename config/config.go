// Package config loads vehiclebus settings from a TOML file, then applies
// VEHICLEBUS_* overrides from the environment or a .env file.
package config

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/vehiclebus/frame"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const envPrefix = "VEHICLEBUS_"

const maxExtendedID = 0x1FFFFFFF

// Duration is a time.Duration written as "100ms" or "1s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	LogLevel  string          `toml:"log_level"`
	Transport TransportConfig `toml:"transport"`
	Simulator SimulatorConfig `toml:"simulator"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	UDP       UDPConfig       `toml:"udp"`
	MQTT      MQTTConfig      `toml:"mqtt"`
}

type TransportConfig struct {
	Channel         string   `toml:"channel"`
	ForceSimulation bool     `toml:"force_simulation"`
	FrameBuffer     int      `toml:"frame_buffer"`
	ErrorBuffer     int      `toml:"error_buffer"`
	Reconnect       bool     `toml:"reconnect"`
	RetryDelay      Duration `toml:"retry_delay"`
	// speed is sent on this id when set; zero sends nothing
	SpeedOutID uint32 `toml:"speed_out_id"`
}

type SimulatorConfig struct {
	Tick Duration `toml:"tick"`
	// zero seeds from the clock
	Seed int64 `toml:"seed"`
}

type TelemetryConfig struct {
	OdometerKm float64  `toml:"odometer_km"`
	Tick       Duration `toml:"tick"`
}

// UDPConfig enables the UDP forwarder when Server is set.
type UDPConfig struct {
	Server string `toml:"server"`
	Port   int    `toml:"port"`
}

// MQTTConfig enables the MQTT forwarder when Broker is set.
type MQTTConfig struct {
	Broker      string   `toml:"broker"`
	ClientID    string   `toml:"client_id"`
	TopicPrefix string   `toml:"topic_prefix"`
	Timeout     Duration `toml:"timeout"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Transport: TransportConfig{
			Channel:     "can0",
			FrameBuffer: 64,
			ErrorBuffer: 16,
			Reconnect:   true,
			RetryDelay:  Duration{time.Second},
		},
		Simulator: SimulatorConfig{
			Tick: Duration{100 * time.Millisecond},
		},
		Telemetry: TelemetryConfig{
			OdometerKm: 12345.6,
			Tick:       Duration{time.Second},
		},
		MQTT: MQTTConfig{
			ClientID:    "vehiclebus",
			TopicPrefix: "vehicle",
			Timeout:     Duration{5 * time.Second},
		},
	}
}

// Load reads the TOML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open config %s", path)
	}
	defer file.Close()
	cfg, err := Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Decode reads TOML from r on top of the defaults.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	meta, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode configuration")
	}
	for _, key := range meta.Undecoded() {
		log.WithField("key", key.String()).Warn("unknown configuration key")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv loads the given .env files, or ./.env if none are given and it
// exists, then overrides settings from VEHICLEBUS_* variables. Variables
// already set in the environment win over .env files.
func (c *Config) ApplyEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !os.IsNotExist(err) {
			return errors.Wrap(err, "unable to load env file")
		}
	}

	var err error
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Transport.Channel, "CHANNEL")
	setString(&c.UDP.Server, "UDP_SERVER")
	setString(&c.MQTT.Broker, "MQTT_BROKER")
	setString(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	setString(&c.MQTT.TopicPrefix, "MQTT_TOPIC_PREFIX")
	for _, set := range []func() error{
		func() error { return setBool(&c.Transport.ForceSimulation, "FORCE_SIMULATION") },
		func() error { return setBool(&c.Transport.Reconnect, "RECONNECT") },
		func() error { return setInt(&c.Transport.FrameBuffer, "FRAME_BUFFER") },
		func() error { return setInt(&c.Transport.ErrorBuffer, "ERROR_BUFFER") },
		func() error { return setDuration(&c.Transport.RetryDelay, "RETRY_DELAY") },
		func() error { return setUint32(&c.Transport.SpeedOutID, "SPEED_OUT_ID") },
		func() error { return setDuration(&c.Simulator.Tick, "SIMULATOR_TICK") },
		func() error { return setInt64(&c.Simulator.Seed, "SIMULATOR_SEED") },
		func() error { return setFloat(&c.Telemetry.OdometerKm, "ODOMETER_KM") },
		func() error { return setDuration(&c.Telemetry.Tick, "TELEMETRY_TICK") },
		func() error { return setDuration(&c.MQTT.Timeout, "MQTT_TIMEOUT") },
		func() error { return setInt(&c.UDP.Port, "UDP_PORT") },
	} {
		if err = set(); err != nil {
			return err
		}
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Transport.Channel == "" && !c.Transport.ForceSimulation {
		return errors.New("transport channel must be set unless simulation is forced")
	}
	if c.Transport.FrameBuffer < 0 || c.Transport.ErrorBuffer < 0 {
		return errors.New("transport buffers must not be negative")
	}
	if id := c.Transport.SpeedOutID; id != 0 && (frame.IsInbound(id) || id > maxExtendedID) {
		return errors.Errorf("invalid speed_out_id 0x%x", id)
	}
	if c.Simulator.Tick.Duration <= 0 {
		return errors.Errorf("simulator tick must be positive, got %s", c.Simulator.Tick)
	}
	if c.Telemetry.Tick.Duration <= 0 {
		return errors.Errorf("telemetry tick must be positive, got %s", c.Telemetry.Tick)
	}
	if c.UDP.Server != "" && (c.UDP.Port <= 0 || c.UDP.Port > 65535) {
		return errors.Errorf("invalid udp port %d", c.UDP.Port)
	}
	return nil
}

// Level is the parsed log_level.
func (c *Config) Level() (log.Level, error) {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, errors.Wrap(err, "invalid log_level")
	}
	return lvl, nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func setBool(dst *bool, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrapf(err, "%s%s", envPrefix, name)
	}
	*dst = b
	return nil
}

func setInt(dst *int, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "%s%s", envPrefix, name)
	}
	*dst = i
	return nil
}

func setInt64(dst *int64, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "%s%s", envPrefix, name)
	}
	*dst = i
	return nil
}

// accepts decimal or 0x-prefixed hex
func setUint32(dst *uint32, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	u, err := strconv.ParseUint(v, 0, 32)
	if err != nil {
		return errors.Wrapf(err, "%s%s", envPrefix, name)
	}
	*dst = uint32(u)
	return nil
}

func setFloat(dst *float64, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return errors.Wrapf(err, "%s%s", envPrefix, name)
	}
	*dst = f
	return nil
}

func setDuration(dst *Duration, name string) error {
	v, ok := lookup(name)
	if !ok {
		return nil
	}
	return errors.Wrapf(dst.UnmarshalText([]byte(v)), "%s%s", envPrefix, name)
}
