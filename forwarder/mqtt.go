package forwarder

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jd3nn1s/vehiclebus/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"

	defaultMQTTTimeout = 5 * time.Second
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Timeout     time.Duration
}

// mqttClient is the part of mqtt.Client the forwarder uses.
type mqttClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// to allow testing
var newMQTTClient = func(opts *mqtt.ClientOptions) mqttClient {
	return mqtt.NewClient(opts)
}

// MQTTForwarder publishes every state change as retained JSON on
// <prefix>/state and threshold warnings on <prefix>/warning.
type MQTTForwarder struct {
	client  mqttClient
	timeout time.Duration

	topicState   string
	topicWarning string
	topicStatus  string
}

type stateMessage struct {
	Speed           float64 `json:"speed"`
	Rpm             float64 `json:"rpm"`
	FuelPercent     int     `json:"fuel"`
	EngineTemp      int     `json:"engine_temp"`
	Gear            string  `json:"gear"`
	ParkingBrake    bool    `json:"parking_brake"`
	LeftTurnSignal  bool    `json:"left_turn_signal"`
	RightTurnSignal bool    `json:"right_turn_signal"`
	Headlights      bool    `json:"headlights"`
	BatteryVoltage  float64 `json:"battery_voltage"`
	DoorOpen        bool    `json:"door_open"`
	Seatbelt        bool    `json:"seatbelt"`
	EngineRunning   bool    `json:"engine_running"`
	OdometerKm      float64 `json:"odometer"`
	TripKm          float64 `json:"trip"`
}

func NewMQTTForwarder(config MQTTConfig) (*MQTTForwarder, error) {
	if config.Broker == "" {
		return nil, errors.New("mqtt broker is not configured")
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultMQTTTimeout
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = "vehicle"
	}

	fwd := &MQTTForwarder{
		timeout:      config.Timeout,
		topicState:   config.TopicPrefix + "/state",
		topicWarning: config.TopicPrefix + "/warning",
		topicStatus:  config.TopicPrefix + "/status",
	}
	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(config.Timeout).
		SetWriteTimeout(config.Timeout).
		SetWill(fwd.topicStatus, statusOffline, 1, true)
	fwd.client = newMQTTClient(opts)

	if err := fwd.tokenWait(fwd.client.Connect(), "connect"); err != nil {
		return nil, err
	}
	log.WithField("broker", config.Broker).Info("mqtt forwarder connected")
	if err := fwd.publish(fwd.topicStatus, 1, true, statusOnline); err != nil {
		fwd.client.Disconnect(0)
		return nil, err
	}
	return fwd, nil
}

func (fwd *MQTTForwarder) Forward(newState *telemetry.VehicleState, prevState *telemetry.VehicleState) error {
	if *newState == *prevState {
		return nil
	}
	payload, err := json.Marshal(newStateMessage(newState))
	if err != nil {
		return errors.Wrap(err, "unable to encode state")
	}
	return fwd.publish(fwd.topicState, 0, true, payload)
}

// Warn publishes the name of a warning that just fired.
func (fwd *MQTTForwarder) Warn(w telemetry.Warning) {
	if err := fwd.publish(fwd.topicWarning, 1, false, w.String()); err != nil {
		log.WithField("warning", w).
			WithField("err", err).
			Warn("unable to publish warning")
	}
}

func (fwd *MQTTForwarder) Close() error {
	err := fwd.publish(fwd.topicStatus, 1, true, statusOffline)
	fwd.client.Disconnect(uint(fwd.timeout / time.Millisecond))
	return err
}

func (fwd *MQTTForwarder) publish(topic string, qos byte, retained bool, payload interface{}) error {
	return fwd.tokenWait(fwd.client.Publish(topic, qos, retained, payload), "publish "+topic)
}

func (fwd *MQTTForwarder) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(fwd.timeout) {
		return errors.Errorf("mqtt %s: timeout", tag)
	}
	if err := t.Error(); err != nil {
		return errors.Wrapf(err, "mqtt %s", tag)
	}
	return nil
}

func newStateMessage(st *telemetry.VehicleState) stateMessage {
	return stateMessage{
		Speed:           st.Speed,
		Rpm:             st.Rpm,
		FuelPercent:     st.FuelPercent,
		EngineTemp:      st.EngineTemp,
		Gear:            st.Gear.String(),
		ParkingBrake:    st.ParkingBrake,
		LeftTurnSignal:  st.LeftTurnSignal,
		RightTurnSignal: st.RightTurnSignal,
		Headlights:      st.Headlights,
		BatteryVoltage:  st.BatteryVoltage,
		DoorOpen:        st.DoorOpen,
		Seatbelt:        st.Seatbelt,
		EngineRunning:   st.EngineRunning,
		OdometerKm:      st.OdometerKm,
		TripKm:          st.TripKm,
	}
}
