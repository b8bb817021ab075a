package forwarder

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/vehiclebus/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// UDPRate is the most often a packet is sent.
const UDPRate = 100 * time.Millisecond

type UDPConfig struct {
	Server string
	Port   int
}

func (c UDPConfig) addr() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
}

// UDPForwarder sends queued states as binary packets, at most one per
// UDPRate. While a state is queued, newer ones are dropped.
type UDPForwarder struct {
	Config UDPConfig

	conn    *net.UDPConn
	pending chan telemetry.VehicleState
}

// NewUDPForwarder dials the configured server.
func NewUDPForwarder(config UDPConfig) (*UDPForwarder, error) {
	raddr, err := net.ResolveUDPAddr("udp", config.addr())
	if err != nil {
		return nil, errors.Wrapf(err, "unable to resolve %s", config.addr())
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to dial %s", raddr)
	}
	if err := conn.SetWriteBuffer(2 * maxTelemetrySize); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "unable to size udp write buffer")
	}
	log.WithField("server", raddr).Info("udp forwarder connected")
	return &UDPForwarder{
		Config:  config,
		conn:    conn,
		pending: make(chan telemetry.VehicleState, 1),
	}, nil
}

// LoadUDPForwarder reads a TOML config file. A relative name is resolved
// against the directory of the running binary.
func LoadUDPForwarder(fileName string) (*UDPForwarder, error) {
	path := fileName
	if !filepath.IsAbs(path) {
		dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to determine binary location")
		}
		path = filepath.Join(dir, fileName)
	}
	config := UDPConfig{}
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, errors.Wrapf(err, "unable to load udp forwarder configuration %s", fileName)
	}
	return NewUDPForwarder(config)
}

func NewUDPForwarderFromReader(r io.Reader) (*UDPForwarder, error) {
	config := UDPConfig{}
	if _, err := toml.NewDecoder(r).Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "unable to load udp forwarder configuration")
	}
	return NewUDPForwarder(config)
}

func (udp *UDPForwarder) Close() error {
	return udp.conn.Close()
}

// Forward queues a copy of newState for the next send slot.
func (udp *UDPForwarder) Forward(newState *telemetry.VehicleState, prevState *telemetry.VehicleState) error {
	select {
	case udp.pending <- *newState:
	default:
	}
	return nil
}

// Start sends queued states until ctx is done.
func (udp *UDPForwarder) Start(ctx context.Context) error {
	ticker := time.NewTicker(UDPRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		select {
		case st := <-udp.pending:
			if err := udp.send(&st); err != nil {
				log.WithField("err", err).Error("unable to forward telemetry to server")
			}
		default:
		}
	}
}

func (udp *UDPForwarder) send(st *telemetry.VehicleState) error {
	pkt, err := packet(TypeTelemetry, NewTelemetry(st))
	if err != nil {
		return err
	}
	_, err = udp.conn.Write(pkt)
	return errors.Wrap(err, "unable to write udp packet")
}

// packet is the header followed by body, little endian.
func packet(typ uint8, body interface{}) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, maxTelemetrySize))
	if err := binary.Write(buf, binary.LittleEndian, Header{Type: typ}); err != nil {
		return nil, errors.Wrap(err, "unable to encode packet header")
	}
	if err := binary.Write(buf, binary.LittleEndian, body); err != nil {
		return nil, errors.Wrap(err, "unable to encode packet body")
	}
	return buf.Bytes(), nil
}
