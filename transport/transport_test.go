package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brutella/can"
	"github.com/jd3nn1s/vehiclebus/frame"
	"github.com/jd3nn1s/vehiclebus/simulator"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busStub struct {
	mu           sync.Mutex
	handler      can.HandlerFunc
	disconnected bool
	startedChan  chan struct{}
	stopChan     chan error
	publishChan  chan can.Frame
}

func createBusStub() *busStub {
	return &busStub{
		startedChan: make(chan struct{}, 1),
		stopChan:    make(chan error, 1),
		publishChan: make(chan can.Frame, 8),
	}
}

func (b *busStub) SubscribeFunc(fn can.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

func (b *busStub) ConnectAndPublish() error {
	select {
	case b.startedChan <- struct{}{}:
	default:
	}
	return <-b.stopChan
}

func (b *busStub) Disconnect() error {
	b.mu.Lock()
	first := !b.disconnected
	b.disconnected = true
	b.mu.Unlock()
	if first {
		select {
		case b.stopChan <- errors.New("use of closed network connection"):
		default:
		}
	}
	return nil
}

func (b *busStub) Publish(f can.Frame) error {
	b.publishChan <- f
	return nil
}

func (b *busStub) deliver(f can.Frame) {
	b.mu.Lock()
	fn := b.handler
	b.mu.Unlock()
	fn(f)
}

func (b *busStub) isDisconnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected
}

func stubNewBus(fn func(string) (Bus, error)) func() {
	origNewBus := newBus
	newBus = fn
	return func() {
		newBus = origNewBus
	}
}

func watch(tr *Transport) <-chan State {
	ch := make(chan State, 16)
	tr.OnStateChange(func(s State) {
		ch <- s
	})
	return ch
}

func expectStates(t *testing.T, ch <-chan State, want ...State) {
	for _, w := range want {
		select {
		case s := <-ch:
			assert.Equal(t, w, s)
		case <-time.After(time.Second):
			assert.Failf(t, "missing state change", "expected %s", w)
			return
		}
	}
}

func expectNoState(t *testing.T, ch <-chan State) {
	select {
	case s := <-ch:
		assert.Failf(t, "unexpected state change", "got %s", s)
	default:
	}
}

func TestConnectFallsBackToSimulation(t *testing.T) {
	defer stubNewBus(func(string) (Bus, error) {
		return nil, errors.New("no such interface")
	})()

	tr := New()
	states := watch(tr)
	defer tr.Disconnect()

	start := time.Now()
	assert.Equal(t, SimulationActive, tr.Connect(context.Background(), "nonexistent"))
	assert.Equal(t, SimulationActive, tr.State())
	expectStates(t, states, Connecting, SimulationActive)

	select {
	case err := <-tr.Errors():
		assert.Contains(t, err.Error(), "no such interface")
	default:
		assert.Fail(t, "open failure was not reported")
	}

	select {
	case f := <-tr.Frames():
		assert.Equal(t, frame.Speed, f.ID())
		assert.True(t, time.Since(start) < simulator.DefaultTick+150*time.Millisecond)
	case <-time.After(time.Second):
		assert.Fail(t, "no simulated frame")
	}
	assert.NoError(t, tr.Err())
}

func TestConnectNonexistentInterface(t *testing.T) {
	tr := New(WithTick(10 * time.Millisecond))
	defer tr.Disconnect()

	assert.Equal(t, SimulationActive, tr.Connect(context.Background(), "nonexistent"))
	select {
	case <-tr.Frames():
	case <-time.After(time.Second):
		assert.Fail(t, "no simulated frame")
	}
	assert.NotEqual(t, Error, tr.State())
}

func TestForcedSimulation(t *testing.T) {
	defer stubNewBus(func(string) (Bus, error) {
		assert.Fail(t, "real channel must not be opened")
		return nil, errors.New("unexpected")
	})()

	tr := New(WithForceSimulation(true), WithTick(10*time.Millisecond))
	states := watch(tr)
	assert.Equal(t, SimulationActive, tr.Connect(context.Background(), "can0"))
	expectStates(t, states, SimulationActive)

	tr.Disconnect()
	expectStates(t, states, Disconnected)

	assert.Equal(t, SimulationActive, tr.Simulate())
	expectStates(t, states, SimulationActive)
	tr.Disconnect()
	expectStates(t, states, Disconnected)
}

func TestConnectIsNoOpWhenActive(t *testing.T) {
	tr := New(WithTick(10 * time.Millisecond))
	states := watch(tr)
	defer tr.Disconnect()

	assert.Equal(t, SimulationActive, tr.Simulate())
	expectStates(t, states, SimulationActive)

	assert.Equal(t, SimulationActive, tr.Connect(context.Background(), "can0"))
	assert.Equal(t, SimulationActive, tr.Simulate())
	expectNoState(t, states)
}

func TestConnectRealBus(t *testing.T) {
	stub := createBusStub()
	defer stubNewBus(func(name string) (Bus, error) {
		assert.Equal(t, "can0", name)
		return stub, nil
	})()

	tr := New()
	states := watch(tr)

	assert.Equal(t, Connected, tr.Connect(context.Background(), "can0"))
	expectStates(t, states, Connecting, Connected)
	<-stub.startedChan

	// data frames reach the stream
	stub.deliver(can.Frame{ID: frame.Fuel, Length: 1, Data: [8]uint8{42}})
	f := <-tr.Frames()
	assert.Equal(t, frame.MustNew(frame.Fuel, []byte{42}), f)

	// a bus error frame is reported without changing state
	stub.deliver(can.Frame{ID: 0x20000004, Length: 8})
	err := <-tr.Errors()
	assert.Equal(t, ErrBusFault, errors.Cause(err))

	stub.deliver(can.Frame{ID: frame.Fuel, Length: 9})
	err = <-tr.Errors()
	assert.Equal(t, ErrMalformedFrame, errors.Cause(err))
	assert.Equal(t, Connected, tr.State())
	expectNoState(t, states)

	// sending works while connected
	require.NoError(t, tr.Send(frame.MustNew(frame.Speed, []byte{1, 2})))
	sent := <-stub.publishChan
	assert.Equal(t, uint32(frame.Speed), sent.ID)

	tr.Disconnect()
	expectStates(t, states, Disconnected)
	assert.True(t, stub.isDisconnected())

	// idempotent
	tr.Disconnect()
	expectNoState(t, states)
}

func TestReadLoopFailureMovesToError(t *testing.T) {
	stub := createBusStub()
	defer stubNewBus(func(string) (Bus, error) {
		return stub, nil
	})()

	tr := New()
	states := watch(tr)
	require.Equal(t, Connected, tr.Connect(context.Background(), "can0"))
	expectStates(t, states, Connecting, Connected)
	<-stub.startedChan

	stub.stopChan <- errors.New("link down")
	expectStates(t, states, Error)
	assert.Equal(t, ErrBusFault, errors.Cause(tr.Err()))
	assert.Equal(t, ErrBusFault, errors.Cause(<-tr.Errors()))

	// error is sticky until an explicit disconnect
	assert.Equal(t, Error, tr.Connect(context.Background(), "can0"))

	tr.Disconnect()
	expectStates(t, states, Disconnected)
	assert.NoError(t, tr.Err())
	assert.True(t, stub.isDisconnected())
}

func TestDisconnectWhileConnecting(t *testing.T) {
	stub := createBusStub()
	release := make(chan struct{})
	entered := make(chan struct{})
	defer stubNewBus(func(string) (Bus, error) {
		close(entered)
		<-release
		return stub, nil
	})()

	tr := New()
	states := watch(tr)

	result := make(chan State, 1)
	go func() {
		result <- tr.Connect(context.Background(), "can0")
	}()
	expectStates(t, states, Connecting)
	<-entered

	tr.Disconnect()
	expectStates(t, states, Disconnected)
	assert.Equal(t, Disconnected, <-result)

	// the opener finishing late must not resurrect the connection
	close(release)
	assert.Eventually(t, stub.isDisconnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, Disconnected, tr.State())
	expectNoState(t, states)
}

func TestConnectContextCancelled(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	defer close(release)
	defer stubNewBus(func(string) (Bus, error) {
		close(entered)
		<-release
		return nil, errors.New("gave up")
	})()

	tr := New()
	states := watch(tr)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan State, 1)
	go func() {
		result <- tr.Connect(ctx, "can0")
	}()
	expectStates(t, states, Connecting)
	<-entered
	cancel()
	assert.Equal(t, Disconnected, <-result)
	expectStates(t, states, Disconnected)
}

func TestSendDroppedUnlessConnected(t *testing.T) {
	tr := New(WithTick(10 * time.Millisecond))
	assert.NoError(t, tr.Send(frame.MustNew(frame.Speed, []byte{1, 0})))

	tr.Simulate()
	assert.NoError(t, tr.Send(frame.MustNew(frame.Speed, []byte{1, 0})))
	tr.Disconnect()
}

func TestFramesDroppedWhenFull(t *testing.T) {
	tr := New(WithBuffers(1, 1))
	tr.emit(frame.MustNew(frame.Speed, nil))
	tr.emit(frame.MustNew(frame.RPM, nil))
	assert.Equal(t, frame.Speed, (<-tr.Frames()).ID())

	tr.report(errors.New("first"))
	tr.report(errors.New("second"))
	assert.EqualError(t, <-tr.Errors(), "first")
}

func TestWithOpener(t *testing.T) {
	stub := createBusStub()
	tr := New(WithOpener(func(name string) (Bus, error) {
		assert.Equal(t, "vcan0", name)
		return stub, nil
	}))
	assert.Equal(t, Connected, tr.Connect(context.Background(), "vcan0"))
	<-stub.startedChan
	tr.Disconnect()
	assert.True(t, stub.isDisconnected())
}
