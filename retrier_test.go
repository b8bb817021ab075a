package vehiclebus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func noDelays() func() {
	origRetrySleep := retrySleep
	retrySleep = 0
	return func() {
		retrySleep = origRetrySleep
	}
}

type retryable struct {
	mu          sync.Mutex
	open        bool
	opens       int
	hasClosed   bool
	openErr     error
	startedChan chan struct{}
	stopChan    chan error
}

func (r *retryable) Open(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
	if r.openErr != nil {
		err := r.openErr
		r.openErr = nil
		return err
	}
	r.open = true
	return nil
}

func (r *retryable) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	r.hasClosed = true
	return nil
}

func (r *retryable) Start(ctx context.Context) error {
	r.startedChan <- struct{}{}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-r.stopChan:
		return err
	}
}

func (r *retryable) Name() string {
	return "retryable-test"
}

func (r *retryable) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func TestRetry(t *testing.T) {
	defer noDelays()()
	r := retryable{
		startedChan: make(chan struct{}),
		stopChan:    make(chan error),
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Equal(t, context.Canceled, retry(ctx, &r, retrySleep))
		wg.Done()
	}()
	// wait for start to be called
	<-r.startedChan
	assert.True(t, r.isOpen())

	// start returning without an error does not reopen
	r.stopChan <- nil
	<-r.startedChan
	assert.True(t, r.isOpen())

	// emulate an error being returned from start
	r.stopChan <- errors.New("fake error")
	<-r.startedChan
	// check that it was closed and re-opened
	r.mu.Lock()
	assert.True(t, r.hasClosed)
	assert.Equal(t, 2, r.opens)
	r.mu.Unlock()
	assert.True(t, r.isOpen())

	cancel()
	wg.Wait()
}

func TestRetryOpenFailure(t *testing.T) {
	defer noDelays()()
	r := retryable{
		openErr:     errors.New("no such device"),
		startedChan: make(chan struct{}),
		stopChan:    make(chan error),
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		_ = retry(ctx, &r, retrySleep)
		wg.Done()
	}()
	<-r.startedChan
	r.mu.Lock()
	assert.Equal(t, 2, r.opens)
	r.mu.Unlock()

	cancel()
	wg.Wait()
}

func TestRetrySleepHonoursContext(t *testing.T) {
	origRetrySleep := retrySleep
	retrySleep = time.Hour
	defer func() {
		retrySleep = origRetrySleep
	}()

	r := retryable{
		startedChan: make(chan struct{}),
		stopChan:    make(chan error),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- retry(ctx, &r, retrySleep)
	}()
	<-r.startedChan
	r.stopChan <- errors.New("link down")

	// now sleeping before the reopen
	cancel()
	select {
	case err := <-done:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		assert.Fail(t, "retry did not stop while sleeping")
	}
}
