package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dbxops/mcpwire/pkg/transport"
)

// countingFactory builds a fresh mock per connect cycle and remembers them.
type countingFactory struct {
	mu      sync.Mutex
	built   []*mockTransport
	failFor int // fail the first n builds after arming
	armed   int
}

func (f *countingFactory) build() (transport.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed < f.failFor {
		f.armed++
		return nil, errors.New("dial failed")
	}
	m := newMockTransport()
	m.issueSessionID = "session-" + string(rune('a'+len(f.built)))
	f.built = append(f.built, m)
	return m, nil
}

func (f *countingFactory) transports() []*mockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockTransport(nil), f.built...)
}

func TestReconnect(t *testing.T) {
	factory := &countingFactory{}
	c := New(transport.TransportConfig{},
		WithTransportFactory(factory.build),
		WithReconnectDelay(10*time.Millisecond),
	)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	firstID := c.SessionID()

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}

	if !c.Connected() {
		t.Error("Expected connected after reconnect")
	}
	if c.SessionID() == firstID {
		t.Error("Expected a fresh session id after reconnect")
	}

	// A brand new transport per cycle; the old one was stopped.
	built := factory.transports()
	if len(built) != 2 {
		t.Fatalf("Expected two transports built, got %d", len(built))
	}
	if !built[0].stopped {
		t.Error("Expected the first transport stopped")
	}

	// The new session is fully usable.
	result, err := c.CallTool(context.Background(), "echo", nil)
	if err != nil || result.IsError {
		t.Errorf("Expected a working session after reconnect, got %+v err %v", result, err)
	}
}

// The default policy is a single attempt; failure propagates to the caller
// instead of looping internally.
func TestReconnectSingleAttemptFailure(t *testing.T) {
	factory := &countingFactory{failFor: 100}
	c := New(transport.TransportConfig{},
		WithTransportFactory(factory.build),
		WithReconnectDelay(time.Millisecond),
	)

	start := time.Now()
	err := c.Reconnect(context.Background())
	if err == nil {
		t.Fatal("Expected reconnect failure to propagate")
	}
	if c.Connected() {
		t.Error("Expected disconnected after a failed reconnect")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Single attempt took %v; looks like an internal retry loop", elapsed)
	}
}

func TestReconnectBoundedRetries(t *testing.T) {
	factory := &countingFactory{failFor: 2}
	c := New(transport.TransportConfig{},
		WithTransportFactory(factory.build),
		WithReconnectDelay(time.Millisecond),
		WithReconnectRetries(3),
	)

	if err := c.Reconnect(context.Background()); err != nil {
		t.Fatalf("Expected the third attempt to succeed, got %v", err)
	}
	if !c.Connected() {
		t.Error("Expected connected")
	}
}

func TestReconnectCancelledDuringDelay(t *testing.T) {
	factory := &countingFactory{}
	c := New(transport.TransportConfig{},
		WithTransportFactory(factory.build),
		WithReconnectDelay(10*time.Second),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := c.Reconnect(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got %v", err)
	}
	if len(factory.transports()) != 0 {
		t.Error("Expected no connect attempt after cancellation")
	}
}
