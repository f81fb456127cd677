package shutdown

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"sharewear/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{Level: "error", Format: "json", Output: &buf})
}

func TestShutdownRunsHandlers(t *testing.T) {
	m := NewManager(testLogger(), 5*time.Second)

	var ran int32
	m.Register("first", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	m.Register("second", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	m.Shutdown()

	if atomic.LoadInt32(&ran) != 2 {
		t.Errorf("expected 2 handlers to run, got %d", ran)
	}
}

func TestShutdownContinuesOnHandlerError(t *testing.T) {
	m := NewManager(testLogger(), 5*time.Second)

	var ran int32
	m.Register("failing", func(ctx context.Context) error {
		return fmt.Errorf("cleanup failed")
	})
	m.Register("ok", func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	m.Shutdown()

	if atomic.LoadInt32(&ran) != 1 {
		t.Error("expected remaining handlers to run despite failure")
	}
}

func TestShutdownTimeout(t *testing.T) {
	m := NewManager(testLogger(), 100*time.Millisecond)

	m.Register("slow", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil
	})

	start := time.Now()
	m.Shutdown()
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("shutdown did not respect timeout, took %s", elapsed)
	}
}

func TestDoneClosedAfterShutdown(t *testing.T) {
	m := NewManager(testLogger(), time.Second)
	m.Shutdown()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Error("Done channel not closed after shutdown")
	}
}

func TestRegisterSimple(t *testing.T) {
	m := NewManager(testLogger(), time.Second)

	var ran bool
	m.RegisterSimple("simple", func() { ran = true })
	m.Shutdown()

	if !ran {
		t.Error("expected simple handler to run")
	}
}

func TestContextCanceledOnShutdown(t *testing.T) {
	m := NewManager(testLogger(), time.Second)
	ctx := m.Context()

	m.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("manager context not canceled after shutdown")
	}
}
