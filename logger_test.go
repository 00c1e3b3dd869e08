package clmtl

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/gogpu/clmtl/device/soft"
)

func TestNopHandler_Enabled(t *testing.T) {
	h := nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), level) {
			t.Errorf("nopHandler.Enabled(%v) = true, want false", level)
		}
	}
}

func TestNopHandler_Derived(t *testing.T) {
	h := nopHandler{}
	if err := h.Handle(context.Background(), slog.Record{}); err != nil {
		t.Errorf("nopHandler.Handle() = %v, want nil", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.String("key", "val")}).(nopHandler); !ok {
		t.Error("nopHandler.WithAttrs() did not return a nopHandler")
	}
	if _, ok := h.WithGroup("group").(nopHandler); !ok {
		t.Error("nopHandler.WithGroup() did not return a nopHandler")
	}
}

func TestLoggerDefaultSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() returned nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger should not be enabled for %v", level)
		}
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	SetLogger(custom)

	if Logger() != custom {
		t.Fatal("Logger() did not return the logger set via SetLogger")
	}

	ctx, err := NewContext()
	if err != nil {
		t.Fatalf("NewContext() = %v", err)
	}
	defer ctx.Release()
	if !strings.Contains(buf.String(), "context created") {
		t.Errorf("expected context creation to be logged, got: %s", buf.String())
	}
}

func TestSetLoggerNilRestoresSilent(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	SetLogger(slog.Default())
	SetLogger(nil)

	l := Logger()
	if l == nil {
		t.Fatal("SetLogger(nil) should set nop logger, not nil")
	}
	if l.Enabled(context.Background(), slog.LevelError) {
		t.Error("SetLogger(nil) should produce a disabled logger")
	}
}

// loggingDevice records the logger it was given.
type loggingDevice struct {
	*soft.Device

	mu     sync.Mutex
	logger *slog.Logger
}

func (d *loggingDevice) SetLogger(l *slog.Logger) {
	d.mu.Lock()
	d.logger = l
	d.mu.Unlock()
	d.Device.SetLogger(l)
}

func (d *loggingDevice) current() *slog.Logger {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logger
}

func TestSetLoggerPropagatesToLiveContexts(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	dev := &loggingDevice{Device: soft.New()}
	defer dev.Close()
	ctx, err := NewContext(WithDevice(dev))
	if err != nil {
		t.Fatalf("NewContext() = %v", err)
	}
	if dev.current() != Logger() {
		t.Error("NewContext did not hand the package logger to the device")
	}

	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	SetLogger(custom)
	if dev.current() != custom {
		t.Error("SetLogger did not propagate to the device of a live context")
	}

	if err := ctx.Release(); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	SetLogger(nil)
	if dev.current() != custom {
		t.Error("SetLogger reached the device of a released context")
	}
}

func TestWithLoggerIsNotOverridden(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	own := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	dev := &loggingDevice{Device: soft.New()}
	defer dev.Close()
	ctx, err := NewContext(WithDevice(dev), WithLogger(own))
	if err != nil {
		t.Fatalf("NewContext() = %v", err)
	}
	defer ctx.Release()

	SetLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	if dev.current() != own {
		t.Error("SetLogger replaced the logger of a context created WithLogger")
	}
}

func TestLoggerConcurrentAccess(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	const goroutines = 100
	for range goroutines {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l := Logger()
			if l == nil {
				t.Error("Logger() returned nil during concurrent access")
				return
			}
			l.Debug("concurrent read")
		}()
		go func() {
			defer wg.Done()
			SetLogger(slog.Default())
			SetLogger(nil)
		}()
	}
	wg.Wait()
}

func BenchmarkLoggerDisabledLog(b *testing.B) {
	l := Logger()
	b.ReportAllocs()
	for b.Loop() {
		l.Debug("message", "key", "value")
	}
}
