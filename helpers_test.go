package halcore

import (
	"errors"
	"testing"

	"github.com/gogpu/halcore/device"
	"github.com/gogpu/halcore/device/software"
)

// testBackend is registered per test so each test picks its own options.
const testBackend = "software-test"

// initSoftware initializes the global context on a synchronous software
// device. Cleanup destroys the context and fails the test if the device
// recorded any usage violation.
func initSoftware(t *testing.T) *software.Device {
	t.Helper()
	return initSoftwareWith(t, software.Options{})
}

func initSoftwareWith(t *testing.T, opts software.Options) *software.Device {
	t.Helper()
	device.Register(testBackend, func() device.Backend { return software.New(opts) })
	t.Cleanup(func() { device.Unregister(testBackend) })

	if err := Init(Config{Backend: testBackend, Debug: true}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	dev, ok := MustGet().Device().(*software.Device)
	if !ok {
		t.Fatalf("Device() = %T, want *software.Device", MustGet().Device())
	}

	t.Cleanup(func() {
		if v := dev.Violations(); len(v) > 0 {
			t.Errorf("device usage violations: %q", v)
		}
	})
	t.Cleanup(func() {
		if err := Destroy(); err != nil && !errors.Is(err, ErrNotInitialized) {
			t.Errorf("Destroy() error = %v", err)
		}
	})
	return dev
}

// hostBuffer builds a host-mapped copy buffer holding data.
func hostBuffer[T any](t *testing.T, label string, data []T) *Buffer[T] {
	t.Helper()
	buf, err := NewBufferBuilder[T]().
		Data(data).
		Staging().
		Label(label).
		Build()
	if err != nil {
		t.Fatalf("Build(%s) error = %v", label, err)
	}
	t.Cleanup(func() { _ = buf.Destroy() })
	return buf
}

// readBack copies buf into a fresh host-mapped buffer and returns its
// contents.
func readBack[T any](t *testing.T, buf *Buffer[T]) []T {
	t.Helper()
	out, err := NewBufferBuilder[T]().
		Count(buf.Count()).
		Staging().
		Label("readback").
		Build()
	if err != nil {
		t.Fatalf("Build(readback) error = %v", err)
	}
	defer out.Destroy()

	if err := buf.CopyTo(out); err != nil {
		t.Fatalf("CopyTo(readback) error = %v", err)
	}
	view, _ := out.Mapped()
	return append([]T(nil), view.Slice()...)
}
