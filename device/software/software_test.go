package software

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/halcore/device"
)

func openDevice(t *testing.T, opts Options) *Device {
	t.Helper()
	inst, err := New(opts).CreateInstance(&device.InstanceDescriptor{AppName: "test"})
	if err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}
	dev, err := inst.OpenDevice()
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	t.Cleanup(func() {
		dev.Destroy()
		inst.Destroy()
	})
	return dev.(*Device)
}

func createBuffer(t *testing.T, al device.Allocator, size uint64, mapped bool) device.Allocation {
	t.Helper()
	a, err := al.CreateBuffer(&device.BufferDescriptor{
		Label:      "test",
		Size:       size,
		Usage:      gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
		HostMapped: mapped,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	return a
}

func TestRegistered(t *testing.T) {
	if !device.IsRegistered(device.BackendSoftware) {
		t.Fatal("software backend is not registered")
	}
	b, err := device.Get(device.BackendSoftware)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if b.Name() != device.BackendSoftware {
		t.Errorf("Name() = %q", b.Name())
	}
}

func TestCopyExecutes(t *testing.T) {
	dev := openDevice(t, Options{})
	al, _ := dev.CreateAllocator()
	pool, _ := dev.CreateCommandPool()

	src := createBuffer(t, al, 16, true)
	dst := createBuffer(t, al, 16, true)
	for i := range src.Mapped() {
		src.Mapped()[i] = byte(i + 1)
	}

	cb, _ := pool.Allocate()
	if err := cb.Begin(device.UsageOneTimeSubmit); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	cb.CopyBuffer(src, dst, []device.BufferCopy{{SrcOffset: 4, DstOffset: 0, Size: 8}})
	if err := cb.End(); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	f, _ := dev.CreateFence(false)
	if err := dev.Queue().Submit(cb, f); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ok, err := dev.Wait(f, device.Infinite)
	if !ok || err != nil {
		t.Fatalf("Wait() = %v, %v", ok, err)
	}

	got := dst.Mapped()
	for i := 0; i < 8; i++ {
		if got[i] != byte(i+5) {
			t.Errorf("dst[%d] = %d, want %d", i, got[i], i+5)
		}
	}
	for i := 8; i < 16; i++ {
		if got[i] != 0 {
			t.Errorf("dst[%d] = %d, want 0", i, got[i])
		}
	}

	pool.Free(cb)
	dev.DestroyFence(f)
	al.DestroyBuffer(src)
	al.DestroyBuffer(dst)
	pool.Destroy()
	al.Destroy()

	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("Violations() = %v", v)
	}
}

func TestDeviceOnlyMemoryIsNotMapped(t *testing.T) {
	dev := openDevice(t, Options{})
	al, _ := dev.CreateAllocator()

	a, err := al.CreateBuffer(&device.BufferDescriptor{
		Size:   64,
		Usage:  gputypes.BufferUsageCopyDst,
		Memory: device.MemoryPreferDevice,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if a.Mapped() != nil {
		t.Error("device-local allocation is host mapped")
	}
	al.DestroyBuffer(a)
}

func TestMemoryLimit(t *testing.T) {
	dev := openDevice(t, Options{MemoryLimit: 100})
	al, _ := dev.CreateAllocator()

	a := createBuffer(t, al, 60, false)
	_, err := al.CreateBuffer(&device.BufferDescriptor{Size: 60, Usage: gputypes.BufferUsageCopyDst})
	if !errors.Is(err, device.ErrOutOfDeviceMemory) {
		t.Fatalf("CreateBuffer() over limit error = %v, want ErrOutOfDeviceMemory", err)
	}

	al.DestroyBuffer(a)
	if dev.MemoryUsed() != 0 {
		t.Errorf("MemoryUsed() = %d after free, want 0", dev.MemoryUsed())
	}
	b := createBuffer(t, al, 60, false)
	al.DestroyBuffer(b)
}

func TestWaitTimeout(t *testing.T) {
	dev := openDevice(t, Options{Latency: 200 * time.Millisecond})
	pool, _ := dev.CreateCommandPool()
	cb, _ := pool.Allocate()
	_ = cb.Begin(0)
	_ = cb.End()

	f, _ := dev.CreateFence(false)
	if err := dev.Queue().Submit(cb, f); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ok, err := dev.Wait(f, time.Millisecond)
	if ok || err != nil {
		t.Errorf("Wait(1ms) = %v, %v; want timeout", ok, err)
	}
	ok, err = dev.Wait(f, device.Infinite)
	if !ok || err != nil {
		t.Errorf("Wait(infinite) = %v, %v", ok, err)
	}
	if err := dev.WaitIdle(); err != nil {
		t.Errorf("WaitIdle() error = %v", err)
	}
}

func TestWaitUnsubmittedFence(t *testing.T) {
	dev := openDevice(t, Options{})
	f, _ := dev.CreateFence(false)

	if _, err := dev.Wait(f, device.Infinite); !errors.Is(err, device.ErrFenceNotSubmitted) {
		t.Errorf("Wait() on idle fence error = %v, want ErrFenceNotSubmitted", err)
	}

	s, _ := dev.CreateFence(true)
	if ok, err := dev.Wait(s, 0); !ok || err != nil {
		t.Errorf("Wait() on signaled fence = %v, %v", ok, err)
	}
	if err := dev.ResetFence(s); err != nil {
		t.Fatalf("ResetFence() error = %v", err)
	}
	if _, err := dev.Wait(s, 0); !errors.Is(err, device.ErrFenceNotSubmitted) {
		t.Errorf("Wait() after reset error = %v, want ErrFenceNotSubmitted", err)
	}
}

func TestUsageViolationsAreRecorded(t *testing.T) {
	dev := openDevice(t, Options{Latency: 100 * time.Millisecond})
	pool, _ := dev.CreateCommandPool()
	cb, _ := pool.Allocate()

	if err := dev.Queue().Submit(cb, nil); !errors.Is(err, device.ErrInvalidState) {
		t.Errorf("Submit() of unrecorded buffer error = %v, want ErrInvalidState", err)
	}

	_ = cb.Begin(0)
	_ = cb.End()
	f, _ := dev.CreateFence(false)
	if err := dev.Queue().Submit(cb, f); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := cb.Begin(0); !errors.Is(err, device.ErrInvalidState) {
		t.Errorf("Begin() while pending error = %v, want ErrInvalidState", err)
	}
	if err := dev.ResetFence(f); !errors.Is(err, device.ErrInvalidState) {
		t.Errorf("ResetFence() while pending error = %v, want ErrInvalidState", err)
	}
	_, _ = dev.Wait(f, device.Infinite)

	if got := len(dev.Violations()); got != 3 {
		t.Errorf("len(Violations()) = %d, want 3: %v", got, dev.Violations())
	}
}

func TestOneTimeSubmitInvalidatesBuffer(t *testing.T) {
	dev := openDevice(t, Options{})
	pool, _ := dev.CreateCommandPool()
	cb, _ := pool.Allocate()

	_ = cb.Begin(device.UsageOneTimeSubmit)
	_ = cb.End()
	if err := dev.Queue().Submit(cb, nil); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := dev.Queue().Submit(cb, nil); !errors.Is(err, device.ErrInvalidState) {
		t.Errorf("second Submit() error = %v, want ErrInvalidState", err)
	}
}

func TestDeviceLost(t *testing.T) {
	dev := openDevice(t, Options{})
	dev.Lose()

	al, err := dev.CreateAllocator()
	if !errors.Is(err, device.ErrDeviceLost) || al != nil {
		t.Errorf("CreateAllocator() after loss = %v, %v; want ErrDeviceLost", al, err)
	}
	if _, err := dev.CreateFence(true); !errors.Is(err, device.ErrDeviceLost) {
		t.Errorf("CreateFence() after loss error = %v, want ErrDeviceLost", err)
	}
}

func TestForeignHandles(t *testing.T) {
	dev := openDevice(t, Options{})
	if _, err := dev.Wait(struct{}{}, 0); !errors.Is(err, device.ErrForeignHandle) {
		t.Errorf("Wait(foreign) error = %v, want ErrForeignHandle", err)
	}
}
