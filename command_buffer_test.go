package halcore

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/halcore/device/software"
)

func TestUsesString(t *testing.T) {
	tests := []struct {
		u    Uses
		want string
	}{
		{SingleUse, "Single"},
		{MultiUse, "Multi"},
		{Uses(7), "Uses(7)"},
	}
	for _, tt := range tests {
		if got := tt.u.String(); got != tt.want {
			t.Errorf("Uses(%d).String() = %q, want %q", int(tt.u), got, tt.want)
		}
	}
}

func TestNewCommandBufferInvalidUses(t *testing.T) {
	initSoftware(t)
	if _, err := NewCommandBuffer(Uses(9)); !errors.Is(err, ErrContractViolation) {
		t.Errorf("NewCommandBuffer(9) error = %v, want contract violation", err)
	}
}

func TestMultiUseRerecord(t *testing.T) {
	initSoftware(t)
	src := hostBuffer(t, "src", []uint32{1, 2, 3, 4})
	dst := hostBuffer(t, "dst", make([]uint32, 4))

	cb, err := NewCommandBuffer(MultiUse)
	if err != nil {
		t.Fatalf("NewCommandBuffer() error = %v", err)
	}
	defer cb.Destroy()
	cb.SetLabel("rerecord")

	srcView, _ := src.Mapped()
	dstView, _ := dst.Mapped()
	for round := uint32(0); round < 5; round++ {
		srcView.Set(0, round)

		rec, err := cb.StartRecording()
		if err != nil {
			t.Fatalf("round %d: StartRecording() error = %v", round, err)
		}
		if err := src.RecordCopy(rec, dst); err != nil {
			t.Fatalf("round %d: RecordCopy() error = %v", round, err)
		}
		if rec.Copies() != 1 {
			t.Errorf("round %d: Copies() = %d, want 1", round, rec.Copies())
		}
		if _, err := rec.Submit(); err != nil {
			t.Fatalf("round %d: Submit() error = %v", round, err)
		}
		if err := cb.Wait(); err != nil {
			t.Fatalf("round %d: Wait() error = %v", round, err)
		}
		if got := dstView.At(0); got != round {
			t.Errorf("round %d: dst[0] = %d", round, got)
		}
	}
	if cb.Submissions() != 5 {
		t.Errorf("Submissions() = %d, want 5", cb.Submissions())
	}
	if !cb.Usable() {
		t.Error("MultiUse command buffer became unusable")
	}
	if cb.Label() != "rerecord" {
		t.Errorf("Label() = %q", cb.Label())
	}
}

func TestSingleUseConsumed(t *testing.T) {
	initSoftware(t)

	cb, err := NewCommandBuffer(SingleUse)
	if err != nil {
		t.Fatalf("NewCommandBuffer() error = %v", err)
	}
	defer cb.Destroy()

	rec, err := cb.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := rec.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := rec.Submit(); !errors.Is(err, ErrRecordingClosed) {
		t.Errorf("second Submit() error = %v, want ErrRecordingClosed", err)
	}
	if cb.Usable() {
		t.Error("Usable() = true after single-use submission")
	}
	if _, err := cb.StartRecording(); !errors.Is(err, ErrCommandBufferConsumed) {
		t.Errorf("StartRecording() after submit error = %v, want ErrCommandBufferConsumed", err)
	}
	if err := cb.Wait(); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestStartRecordingBusy(t *testing.T) {
	initSoftware(t)

	cb, err := NewCommandBuffer(MultiUse)
	if err != nil {
		t.Fatalf("NewCommandBuffer() error = %v", err)
	}
	defer cb.Destroy()

	rec, err := cb.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if _, err := cb.StartRecording(); !errors.Is(err, ErrCommandBufferBusy) {
		t.Errorf("nested StartRecording() error = %v, want ErrCommandBufferBusy", err)
	}
	if _, err := rec.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := rec.Discard(); !errors.Is(err, ErrRecordingClosed) {
		t.Errorf("second Discard() error = %v, want ErrRecordingClosed", err)
	}
	if cb.Submissions() != 0 {
		t.Errorf("Submissions() = %d after Discard", cb.Submissions())
	}

	rec, err = cb.StartRecording()
	if err != nil {
		t.Fatalf("StartRecording() after Discard error = %v", err)
	}
	if _, err := rec.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
}

func TestDiscardKeepsSingleUseUsable(t *testing.T) {
	initSoftware(t)

	cb, err := NewCommandBuffer(SingleUse)
	if err != nil {
		t.Fatalf("NewCommandBuffer() error = %v", err)
	}
	defer cb.Destroy()

	rec, _ := cb.StartRecording()
	if _, err := rec.Discard(); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if !cb.Usable() {
		t.Error("Discard consumed a single-use command buffer")
	}
}

func TestStartRecordingWaitsForPendingSubmission(t *testing.T) {
	initSoftwareWith(t, software.Options{Latency: 50 * time.Millisecond})
	src := hostBuffer(t, "src", []uint64{7, 8})
	dst := hostBuffer(t, "dst", make([]uint64, 2))

	cb, err := NewCommandBuffer(MultiUse)
	if err != nil {
		t.Fatalf("NewCommandBuffer() error = %v", err)
	}
	defer cb.Destroy()

	for round := 0; round < 3; round++ {
		rec, err := cb.StartRecording()
		if err != nil {
			t.Fatalf("round %d: StartRecording() error = %v", round, err)
		}
		if err := src.RecordCopy(rec, dst); err != nil {
			t.Fatalf("round %d: RecordCopy() error = %v", round, err)
		}
		if _, err := rec.Submit(); err != nil {
			t.Fatalf("round %d: Submit() error = %v", round, err)
		}
	}
	if err := cb.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	view, _ := dst.Mapped()
	if view.At(0) != 7 || view.At(1) != 8 {
		t.Errorf("dst = %v, want [7 8]", view.Slice())
	}
}

func TestCommandBufferWaitTimeout(t *testing.T) {
	initSoftwareWith(t, software.Options{Latency: 300 * time.Millisecond})

	cb, err := NewCommandBuffer(MultiUse)
	if err != nil {
		t.Fatalf("NewCommandBuffer() error = %v", err)
	}
	defer cb.Destroy()

	rec, _ := cb.StartRecording()
	if _, err := rec.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	err = cb.WaitWithTimeout(time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("WaitWithTimeout(1ms) error = %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrContractViolation) || errors.Is(err, ErrDevice) {
		t.Errorf("timeout error %v matches another error class", err)
	}
	if err := cb.Wait(); err != nil {
		t.Errorf("Wait() after timeout error = %v", err)
	}
}

func TestCommandBufferDestroy(t *testing.T) {
	initSoftwareWith(t, software.Options{Latency: 20 * time.Millisecond})

	cb, err := NewCommandBuffer(MultiUse)
	if err != nil {
		t.Fatalf("NewCommandBuffer() error = %v", err)
	}
	rec, _ := cb.StartRecording()
	if _, err := rec.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Destroy must wait for the pending submission.
	if err := cb.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if err := cb.Destroy(); err != nil {
		t.Errorf("second Destroy() error = %v", err)
	}
	if _, err := cb.StartRecording(); !errors.Is(err, ErrCommandBufferDestroyed) {
		t.Errorf("StartRecording() after Destroy error = %v, want ErrCommandBufferDestroyed", err)
	}
	if err := cb.Wait(); !errors.Is(err, ErrCommandBufferDestroyed) {
		t.Errorf("Wait() after Destroy error = %v, want ErrCommandBufferDestroyed", err)
	}
}

func TestRunSingleUse(t *testing.T) {
	initSoftware(t)
	src := hostBuffer(t, "src", []int32{-1, -2, -3})
	dst := hostBuffer(t, "dst", make([]int32, 3))

	err := RunSingleUse(func(rec *Recording) error {
		return src.RecordCopy(rec, dst)
	})
	if err != nil {
		t.Fatalf("RunSingleUse() error = %v", err)
	}
	view, _ := dst.Mapped()
	for i, want := range []int32{-1, -2, -3} {
		if got := view.At(i); got != want {
			t.Errorf("dst[%d] = %d, want %d", i, got, want)
		}
	}
	if live := MustGet().Stats().CommandBuffers; live != 0 {
		t.Errorf("RunSingleUse leaked %d command buffers", live)
	}
}

func TestRunSingleUseErrorDiscards(t *testing.T) {
	initSoftware(t)
	src := hostBuffer(t, "src", []uint32{9})
	dst := hostBuffer(t, "dst", []uint32{0})

	boom := errors.New("boom")
	err := RunSingleUse(func(rec *Recording) error {
		if err := src.RecordCopy(rec, dst); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunSingleUse() error = %v, want boom", err)
	}
	view, _ := dst.Mapped()
	if view.At(0) != 0 {
		t.Error("discarded recording was executed")
	}
	if stats := MustGet().Stats(); stats.CommandBuffers != 0 || stats.Fences != 0 {
		t.Errorf("Stats() = %s after failed RunSingleUse", stats)
	}
}

func TestRunSingleUsePanicDiscards(t *testing.T) {
	initSoftware(t)

	func() {
		defer func() {
			if p := recover(); p != "record failed" {
				t.Errorf("recover() = %v, want panic value", p)
			}
		}()
		_ = RunSingleUse(func(*Recording) error {
			panic("record failed")
		})
	}()

	if stats := MustGet().Stats(); stats.CommandBuffers != 0 || stats.Fences != 0 {
		t.Errorf("Stats() = %s after panicking RunSingleUse", stats)
	}
}

func TestRecordingAfterSubmitRejected(t *testing.T) {
	initSoftware(t)
	src := hostBuffer(t, "src", []uint32{1})
	dst := hostBuffer(t, "dst", []uint32{0})

	err := RunSingleUse(func(rec *Recording) error { return nil })
	if err != nil {
		t.Fatalf("RunSingleUse() error = %v", err)
	}

	cb, _ := NewCommandBuffer(MultiUse)
	defer cb.Destroy()
	rec, _ := cb.StartRecording()
	if _, err := rec.Submit(); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := src.RecordCopy(rec, dst); !errors.Is(err, ErrRecordingClosed) {
		t.Errorf("RecordCopy() into submitted recording error = %v, want ErrRecordingClosed", err)
	}
	if err := src.RecordCopy(nil, dst); !errors.Is(err, ErrRecordingClosed) {
		t.Errorf("RecordCopy(nil) error = %v, want ErrRecordingClosed", err)
	}
}
