package halcore

import (
	"errors"
	"fmt"

	"github.com/gogpu/halcore/device"
)

// Error classes. Every error returned by this package matches exactly one
// of ErrContractViolation, ErrDevice or ErrTimeout under errors.Is.
var (
	// ErrContractViolation is matched by every *ContractError: the caller
	// broke a documented precondition.
	ErrContractViolation = errors.New("halcore: contract violation")

	// ErrDevice is matched by every *DeviceError: the device or driver
	// reported a failure.
	ErrDevice = errors.New("halcore: device error")

	// ErrTimeout is returned when a finite fence wait elapses.
	ErrTimeout = errors.New("halcore: wait timed out")
)

// ContractError reports a broken precondition.
type ContractError struct {
	msg string
}

func contractError(msg string) *ContractError { return &ContractError{msg: msg} }

func (e *ContractError) Error() string { return "halcore: " + e.msg }

// Unwrap returns ErrContractViolation.
func (e *ContractError) Unwrap() error { return ErrContractViolation }

// Contract violations.
var (
	// ErrAlreadyInitialized is returned by Init when the context exists.
	ErrAlreadyInitialized = contractError("context already initialized")

	// ErrNotInitialized is returned when the context is accessed before
	// Init or after Destroy.
	ErrNotInitialized = contractError("context not initialized")

	// ErrContextDestroyed is returned when a resource outlives its context.
	ErrContextDestroyed = contractError("context has been destroyed")

	// ErrResourcesOutstanding is returned by Destroy while resources created
	// from the context are still alive.
	ErrResourcesOutstanding = contractError("resources still alive")

	// ErrInvalidAPIVersion is returned for an unsupported APIVersion.
	ErrInvalidAPIVersion = contractError("unsupported API version")

	// ErrEmptyUsage is returned when a buffer is built without usage flags.
	ErrEmptyUsage = contractError("buffer usage is empty")

	// ErrZeroSize is returned when a buffer would hold no bytes.
	ErrZeroSize = contractError("buffer size is zero")

	// ErrElementNotPlain is returned when a buffer element type contains
	// pointers, which device memory cannot hold.
	ErrElementNotPlain = contractError("buffer element type contains pointers")

	// ErrInvalidAlignment is returned for an alignment that is not a power
	// of two.
	ErrInvalidAlignment = contractError("alignment is not a power of two")

	// ErrDataExceedsCount is returned when initial data is longer than the
	// requested element count.
	ErrDataExceedsCount = contractError("initial data exceeds element count")

	// ErrDataWithoutTransferDst is returned when initial data is given for
	// memory that is not host mapped and lacks copy-destination usage.
	ErrDataWithoutTransferDst = contractError("initial data requires host mapping or copy-destination usage")

	// ErrBufferDestroyed is returned when a destroyed buffer is used.
	ErrBufferDestroyed = contractError("buffer has been destroyed")

	// ErrMissingUsage is returned when a copy endpoint lacks the copy
	// source or copy destination usage.
	ErrMissingUsage = contractError("buffer lacks usage required for copy")

	// ErrCopyOverlap is returned when a copy reads and writes overlapping
	// ranges of one buffer.
	ErrCopyOverlap = contractError("copy source and destination overlap")

	// ErrCommandBufferConsumed is returned when a single-use command buffer
	// is recorded again after submission.
	ErrCommandBufferConsumed = contractError("single-use command buffer already submitted")

	// ErrCommandBufferBusy is returned when recording starts on a command
	// buffer that is already recording.
	ErrCommandBufferBusy = contractError("command buffer is already recording")

	// ErrCommandBufferDestroyed is returned when a destroyed command buffer
	// is used.
	ErrCommandBufferDestroyed = contractError("command buffer has been destroyed")

	// ErrRecordingClosed is returned when a submitted or discarded
	// recording is used.
	ErrRecordingClosed = contractError("recording already submitted or discarded")

	// ErrFenceNotSubmitted is returned when waiting on an unsignaled fence
	// that no pending submission will signal.
	ErrFenceNotSubmitted = contractError("fence is unsignaled and not pending")

	// ErrFencePending is returned when a fence still guarding submitted
	// work is reset.
	ErrFencePending = contractError("fence reset while its submission is pending")

	// ErrNilBuffer is returned when a zero Region or a nil Buffer is used.
	ErrNilBuffer = contractError("region has no buffer")

	// ErrFenceDestroyed is returned when a destroyed fence is used.
	ErrFenceDestroyed = contractError("fence has been destroyed")
)

// DeviceError reports a failure of the device or driver.
type DeviceError struct {
	// Op names the operation, e.g. "allocate buffer".
	Op string
	// Err is the underlying backend error.
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("halcore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the backend error.
func (e *DeviceError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDevice.
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }

func deviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DeviceError{Op: op, Err: err}
}

// IsFatal reports whether err is unrecoverable. Only device loss is fatal;
// the context must be destroyed and initialized again.
func IsFatal(err error) bool {
	return errors.Is(err, device.ErrDeviceLost)
}

// Must panics if err is non-nil and returns v otherwise.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
