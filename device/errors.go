package device

import "errors"

// Device errors reported by backends. The core wraps them in its own
// DeviceError; callers match them with errors.Is.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("device: backend not available")

	// ErrNoAdapter is returned when no suitable physical device exists.
	ErrNoAdapter = errors.New("device: no suitable adapter")

	// ErrOutOfDeviceMemory is returned when device memory is exhausted.
	ErrOutOfDeviceMemory = errors.New("device: out of device memory")

	// ErrOutOfHostMemory is returned when host memory is exhausted.
	ErrOutOfHostMemory = errors.New("device: out of host memory")

	// ErrMappingFailed is returned when host-mapped memory was requested
	// but could not be provided.
	ErrMappingFailed = errors.New("device: memory mapping failed")

	// ErrDeviceLost is returned after the device has been lost.
	// It is the only unrecoverable device error.
	ErrDeviceLost = errors.New("device: device lost")

	// ErrInvalidState is returned when an object is used in a state the
	// API does not allow, e.g. submitting a command buffer that is still
	// recording.
	ErrInvalidState = errors.New("device: object in invalid state")

	// ErrFenceNotSubmitted is returned when waiting on an unsignaled fence
	// that no submission will ever signal.
	ErrFenceNotSubmitted = errors.New("device: fence is not pending")

	// ErrForeignHandle is returned when a handle created by another
	// backend is passed to a device.
	ErrForeignHandle = errors.New("device: handle belongs to another backend")
)
