package halcore

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/halcore/device"
)

// APIVersion is the graphics API version the context targets.
type APIVersion = device.Version

// Supported API versions.
var (
	APIVersion10 = device.MakeVersion(1, 0, 0)
	APIVersion11 = device.MakeVersion(1, 1, 0)
	APIVersion12 = device.MakeVersion(1, 2, 0)
	APIVersion13 = device.MakeVersion(1, 3, 0)
)

// MakeAPIVersion returns the API version major.minor.
func MakeAPIVersion(major, minor uint32) APIVersion {
	return device.MakeVersion(major, minor, 0)
}

// Config configures the device context.
type Config struct {
	// AppName and EngineName identify the application to the driver.
	AppName    string
	EngineName string

	// APIVersion is one of APIVersion10 through APIVersion13.
	APIVersion APIVersion

	// Debug enables API validation where the backend supports it and
	// debug-level logging of every recorded command.
	Debug bool

	// Backend names the device backend. Empty selects the best registered
	// backend, falling back through lower-priority backends when instance
	// creation fails.
	Backend string

	// Surface is the optional windowing host. A host that also exposes its
	// HAL device lets the context share that device.
	Surface gpucontext.DeviceProvider
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AppName:    "halcore app",
		EngineName: "halcore",
		APIVersion: APIVersion13,
	}
}

func (c Config) validate() error {
	switch c.APIVersion {
	case APIVersion10, APIVersion11, APIVersion12, APIVersion13:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidAPIVersion, c.APIVersion)
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AppName == "" {
		c.AppName = d.AppName
	}
	if c.EngineName == "" {
		c.EngineName = d.EngineName
	}
	if c.APIVersion == 0 {
		c.APIVersion = d.APIVersion
	}
	return c
}
