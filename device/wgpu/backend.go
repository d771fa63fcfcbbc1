// Package wgpu implements device backends over the gogpu/wgpu HAL.
//
// Two backends are registered: "vulkan", which drives real hardware
// through hal/vulkan, and "noop", which uses the HAL's no-op API and is
// useful for exercising lifecycle code without a GPU.
//
// The HAL is modeled on WebGPU and differs from the device contract in a
// few places this package bridges:
//   - HAL fences are value based; binary fences are emulated by creating
//     one HAL fence per submission and waiting for value 1.
//   - HAL buffers are never persistently mapped; host-mapped allocations
//     carry a host shadow that is uploaded with Queue.WriteBuffer before a
//     submission that reads it, and read back after the fence of a
//     submission that writes it.
//   - The HAL has no command pools or semaphores; both are host objects.
package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/halcore/device"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	_ "github.com/gogpu/wgpu/hal/vulkan" // Register Vulkan HAL backend
)

func init() {
	device.Register(device.BackendVulkan, func() device.Backend {
		b, ok := hal.GetBackend(gputypes.BackendVulkan)
		if !ok {
			return nil
		}
		return &Backend{name: device.BackendVulkan, api: b}
	})
	device.Register(device.BackendNoop, func() device.Backend {
		return &Backend{name: device.BackendNoop, api: &noop.API{}}
	})
}

// instanceFactory is the part of a HAL backend this package uses.
type instanceFactory interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Backend is a device.Backend over one HAL API.
type Backend struct {
	name string
	api  instanceFactory
}

// Name returns the registry name.
func (b *Backend) Name() string { return b.name }

// CreateInstance creates the HAL instance. When the descriptor's host
// exposes HAL objects, the instance opens the host's device instead of
// its own.
func (b *Backend) CreateInstance(desc *device.InstanceDescriptor) (device.Instance, error) {
	inst := &Instance{backend: b.name}
	if desc != nil {
		inst.desc = *desc
	}

	if shared, ok, err := sharedDevice(inst.desc.Host); err != nil {
		return nil, err
	} else if ok {
		inst.shared = shared
		device.Logger().Info("wgpu: using host GPU device", "backend", b.name)
		return inst, nil
	}

	if inst.desc.Validation {
		device.Logger().Debug("wgpu: validation requested; HAL validation follows the driver configuration")
	}
	raw, err := b.api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s instance: %w", b.name, err)
	}
	inst.raw = raw
	return inst, nil
}

type openedDevice struct {
	device hal.Device
	queue  hal.Queue
	info   device.AdapterInfo
}

// sharedDevice extracts the HAL device and queue from a host that
// implements device.HalProvider.
func sharedDevice(host any) (*openedDevice, bool, error) {
	if host == nil {
		return nil, false, nil
	}
	hp, ok := host.(device.HalProvider)
	if !ok {
		return nil, false, nil
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, false, fmt.Errorf("wgpu: host HalDevice is not hal.Device")
	}
	q, ok := hp.HalQueue().(hal.Queue)
	if !ok || q == nil {
		return nil, false, fmt.Errorf("wgpu: host HalQueue is not hal.Queue")
	}
	return &openedDevice{
		device: dev,
		queue:  q,
		info:   device.AdapterInfo{Name: "host device", Shared: true},
	}, true, nil
}

// Instance is a HAL instance.
type Instance struct {
	backend string
	desc    device.InstanceDescriptor
	raw     hal.Instance
	shared  *openedDevice
}

// OpenDevice selects an adapter, preferring discrete then integrated GPUs,
// and opens it with default limits.
func (i *Instance) OpenDevice() (device.Device, error) {
	if i.shared != nil {
		info := i.shared.info
		info.Backend = i.backend
		return newDevice(i.shared.device, i.shared.queue, info), nil
	}

	adapters := i.raw.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return nil, device.ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for k := range adapters {
		if adapters[k].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[k].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[k]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	opened, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}
	info := device.AdapterInfo{
		Name:    selected.Info.Name,
		Backend: i.backend,
		Type:    fmt.Sprint(selected.Info.DeviceType),
	}
	device.Logger().Info("wgpu: device opened", "adapter", info.Name, "type", info.Type)
	return newDevice(opened.Device, opened.Queue, info), nil
}

// Destroy releases the HAL instance. Shared instances own nothing.
func (i *Instance) Destroy() {
	if i.raw != nil {
		i.raw.Destroy()
		i.raw = nil
	}
}
