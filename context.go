package halcore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/halcore/device"
)

const (
	ctxAlive int32 = iota
	ctxClosing
	ctxDestroyed
)

// Context is the process-wide device context: one instance, one logical
// device with its queue, a command pool and a memory allocator.
//
// There is at most one Context at a time. It is created by Init, obtained
// with Get, Shared or Exclusive, and torn down by Destroy. Resources keep
// a reference to the Context they were created from and count as live
// until destroyed; Destroy refuses to run while any are alive.
type Context struct {
	cfg      Config
	backend  string
	instance device.Instance
	dev      device.Device
	pool     device.CommandPool
	alloc    device.Allocator

	state       atomic.Int32
	live        [numKinds]atomic.Int64
	bufferBytes atomic.Uint64

	mu      sync.RWMutex
	surface gpucontext.DeviceProvider
	debug   bool
}

var (
	// globalMu serializes Init, Destroy and Exclusive against Shared.
	globalMu sync.RWMutex
	global   atomic.Pointer[Context]
)

// Init creates the global context. The steps run in order (backend
// selection, instance, device and queue, command pool, allocator); a
// failing step tears down the completed ones in reverse order.
//
// Init returns ErrAlreadyInitialized if a context exists; the existing
// context is left untouched.
func Init(cfg Config) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global.Load() != nil {
		return ErrAlreadyInitialized
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	c, err := newContext(cfg)
	if err != nil {
		return err
	}
	global.Store(c)

	info := c.dev.Info()
	Logger().Info("halcore: context initialized",
		"backend", c.backend,
		"adapter", info.Name,
		"shared", info.Shared,
		"api", cfg.APIVersion.String(),
		"debug", cfg.Debug)
	return nil
}

func candidates(name string) ([]device.Backend, error) {
	if name != "" {
		b, err := device.Get(name)
		if err != nil {
			return nil, err
		}
		return []device.Backend{b}, nil
	}
	cands := device.Candidates()
	if len(cands) == 0 {
		return nil, device.ErrBackendNotAvailable
	}
	return cands, nil
}

func newContext(cfg Config) (*Context, error) {
	backends, err := candidates(cfg.Backend)
	if err != nil {
		return nil, deviceError("select backend", err)
	}

	desc := &device.InstanceDescriptor{
		AppName:    cfg.AppName,
		EngineName: cfg.EngineName,
		APIVersion: cfg.APIVersion,
		Validation: cfg.Debug,
		Host:       cfg.Surface,
	}

	c := &Context{cfg: cfg, surface: cfg.Surface, debug: cfg.Debug}
	var errs []error
	for _, b := range backends {
		inst, err := b.CreateInstance(desc)
		if err != nil {
			errs = append(errs, deviceError("create instance", err))
			Logger().Warn("halcore: backend unavailable", "backend", b.Name(), "err", err)
			continue
		}
		dev, err := inst.OpenDevice()
		if err != nil {
			inst.Destroy()
			errs = append(errs, deviceError("open device", err))
			Logger().Warn("halcore: no usable device", "backend", b.Name(), "err", err)
			continue
		}
		c.backend, c.instance, c.dev = b.Name(), inst, dev
		break
	}
	if c.dev == nil {
		return nil, errors.Join(errs...)
	}

	if c.pool, err = c.dev.CreateCommandPool(); err != nil {
		c.teardown()
		return nil, deviceError("create command pool", err)
	}
	if c.alloc, err = c.dev.CreateAllocator(); err != nil {
		c.teardown()
		return nil, deviceError("create allocator", err)
	}
	return c, nil
}

// teardown releases the completed init steps in reverse order.
func (c *Context) teardown() {
	if c.alloc != nil {
		c.alloc.Destroy()
		c.alloc = nil
	}
	if c.pool != nil {
		c.pool.Destroy()
		c.pool = nil
	}
	if c.dev != nil {
		c.dev.Destroy()
		c.dev = nil
	}
	if c.instance != nil {
		c.instance.Destroy()
		c.instance = nil
	}
}

// Destroy tears down the global context after the device is idle.
//
// Destroy returns ErrNotInitialized when there is no context and
// ErrResourcesOutstanding while buffers, command buffers, fences or
// semaphores created from it are alive. If waiting for the device fails
// the context is still torn down and the error is returned.
func Destroy() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	c := global.Load()
	if c == nil {
		return ErrNotInitialized
	}
	if !c.state.CompareAndSwap(ctxAlive, ctxClosing) {
		return ErrContextDestroyed
	}
	if stats := c.Stats(); stats.Live() > 0 {
		c.state.Store(ctxAlive)
		return fmt.Errorf("%w: %s", ErrResourcesOutstanding, stats)
	}

	err := c.dev.WaitIdle()
	if err != nil {
		Logger().Warn("halcore: wait idle before teardown failed", "err", err)
	}
	c.state.Store(ctxDestroyed)
	c.teardown()
	global.Store(nil)

	Logger().Info("halcore: context destroyed", "backend", c.backend)
	return deviceError("wait idle", err)
}

// Get returns the global context.
func Get() (*Context, error) {
	c := global.Load()
	if c == nil {
		return nil, ErrNotInitialized
	}
	return c, nil
}

// MustGet returns the global context or panics.
func MustGet() *Context {
	return Must(Get())
}

// Initialized reports whether the global context exists.
func Initialized() bool {
	return global.Load() != nil
}

// Shared runs fn with the context under the shared lock. Any number of
// Shared calls run concurrently; they exclude Exclusive, Init and Destroy.
// fn must not call Init, Destroy or Exclusive.
func Shared(fn func(*Context) error) error {
	globalMu.RLock()
	defer globalMu.RUnlock()

	c := global.Load()
	if c == nil {
		return ErrNotInitialized
	}
	return fn(c)
}

// ContextMut is the context as seen under the exclusive lock.
type ContextMut struct {
	*Context
}

// SetSurface replaces the windowing host.
func (m *ContextMut) SetSurface(p gpucontext.DeviceProvider) {
	m.mu.Lock()
	m.surface = p
	m.mu.Unlock()
}

// SetDebug toggles debug logging of recorded commands.
func (m *ContextMut) SetDebug(on bool) {
	m.mu.Lock()
	m.debug = on
	m.mu.Unlock()
}

// Exclusive runs fn with mutable access to the context under the
// exclusive lock. fn must not call Init, Destroy, Shared or Exclusive.
func Exclusive(fn func(*ContextMut) error) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	c := global.Load()
	if c == nil {
		return ErrNotInitialized
	}
	return fn(&ContextMut{Context: c})
}

// Config returns the configuration the context was created with.
func (c *Context) Config() Config { return c.cfg }

// Backend returns the name of the backend in use.
func (c *Context) Backend() string { return c.backend }

// Info describes the adapter the device was opened on.
// Info, Device, Queue and Allocator panic with ErrContextDestroyed on a
// context that has been torn down.
func (c *Context) Info() device.AdapterInfo {
	c.mustBeAlive()
	return c.dev.Info()
}

// Device returns the logical device.
func (c *Context) Device() device.Device {
	c.mustBeAlive()
	return c.dev
}

// Queue returns the device queue.
func (c *Context) Queue() device.Queue {
	c.mustBeAlive()
	return c.dev.Queue()
}

// Allocator returns the memory allocator.
func (c *Context) Allocator() device.Allocator {
	c.mustBeAlive()
	return c.alloc
}

func (c *Context) mustBeAlive() {
	if c.Destroyed() {
		panic(ErrContextDestroyed)
	}
}

// Surface returns the windowing host, if one was configured.
func (c *Context) Surface() (gpucontext.DeviceProvider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.surface, c.surface != nil
}

// Debug reports whether recorded commands are logged.
func (c *Context) Debug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debug
}

// Destroyed reports whether the context has been torn down.
func (c *Context) Destroyed() bool {
	return c.state.Load() == ctxDestroyed
}

// acquire registers a new live resource of kind k. It fails once the
// context is closing, so Destroy never races a resource creation: either
// Destroy sees the count or acquire sees the state.
func (c *Context) acquire(k kind) error {
	c.live[k].Add(1)
	if c.state.Load() != ctxAlive {
		c.live[k].Add(-1)
		return ErrContextDestroyed
	}
	return nil
}

func (c *Context) release(k kind) {
	c.live[k].Add(-1)
}
