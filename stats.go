package halcore

import "fmt"

type kind int

const (
	kindBuffer kind = iota
	kindCommandBuffer
	kindFence
	kindSemaphore
	numKinds
)

// Stats counts the live resources of a context.
type Stats struct {
	// Buffers is the number of live buffers.
	Buffers int64

	// BufferBytes is the device memory held by live buffers.
	BufferBytes uint64

	// CommandBuffers is the number of live command buffers.
	CommandBuffers int64

	// Fences is the number of live fences, including the fence owned by
	// each command buffer.
	Fences int64

	// Semaphores is the number of live semaphores.
	Semaphores int64
}

// Live returns the total number of live resources.
func (s Stats) Live() int64 {
	return s.Buffers + s.CommandBuffers + s.Fences + s.Semaphores
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Resources[%d buffers (%d KB), %d command buffers, %d fences, %d semaphores]",
		s.Buffers, s.BufferBytes/1024, s.CommandBuffers, s.Fences, s.Semaphores)
}

// Stats returns the live resource counts.
func (c *Context) Stats() Stats {
	return Stats{
		Buffers:        c.live[kindBuffer].Load(),
		BufferBytes:    c.bufferBytes.Load(),
		CommandBuffers: c.live[kindCommandBuffer].Load(),
		Fences:         c.live[kindFence].Load(),
		Semaphores:     c.live[kindSemaphore].Load(),
	}
}
