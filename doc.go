// Package halcore manages device buffers and command buffers on top of a
// process-wide device context.
//
// # Overview
//
// A program initializes the context once, builds typed buffers, derives
// regions from them and records copies into command buffers that are
// submitted and waited on through fences:
//
//	if err := halcore.Init(halcore.DefaultConfig()); err != nil {
//	    return err
//	}
//	defer halcore.Destroy()
//
//	src := halcore.NewBufferBuilder[uint32]().
//	    Data([]uint32{0, 1, 2, 3, 4}).
//	    Usage(gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst).
//	    Memory(halcore.MemoryPreferDevice).
//	    MustBuild()
//	defer src.Destroy()
//
//	dst := halcore.NewBufferBuilder[uint32]().Count(3).Staging().MustBuild()
//	defer dst.Destroy()
//
//	err := src.Region(halcore.From(1)).Region(halcore.UpTo(3)).
//	    CopyTo(dst.RegionMut(halcore.All()))
//
// # Context
//
// Init selects a device backend (see package device), opens a device and
// creates the command pool and allocator. Get, Shared and Exclusive give
// access to the context; Destroy tears it down and refuses to do so while
// resources created from it are alive.
//
// # Buffers and regions
//
// Buffer[T] owns one allocation of Count elements. Host-mapped buffers
// expose their memory as a View. Regions select element sub-ranges using
// the descriptors Index, Between, Through, UpTo, UpThrough, From and All;
// a range that does not fit yields an empty region rather than an error.
//
// # Command buffers
//
// A CommandBuffer is recorded through a Recording and submitted with
// Recording.Submit. StartRecording waits for the previous submission, so
// a MultiUse command buffer can be re-recorded in a loop. RunSingleUse
// records, submits and waits in one call.
//
// # Errors
//
// Every error matches one of ErrContractViolation, ErrDevice or ErrTimeout.
// IsFatal reports device loss.
//
// # Logging
//
// halcore is silent by default. Use SetLogger to route lifecycle records
// to a slog.Logger; the logger is shared with the device backends.
package halcore
