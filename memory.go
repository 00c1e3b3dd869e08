package clmtl

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/clmtl/device"
)

// MemFlags describe device and host access to a memory object. The values
// match the OpenCL CL_MEM_* flags.
type MemFlags uint32

// Memory flags.
const (
	MemReadWrite     MemFlags = 1 << 0
	MemWriteOnly     MemFlags = 1 << 1
	MemReadOnly      MemFlags = 1 << 2
	MemUseHostPtr    MemFlags = 1 << 3
	MemAllocHostPtr  MemFlags = 1 << 4
	MemCopyHostPtr   MemFlags = 1 << 5
	MemHostWriteOnly MemFlags = 1 << 7
	MemHostReadOnly  MemFlags = 1 << 8
	MemHostNoAccess  MemFlags = 1 << 9
)

const kernelAccessMask = MemReadWrite | MemWriteOnly | MemReadOnly

const hostAccessMask = MemHostWriteOnly | MemHostReadOnly | MemHostNoAccess

// HostAccessible reports whether the host may map objects with f.
func (f MemFlags) HostAccessible() bool {
	return f&MemHostNoAccess == 0
}

// resourceOptions derives the storage of an object with flags f.
func (f MemFlags) resourceOptions() device.ResourceOptions {
	if !f.HostAccessible() {
		return device.ResourceOptions{Storage: device.StoragePrivate}
	}
	opts := device.ResourceOptions{Storage: device.StorageShared}
	if f&hostAccessMask == MemHostWriteOnly {
		opts.Cache = device.CPUCacheWriteCombined
	}
	return opts
}

func (f MemFlags) validate() error {
	if n := bits.OnesCount32(uint32(f & kernelAccessMask)); n > 1 {
		return fmt.Errorf("%w: conflicting kernel access flags %#x", ErrInvalidArgument, uint32(f))
	}
	if n := bits.OnesCount32(uint32(f & hostAccessMask)); n > 1 {
		return fmt.Errorf("%w: conflicting host access flags %#x", ErrInvalidArgument, uint32(f))
	}
	if f&MemUseHostPtr != 0 && f&(MemAllocHostPtr|MemCopyHostPtr) != 0 {
		return fmt.Errorf("%w: MemUseHostPtr excludes MemAllocHostPtr and MemCopyHostPtr", ErrInvalidArgument)
	}
	return nil
}

// allocation counts the owners of a device allocation: the memory object
// and every command buffer that encoded a use of it. The allocation is
// freed when the last owner lets go.
type allocation struct {
	refs atomic.Int64
	free func()
}

func newAllocation(free func()) *allocation {
	a := &allocation{free: free}
	a.refs.Store(1)
	return a
}

func (a *allocation) retain() { a.refs.Add(1) }

func (a *allocation) release() {
	if a.refs.Add(-1) == 0 {
		a.free()
	}
}

// MemoryStats counts the live memory objects of a context.
type MemoryStats struct {
	Buffers int64
	Images  int64

	// HeapBytes is the total size of the heaps owned by live buffers.
	HeapBytes uint64

	// ImageBytes is the total allocation size of live images.
	ImageBytes uint64
}

// String returns a human-readable summary.
func (s MemoryStats) String() string {
	return fmt.Sprintf("Memory[%d buffers %s, %d images %s]",
		s.Buffers, humanize.IBytes(s.HeapBytes), s.Images, humanize.IBytes(s.ImageBytes))
}

type memoryCounters struct {
	buffers    atomic.Int64
	images     atomic.Int64
	heapBytes  atomic.Uint64
	imageBytes atomic.Uint64
}

func (m *memoryCounters) addHeap(size uint64) {
	m.buffers.Add(1)
	m.heapBytes.Add(size)
}

func (m *memoryCounters) removeHeap(size uint64) {
	m.buffers.Add(-1)
	m.heapBytes.Add(^(size - 1))
}

func (m *memoryCounters) addImage(size uint64) {
	m.images.Add(1)
	m.imageBytes.Add(size)
}

func (m *memoryCounters) removeImage(size uint64) {
	m.images.Add(-1)
	m.imageBytes.Add(^(size - 1))
}

func (m *memoryCounters) snapshot() MemoryStats {
	return MemoryStats{
		Buffers:    m.buffers.Load(),
		Images:     m.images.Load(),
		HeapBytes:  m.heapBytes.Load(),
		ImageBytes: m.imageBytes.Load(),
	}
}
