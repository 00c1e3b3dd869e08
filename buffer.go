package clmtl

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/clmtl/device"
)

// Buffer is a linear memory object. A top-level buffer owns a heap sized
// exactly to it; a sub-buffer is placed in its parent's heap and becomes
// invalid once the parent is released. The heap itself lives until the
// buffer is released and every command using it completed.
type Buffer struct {
	ctx    *Context
	flags  MemFlags
	parent *Buffer
	offset uint64
	heap   device.Heap
	buf    device.Buffer
	alloc  *allocation

	mu       sync.Mutex
	mapCount int
	released bool
}

// NewBuffer creates a buffer of size bytes. Storage follows the host
// access flags: MemHostNoAccess gives device-private memory, anything else
// shared memory, write-combined for MemHostWriteOnly.
func NewBuffer(ctx *Context, flags MemFlags, size uint64) (*Buffer, error) {
	if err := ctx.checkLive(); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, fmt.Errorf("%w: buffer size must be positive", ErrInvalidArgument)
	}
	if err := flags.validate(); err != nil {
		return nil, err
	}

	opts := flags.resourceOptions()
	heap, err := ctx.dev.NewHeap(size, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: create heap: %w", ErrAllocationFailure, err)
	}
	buf, err := heap.NewBuffer(size, 0)
	if err != nil {
		heap.Release()
		return nil, fmt.Errorf("%w: place buffer: %w", ErrAllocationFailure, err)
	}

	ctx.mem.addHeap(size)
	ctx.log().Debug("clmtl: buffer created",
		"size", humanize.IBytes(size), "storage", opts.Storage, "writeCombined", opts.Cache == device.CPUCacheWriteCombined)
	return &Buffer{ctx: ctx, flags: flags, heap: heap, buf: buf, alloc: newAllocation(heap.Release)}, nil
}

// CreateSubBuffer places a buffer of size bytes at offset inside b's heap.
// Host access flags not given in flags are inherited from b. A region
// outside b returns ErrAllocationFailure.
func (b *Buffer) CreateSubBuffer(flags MemFlags, offset, size uint64) (*Buffer, error) {
	if b.parent != nil {
		return nil, fmt.Errorf("%w: sub-buffer of a sub-buffer", ErrInvalidArgument)
	}
	if err := b.checkLive(); err != nil {
		return nil, err
	}
	if size == 0 || offset > b.Size() || size > b.Size()-offset {
		return nil, fmt.Errorf("%w: region [%d, %d) outside buffer of %d bytes",
			ErrAllocationFailure, offset, offset+size, b.Size())
	}
	if flags&hostAccessMask == 0 {
		flags |= b.flags & hostAccessMask
	}
	if flags&kernelAccessMask == 0 {
		flags |= b.flags & kernelAccessMask
	}
	if err := flags.validate(); err != nil {
		return nil, err
	}

	buf, err := b.heap.NewBuffer(size, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: place sub-buffer: %w", ErrAllocationFailure, err)
	}
	return &Buffer{ctx: b.ctx, flags: flags, parent: b, offset: offset, heap: b.heap, buf: buf, alloc: b.alloc}, nil
}

// Size returns the buffer length in bytes.
func (b *Buffer) Size() uint64 { return b.buf.Length() }

// Flags returns the creation flags.
func (b *Buffer) Flags() MemFlags { return b.flags }

// Offset returns the position of a sub-buffer in its parent, 0 otherwise.
func (b *Buffer) Offset() uint64 { return b.offset }

// Parent returns the buffer a sub-buffer was created from.
func (b *Buffer) Parent() *Buffer { return b.parent }

// Heap returns the heap the buffer is placed in.
func (b *Buffer) Heap() device.Heap { return b.heap }

// Context returns the owning context.
func (b *Buffer) Context() *Context { return b.ctx }

// hostVisible reports whether the device memory can be accessed directly.
func (b *Buffer) hostVisible() bool {
	return b.heap.Options().HostVisible()
}

// Map returns the buffer memory for host access and increments the map
// count. Buffers without host access return nil and leave the count
// unchanged.
func (b *Buffer) Map() []byte {
	if !b.flags.HostAccessible() {
		return nil
	}
	contents := b.buf.Contents()
	if contents == nil {
		return nil
	}
	b.mu.Lock()
	b.mapCount++
	b.mu.Unlock()
	return contents
}

// Unmap decrements the map count. It never goes below zero.
func (b *Buffer) Unmap() {
	b.mu.Lock()
	if b.mapCount > 0 {
		b.mapCount--
	}
	b.mu.Unlock()
}

// MapCount returns the number of outstanding maps.
func (b *Buffer) MapCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapCount
}

func (b *Buffer) checkLive() error {
	for p := b; p != nil; p = p.parent {
		p.mu.Lock()
		released := p.released
		p.mu.Unlock()
		if released {
			return fmt.Errorf("%w: buffer", ErrReleased)
		}
	}
	return nil
}

// Release drops the buffer's hold on its heap. The heap of a top-level
// buffer is freed once no enqueued command uses it anymore. Releasing a
// sub-buffer only invalidates the sub-buffer.
func (b *Buffer) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	mapped := b.mapCount
	b.mu.Unlock()

	if mapped > 0 {
		b.ctx.log().Warn("clmtl: buffer released while mapped", "maps", mapped)
	}
	if b.parent == nil {
		b.ctx.mem.removeHeap(b.heap.Size())
		b.alloc.release()
	}
}
