// Package device abstracts the compute backend that executes translated
// kernels.
//
// The interfaces follow the explicit heap/library/pipeline/command-buffer
// model of Metal: memory is placed inside heaps, kernels come from libraries
// compiled from source, and work is recorded into command buffers that a
// queue executes in commit order.
//
// Two implementations exist: soft (a CPU reference device that runs Go kernel
// functions) and haldev (gogpu/wgpu HAL). Implementations must be safe for
// concurrent use unless a method says otherwise.
//
// Resource lifecycle:
//   - Resources are created by the Device or a Heap
//   - Resources are destroyed with Release
//   - Releasing a resource still referenced by an uncompleted command
//     buffer is undefined behavior
package device

// Device is a compute device.
type Device interface {
	// Name returns a human-readable device name.
	Name() string

	// Limits returns the device limits. The value never changes.
	Limits() Limits

	// NewHeap creates a placement heap of exactly size bytes.
	NewHeap(size uint64, opts ResourceOptions) (Heap, error)

	// NewTexture creates a GPU-private texture. The allocated size is
	// backend-determined and reported by Texture.AllocatedSize.
	NewTexture(desc TextureDescriptor) (Texture, error)

	// NewSampler creates a sampler state object.
	NewSampler(desc SamplerDescriptor) (Sampler, error)

	// NewLibrary compiles shader source into a library.
	NewLibrary(src LibrarySource) (Library, error)

	// NewComputePipeline builds a pipeline for a specialized function.
	NewComputePipeline(fn Function) (Pipeline, error)

	// NewSharedEvent creates an event whose signaled value starts at 0.
	NewSharedEvent() SharedEvent

	// NewCommandQueue creates a queue. Command buffers of one queue execute
	// in commit order.
	NewCommandQueue() (CommandQueue, error)

	// Close releases the device. Resources created from it become invalid.
	Close() error
}

// Heap is a memory region from which buffers are placed at explicit offsets.
type Heap interface {
	// Size returns the heap size in bytes.
	Size() uint64

	// Options returns the storage options the heap was created with.
	Options() ResourceOptions

	// NewBuffer places a buffer of length bytes at offset. The region must
	// lie inside the heap; otherwise an error is returned.
	NewBuffer(length, offset uint64) (Buffer, error)

	// Release frees the heap. Buffers placed in it become invalid.
	Release()
}

// Buffer is a linear memory region placed inside a heap.
type Buffer interface {
	Length() uint64

	// Offset returns the placement offset inside the heap.
	Offset() uint64

	Heap() Heap

	// Contents returns host-visible memory for shared storage and nil for
	// private storage. The slice aliases device memory.
	Contents() []byte
}

// Texture is a GPU-private image.
type Texture interface {
	Descriptor() TextureDescriptor

	// AllocatedSize returns the bytes the backend reserved for the texture.
	AllocatedSize() uint64

	// BytesPerRow returns the backend row pitch used for copies.
	BytesPerRow() uint64

	Release()
}

// Sampler is an immutable sampler state.
type Sampler interface {
	Descriptor() SamplerDescriptor
	Release()
}

// Library is a compiled shader library.
type Library interface {
	// FunctionNames lists the kernel entry points in the library.
	FunctionNames() []string

	// NewFunction specializes an entry point with constant values.
	NewFunction(name string, constants FunctionConstants) (Function, error)

	Release()
}

// Function is a specialized kernel entry point.
type Function interface {
	Name() string
	Constants() FunctionConstants
	Library() Library
}

// Pipeline is a compiled compute pipeline.
type Pipeline interface {
	// MaxTotalThreadsPerThreadgroup returns the largest work-group size the
	// pipeline can be dispatched with.
	MaxTotalThreadsPerThreadgroup() int

	// ThreadExecutionWidth returns the SIMD width of the pipeline.
	ThreadExecutionWidth() int

	Function() Function
	Release()
}

// SharedEvent is a monotonically increasing counter shared by the host and
// the device.
type SharedEvent interface {
	// SignaledValue returns the current value.
	SignaledValue() uint64

	// Signal sets the value from the host. Values never decrease.
	Signal(value uint64)

	// Wait blocks until the value reaches at least value.
	Wait(value uint64)
}

// CommandQueue creates command buffers.
type CommandQueue interface {
	// CommandBuffer returns a new command buffer in the recording state.
	CommandBuffer() (CommandBuffer, error)

	Release()
}

// CommandBuffer records work for one submission.
//
// Recording methods are not safe for concurrent use. Handlers run on a
// device goroutine, never on the goroutine that calls Commit.
type CommandBuffer interface {
	// ComputeEncoder starts a compute pass.
	ComputeEncoder() ComputeEncoder

	// BlitEncoder starts a copy pass.
	BlitEncoder() BlitEncoder

	// EncodeSignal sets ev to value once all previously encoded work is done.
	EncodeSignal(ev SharedEvent, value uint64)

	// EncodeWait holds subsequent work until ev reaches value.
	EncodeWait(ev SharedEvent, value uint64)

	// AddScheduledHandler registers fn to run when the buffer starts executing.
	AddScheduledHandler(fn func(CommandBuffer))

	// AddCompletedHandler registers fn to run after the buffer completed.
	AddCompletedHandler(fn func(CommandBuffer))

	// Commit submits the buffer. Recording methods must not be called after.
	Commit()

	// WaitUntilCompleted blocks until the buffer completed.
	WaitUntilCompleted()

	Status() CommandBufferStatus

	// Err returns the execution error of a completed buffer.
	Err() error
}

// ComputeEncoder records compute dispatches.
type ComputeEncoder interface {
	SetPipeline(p Pipeline)
	SetBuffer(buf Buffer, offset uint64, index int)

	// SetBytes binds a copy of data at index.
	SetBytes(data []byte, index int)

	SetTexture(tex Texture, index int)
	SetSampler(s Sampler, index int)

	// SetThreadgroupMemoryLength reserves work-group local memory at index.
	SetThreadgroupMemoryLength(length, index int)

	// DispatchThreads runs grid threads in groups of group threads. Partial
	// groups at the grid edge are allowed.
	DispatchThreads(grid, group Size)

	End()
}

// BlitEncoder records copies and fills.
type BlitEncoder interface {
	CopyBuffer(src Buffer, srcOffset uint64, dst Buffer, dstOffset, size uint64)
	FillBuffer(dst Buffer, offset, size uint64, value byte)

	// CopyBufferToTexture copies rows of bytesPerRow bytes into the region
	// of dst at origin.
	CopyBufferToTexture(src Buffer, srcOffset, bytesPerRow, bytesPerImage uint64, dst Texture, origin, size Size)

	// CopyTextureToBuffer copies the region of src at origin into rows of
	// bytesPerRow bytes.
	CopyTextureToBuffer(src Texture, origin, size Size, dst Buffer, dstOffset, bytesPerRow, bytesPerImage uint64)

	End()
}
