// Package clmtl runs OpenCL C kernels compiled to SPIR-V by clspv on a
// Metal-style compute device.
//
// # Overview
//
// A program binary is reflected to recover its kernel signatures, then
// translated to Metal Shading Language. Kernels own an argument table and a
// cache of pipeline variants specialized per work-group shape. Buffers and
// images live in heaps sized to their footprint, and command queues batch
// transfers and dispatches into command buffers that complete
// asynchronously.
//
// # Quick Start
//
//	ctx, err := clmtl.NewContext()
//	if err != nil {
//	    return err
//	}
//	defer ctx.Release()
//
//	prog, err := clmtl.NewProgramWithBinary(ctx, spv)
//	if err != nil {
//	    return err
//	}
//	k, err := clmtl.NewKernel(prog, "vector_add")
//	if err != nil {
//	    return err
//	}
//	a, _ := clmtl.NewBuffer(ctx, clmtl.MemReadOnly, 4*n)
//	_ = k.SetArg(0, a)
//	// ...
//
//	q, _ := clmtl.NewCommandQueue(ctx)
//	ev, err := q.EnqueueNDRange(k, clmtl.Size{}, clmtl.Size{Width: n}, clmtl.Size{})
//	if err != nil {
//	    return err
//	}
//	ev.Wait()
//
// # Devices
//
// Without [WithDevice] a context runs on the software device, which
// executes Go functions registered per kernel name. The hal backend in
// device/haldev runs on a real GPU through gogpu/wgpu.
//
// # Concurrency
//
// Enqueue calls only encode. Work starts on Flush, and completion is
// observed through events, Finish and WaitIdle. Completion callbacks run on
// a device goroutine. A Kernel must not be used by two goroutines at once.
package clmtl

// Version is the library version.
const Version = "0.1.0"
