package translate

import (
	"github.com/gogpu/clmtl/reflection"
)

// Argument slots on the native side. Buffers, textures and samplers keep
// their descriptor binding as the native index. Push constants share one
// buffer placed after the highest buffer binding, and work-group local
// arguments are numbered in ordinal order.

// BufferIndex returns the native buffer, texture or sampler index of arg.
func BufferIndex(arg reflection.ArgumentBinding) int {
	return int(arg.Binding)
}

// PushConstantIndex returns the buffer index that carries the push
// constants of kernel, or -1 when the kernel has none.
func PushConstantIndex(rec *reflection.Record, kernel string) int {
	if rec.PushConstantSize(kernel) == 0 {
		return -1
	}
	next := 0
	for _, arg := range rec.Arguments[kernel] {
		if arg.Kind.IsBuffer() || arg.Kind == reflection.ArgPodStorageBuffer || arg.Kind == reflection.ArgPodUniform {
			next = max(next, int(arg.Binding)+1)
		}
	}
	for _, cd := range rec.ConstantData {
		next = max(next, int(cd.Binding)+1)
	}
	return next
}

// ThreadgroupIndex returns the local memory index of the work-group
// argument with the given ordinal, or -1.
func ThreadgroupIndex(args []reflection.ArgumentBinding, ordinal uint32) int {
	n := 0
	for _, arg := range args {
		if arg.Kind != reflection.ArgWorkgroup {
			continue
		}
		if arg.Ordinal == ordinal {
			return n
		}
		n++
	}
	return -1
}
