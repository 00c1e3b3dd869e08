package clmtl

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"

	"github.com/gogpu/clmtl/device"
	"github.com/gogpu/clmtl/reflection"
	"github.com/gogpu/clmtl/translate"
)

// normalize fills absent trailing dimensions with 1.
func normalize(s Size) Size {
	if s.Height == 0 {
		s.Height = 1
	}
	if s.Depth == 0 {
		s.Depth = 1
	}
	return s
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// DeriveLocalSize picks a work-group shape for global when the caller left
// it open. Each dimension takes the largest divisor of its global extent
// that fits the per-dimension limit and the remaining volume budget, x
// first. Every dimension of the result is at least 1.
func DeriveLocalSize(global Size, maxTotal int, maxDims Size) Size {
	global = normalize(global)
	budget := max(maxTotal, 1)
	pick := func(extent, limit int) int {
		limit = min(max(limit, 1), budget)
		for d := min(extent, limit); d > 1; d-- {
			if extent%d == 0 {
				budget /= d
				return d
			}
		}
		return 1
	}
	return Size{
		Width:  pick(global.Width, maxDims.Width),
		Height: pick(global.Height, maxDims.Height),
		Depth:  pick(global.Depth, maxDims.Depth),
	}
}

// EnqueueNDRange dispatches k over global work items in groups of local,
// starting at offset. A zero local lets the queue choose: the kernel's
// required work-group size when it has one, DeriveLocalSize otherwise.
// Global ranges need not be multiples of local.
//
// Every argument of k must have been set; an unset argument panics.
func (q *CommandQueue) EnqueueNDRange(k *Kernel, offset, global, local Size, waitList ...*Event) (*Event, error) {
	if global.Width <= 0 || global.Height < 0 || global.Depth < 0 {
		return nil, fmt.Errorf("%w: global size %v", ErrInvalidArgument, global)
	}
	global = normalize(global)

	required, hasRequired := k.RequiredWorkGroupSize()
	switch {
	case local == (Size{}) && hasRequired:
		local = required
	case local == (Size{}):
		local = DeriveLocalSize(global, k.WorkGroupSize(), q.ctx.dev.Limits().MaxThreadsPerThreadgroup)
	default:
		local = normalize(local)
		if hasRequired && local != required {
			return nil, fmt.Errorf("%w: local size %v, kernel %q requires %v", ErrInvalidArgument, local, k.name, required)
		}
	}
	if local.Width <= 0 || local.Height <= 0 || local.Depth <= 0 || local.Volume() > k.WorkGroupSize() {
		return nil, fmt.Errorf("%w: local size %v for kernel %q (max %d)", ErrInvalidArgument, local, k.name, k.WorkGroupSize())
	}

	for i := range k.args {
		if !k.args[i].Set {
			exceptions.Panicf("clmtl: kernel %q argument %d is not set", k.name, i)
		}
	}

	defines := k.Defines()
	if offset != (Size{}) {
		defines = joinDefines(defines, k.offsetDefines(offset))
	}
	v, err := k.variant(local, defines)
	if err != nil {
		return nil, err
	}
	consts, err := k.program.constantData()
	if err != nil {
		return nil, err
	}
	for i := range k.args {
		if err := k.args[i].checkLive(); err != nil {
			return nil, fmt.Errorf("kernel %q argument %d: %w", k.name, i, err)
		}
	}
	push := k.pushBlock(offset, global, local)

	ev, err := q.record(waitList, true, func(cb device.CommandBuffer) {
		enc := cb.ComputeEncoder()
		enc.SetPipeline(v.Pipeline)
		k.bind(enc, consts, push)
		enc.DispatchThreads(global, local)
		enc.End()
		hold(cb, k.allocations(consts)...)
	})
	if err != nil {
		return nil, err
	}
	q.ctx.log().Debug("clmtl: dispatch encoded",
		"kernel", k.name, "global", global, "local", local, "offset", offset)
	return ev, nil
}

func joinDefines(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// offsetDefines specializes the global offset when clspv reserved
// specialization constants for it.
func (k *Kernel) offsetDefines(offset Size) string {
	ids, ok := k.record.SpecConstant(reflection.SpecGlobalOffset)
	if !ok {
		return ""
	}
	dims := [3]int{offset.Width, offset.Height, offset.Depth}
	parts := make([]string, 0, len(ids))
	for i, id := range ids {
		if i < 3 {
			parts = append(parts, translate.FormatDefine(id, uint32(dims[i])))
		}
	}
	return strings.Join(parts, " ")
}

// pushBlock assembles the push-constant block: push-constant arguments and
// the built-in values of the dispatch.
func (k *Kernel) pushBlock(offset, global, local Size) []byte {
	size := k.record.PushConstantSize(k.name)
	if size == 0 {
		return nil
	}
	block := make([]byte, size)
	for i := range k.args {
		a := &k.args[i]
		if a.Kind == reflection.ArgPodPushConstant {
			copy(block[a.Binding.Offset:], a.Bytes())
		}
	}

	groups := Size{
		Width:  ceilDiv(global.Width, local.Width),
		Height: ceilDiv(global.Height, local.Height),
		Depth:  ceilDiv(global.Depth, local.Depth),
	}
	for _, pc := range k.record.PushConstants {
		var v Size
		switch pc.Kind {
		case reflection.PushGlobalOffset, reflection.PushRegionOffset:
			v = offset
		case reflection.PushEnqueuedLocalSize:
			v = local
		case reflection.PushGlobalSize:
			v = global
		case reflection.PushNumWorkgroups:
			v = groups
		case reflection.PushRegionGroupOffset:
			// A single region starts at group zero.
		}
		dims := [3]int{v.Width, v.Height, v.Depth}
		for i := 0; i < 3 && uint32(i*4+4) <= pc.Size; i++ {
			binary.LittleEndian.PutUint32(block[pc.Offset+uint32(i*4):], uint32(dims[i]))
		}
	}
	return block
}

// bind sets the whole argument table on enc.
func (k *Kernel) bind(enc device.ComputeEncoder, consts []constantBuffer, push []byte) {
	args := k.record.Arguments[k.name]
	pod := make(map[int][]byte)
	for i := range k.args {
		a := &k.args[i]
		b := a.Binding
		index := translate.BufferIndex(b)
		switch {
		case b.Kind.IsBuffer():
			enc.SetBuffer(a.Buffer.buf, 0, index)
		case b.Kind.IsImage():
			enc.SetTexture(a.Image.tex, index)
		case b.Kind == reflection.ArgSampler:
			enc.SetSampler(a.Sampler.s, index)
		case b.Kind == reflection.ArgWorkgroup:
			enc.SetThreadgroupMemoryLength(a.LocalSize, translate.ThreadgroupIndex(args, b.Ordinal))
		case b.Kind == reflection.ArgPodStorageBuffer || b.Kind == reflection.ArgPodUniform:
			// Arguments clustered into one binding share a block.
			end := int(b.Offset) + a.Len
			block := pod[index]
			if len(block) < end {
				block = append(block, make([]byte, end-len(block))...)
			}
			copy(block[b.Offset:], a.Bytes())
			pod[index] = block
		}
	}
	for index, block := range pod {
		enc.SetBytes(block, index)
	}
	for _, c := range consts {
		enc.SetBuffer(c.buf.buf, 0, c.index)
	}
	if push != nil {
		enc.SetBytes(push, translate.PushConstantIndex(k.record, k.name))
	}
}

// allocations returns the memory bound to k and the constant data.
func (k *Kernel) allocations(consts []constantBuffer) []*allocation {
	var out []*allocation
	for i := range k.args {
		switch a := &k.args[i]; {
		case a.Buffer != nil:
			out = append(out, a.Buffer.alloc)
		case a.Image != nil:
			out = append(out, a.Image.alloc)
		}
	}
	for _, c := range consts {
		out = append(out, c.buf.alloc)
	}
	return out
}

// checkLive reports a released memory object bound to v.
func (v *ArgValue) checkLive() error {
	switch {
	case v.Buffer != nil:
		return v.Buffer.checkLive()
	case v.Image != nil:
		return v.Image.checkLive()
	}
	return nil
}
