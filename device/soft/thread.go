package soft

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/clmtl/device"
)

// Thread is the view a kernel invocation has of its dispatch.
type Thread struct {
	GlobalID  device.Size
	LocalID   device.Size
	GroupID   device.Size
	GridSize  device.Size
	GroupSize device.Size

	args   *bindings
	local  map[int][]byte
	consts device.FunctionConstants
}

// Buffer returns the memory bound at index, starting at the bind offset.
func (t *Thread) Buffer(index int) []byte {
	b, ok := t.args.buffers[index]
	if !ok {
		return nil
	}
	return b.buf.bytes()[b.offset:]
}

// Bytes returns the inline data bound with SetBytes at index.
func (t *Thread) Bytes(index int) []byte {
	return t.args.bytes[index]
}

// Threadgroup returns the work-group local memory at index. The memory is
// shared by all threads of the group.
func (t *Thread) Threadgroup(index int) []byte {
	return t.local[index]
}

// Texture returns the texture bound at index.
func (t *Thread) Texture(index int) *TextureView {
	tex, ok := t.args.textures[index]
	if !ok {
		return nil
	}
	return &TextureView{tex: tex}
}

// Sampler returns the sampler bound at index.
func (t *Thread) Sampler(index int) (device.SamplerDescriptor, bool) {
	s, ok := t.args.samplers[index]
	if !ok {
		return device.SamplerDescriptor{}, false
	}
	return s.desc, true
}

// Constant returns a specialization constant.
func (t *Thread) Constant(id uint32) (uint32, bool) {
	v, ok := t.consts[id]
	return v, ok
}

// Uint32 loads element i of the buffer bound at index.
func (t *Thread) Uint32(index, i int) uint32 {
	return binary.LittleEndian.Uint32(t.Buffer(index)[i*4:])
}

// SetUint32 stores element i of the buffer bound at index.
func (t *Thread) SetUint32(index, i int, v uint32) {
	binary.LittleEndian.PutUint32(t.Buffer(index)[i*4:], v)
}

// Float32 loads element i of the buffer bound at index.
func (t *Thread) Float32(index, i int) float32 {
	return math.Float32frombits(t.Uint32(index, i))
}

// SetFloat32 stores element i of the buffer bound at index.
func (t *Thread) SetFloat32(index, i int, v float32) {
	t.SetUint32(index, i, math.Float32bits(v))
}

// TextureView gives kernels texel access.
type TextureView struct {
	tex *texture
}

// Descriptor returns the texture descriptor.
func (v *TextureView) Descriptor() device.TextureDescriptor { return v.tex.desc }

// Texel returns the bytes of texel (x, y, z). Coordinates are clamped to
// the edge.
func (v *TextureView) Texel(x, y, z int) []byte {
	d := v.tex.desc
	x = min(max(x, 0), d.Width-1)
	y = min(max(y, 0), d.Height-1)
	z = min(max(z, 0), d.Depth-1)
	off := v.tex.offset(x, y, z)
	return v.tex.texel[off : off+d.Format.BytesPerPixel()]
}
