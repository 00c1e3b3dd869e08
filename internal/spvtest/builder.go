// Package spvtest assembles small clspv-style SPIR-V modules for tests.
package spvtest

import (
	"encoding/binary"

	"github.com/gogpu/naga/spirv"
)

// Reflection instruction numbers, duplicated here so that the reflection
// package can use this builder from its own tests.
const (
	Kernel                 = 1
	ArgumentInfo           = 2
	ArgStorageBuffer       = 3
	ArgUniform             = 4
	ArgPodStorageBuffer    = 5
	ArgPodUniform          = 6
	ArgPodPushConstant     = 7
	ArgSampledImage        = 8
	ArgStorageImage        = 9
	ArgSampler             = 10
	ArgWorkgroup           = 11
	SpecWorkgroupSize      = 12
	SpecGlobalOffset       = 13
	SpecWorkDim            = 14
	PushGlobalOffset       = 15
	PushGlobalSize         = 17
	PushNumWorkgroups      = 19
	ConstantDataStorage    = 21
	ConstantDataUniform    = 22
	LiteralSampler         = 23
	RequiredWorkgroupSize  = 24
	SpecSubgroupMaxSize    = 25
	reflectionSetName      = "NonSemantic.ClspvReflection.5"
	glslSetName            = "GLSL.std.450"
)

// Builder wraps a naga module builder with clspv reflection helpers.
type Builder struct {
	m        *spirv.ModuleBuilder
	void     uint32
	uint     uint32
	set      uint32
	glsl     uint32
	consts   map[uint32]uint32
	kernels  map[string]uint32
	argInfos map[string]uint32
}

// New returns a builder with the reflection import and a 32-bit unsigned
// integer type already declared.
func New() *Builder {
	m := spirv.NewModuleBuilder(spirv.Version1_3)
	b := &Builder{
		m:        m,
		consts:   make(map[uint32]uint32),
		kernels:  make(map[string]uint32),
		argInfos: make(map[string]uint32),
	}
	b.set = m.AddExtInstImport(reflectionSetName)
	b.glsl = m.AddExtInstImport(glslSetName)
	b.void = m.AddTypeVoid()
	b.uint = m.AddTypeInt(32, false)
	return b
}

// Const returns the id of a 32-bit unsigned constant.
func (b *Builder) Const(v uint32) uint32 {
	if id, ok := b.consts[v]; ok {
		return id
	}
	id := b.m.AddConstant(b.uint, v)
	b.consts[v] = id
	return id
}

// String declares an OpString and returns its id.
func (b *Builder) String(s string) uint32 {
	return b.m.AddString(s)
}

// Ext appends a reflection instruction with raw operand ids.
func (b *Builder) Ext(inst uint32, operands ...uint32) uint32 {
	return b.m.AddExtInst(b.void, b.set, inst, operands...)
}

// Unrelated appends an instruction from a non-reflection set.
func (b *Builder) Unrelated(inst uint32, operands ...uint32) uint32 {
	return b.m.AddExtInst(b.void, b.glsl, inst, operands...)
}

// Kernel declares a GLCompute entry point and its reflection Kernel
// instruction, and returns the reflection id.
func (b *Builder) Kernel(name string) uint32 {
	fn := b.m.AllocID()
	b.m.AddEntryPoint(spirv.ExecutionModelGLCompute, fn, name, nil)
	id := b.Ext(Kernel, fn, b.String(name))
	b.kernels[name] = id
	return id
}

// ArgInfo declares an argument name and returns its id.
func (b *Builder) ArgInfo(name string) uint32 {
	if id, ok := b.argInfos[name]; ok {
		return id
	}
	id := b.Ext(ArgumentInfo, b.String(name))
	b.argInfos[name] = id
	return id
}

// Arg declares a descriptor argument (buffer, uniform, image, sampler).
func (b *Builder) Arg(kernel string, inst, ordinal, set, binding uint32) {
	b.Ext(inst, b.kernels[kernel], b.Const(ordinal), b.Const(set), b.Const(binding))
}

// NamedArg is Arg with a trailing ArgumentInfo operand.
func (b *Builder) NamedArg(kernel, name string, inst, ordinal, set, binding uint32) {
	b.Ext(inst, b.kernels[kernel], b.Const(ordinal), b.Const(set), b.Const(binding), b.ArgInfo(name))
}

// PodArg declares a plain-old-data argument stored in a buffer.
func (b *Builder) PodArg(kernel string, inst, ordinal, set, binding, offset, size uint32) {
	b.Ext(inst, b.kernels[kernel], b.Const(ordinal), b.Const(set), b.Const(binding), b.Const(offset), b.Const(size))
}

// PushArg declares a plain-old-data argument passed as a push constant.
func (b *Builder) PushArg(kernel string, ordinal, offset, size uint32) {
	b.Ext(ArgPodPushConstant, b.kernels[kernel], b.Const(ordinal), b.Const(offset), b.Const(size))
}

// LocalArg declares a workgroup (local memory) argument.
func (b *Builder) LocalArg(kernel string, ordinal, specID, elemSize uint32) {
	b.Ext(ArgWorkgroup, b.kernels[kernel], b.Const(ordinal), b.Const(specID), b.Const(elemSize))
}

// Sampler declares a literal sampler.
func (b *Builder) Sampler(set, binding, mask uint32) {
	b.Ext(LiteralSampler, b.Const(set), b.Const(binding), b.Const(mask))
}

// PushConstant declares a built-in push constant.
func (b *Builder) PushConstant(inst, offset, size uint32) {
	b.Ext(inst, b.Const(offset), b.Const(size))
}

// SpecConstants declares built-in specialization constant ids.
func (b *Builder) SpecConstants(inst uint32, ids ...uint32) {
	ops := make([]uint32, len(ids))
	for i, id := range ids {
		ops[i] = b.Const(id)
	}
	b.Ext(inst, ops...)
}

// ConstantData declares a module-scope constant buffer from hex text.
func (b *Builder) ConstantData(inst, set, binding uint32, hexData string) {
	b.Ext(inst, b.Const(set), b.Const(binding), b.String(hexData))
}

// RequiredWorkGroupSize declares a reqd_work_group_size attribute.
func (b *Builder) RequiredWorkGroupSize(kernel string, x, y, z uint32) {
	b.Ext(RequiredWorkgroupSize, b.kernels[kernel], b.Const(x), b.Const(y), b.Const(z))
}

// Bytes returns the little-endian module.
func (b *Builder) Bytes() []byte {
	return b.m.Build()
}

// Words returns the module as words.
func (b *Builder) Words() []uint32 {
	data := b.Bytes()
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

// VectorAdd returns a module declaring
//
//	kernel void vector_add(global const float *a, global const float *b,
//	                       global float *c, uint n)
//
// with buffers at bindings 0..2 and n as a pod storage buffer at binding 3.
func VectorAdd() *Builder {
	b := New()
	b.Kernel("vector_add")
	b.NamedArg("vector_add", "a", ArgStorageBuffer, 0, 0, 0)
	b.NamedArg("vector_add", "b", ArgStorageBuffer, 1, 0, 1)
	b.NamedArg("vector_add", "c", ArgStorageBuffer, 2, 0, 2)
	b.PodArg("vector_add", ArgPodStorageBuffer, 3, 0, 3, 0, 4)
	b.SpecConstants(SpecWorkgroupSize, 0, 1, 2)
	b.SpecConstants(SpecWorkDim, 3)
	return b
}
