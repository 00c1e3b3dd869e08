package reflection

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strings"

	"github.com/gogpu/naga/spirv"
)

// ErrMalformedBinary is returned when the instruction stream cannot be
// decoded or references an id the parser has not seen.
var ErrMalformedBinary = errors.New("clmtl: malformed binary")

// ExtInstSetPrefix is the name prefix of the clspv reflection
// extended instruction set. clspv appends a version suffix.
const ExtInstSetPrefix = "NonSemantic.ClspvReflection."

// headerWords is the SPIR-V module header length.
const headerWords = 5

// Operand positions inside OpExtInst, counted after the opcode word.
const (
	extResultID    = 1
	extSet         = 2
	extInstruction = 3
	extFirstArg    = 4
)

// Parse decodes a SPIR-V module and returns its clspv reflection record.
func Parse(words []uint32) (*Record, error) {
	if len(words) < headerWords {
		return nil, fmt.Errorf("%w: %d words is shorter than the module header", ErrMalformedBinary, len(words))
	}
	if words[0] != spirv.MagicNumber {
		return nil, fmt.Errorf("%w: bad magic number %#08x", ErrMalformedBinary, words[0])
	}

	p := newParser()
	for pos := headerWords; pos < len(words); {
		count := int(words[pos] >> 16)
		op := spirv.OpCode(words[pos] & 0xFFFF)
		if count == 0 || pos+count > len(words) {
			return nil, fmt.Errorf("%w: instruction at word %d has word count %d", ErrMalformedBinary, pos, count)
		}
		if err := p.instruction(op, words[pos+1:pos+count]); err != nil {
			return nil, fmt.Errorf("%w (word %d)", err, pos)
		}
		pos += count
	}

	p.rec.sortArguments()
	return p.rec, nil
}

// ParseBytes decodes a SPIR-V module stored as bytes in either byte order.
func ParseBytes(data []byte) (*Record, error) {
	words, err := Words(data)
	if err != nil {
		return nil, err
	}
	return Parse(words)
}

// Words converts a SPIR-V byte stream to words, detecting the byte order
// from the magic number.
func Words(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of 4", ErrMalformedBinary, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if len(words) > 0 && words[0] == bits.ReverseBytes32(spirv.MagicNumber) {
		for i := range words {
			words[i] = bits.ReverseBytes32(words[i])
		}
	}
	return words, nil
}

type parser struct {
	// uintType is the id of the 32-bit unsigned OpTypeInt, 0 until seen.
	uintType  uint32
	strings   map[uint32]string
	constants map[uint32]uint32
	extSets   map[uint32]bool
	rec       *Record
}

func newParser() *parser {
	return &parser{
		strings:   make(map[uint32]string),
		constants: make(map[uint32]uint32),
		extSets:   make(map[uint32]bool),
		rec:       newRecord(),
	}
}

func (p *parser) instruction(op spirv.OpCode, ops []uint32) error {
	switch op {
	case spirv.OpTypeInt:
		if len(ops) < 3 {
			return malformed("OpTypeInt", len(ops))
		}
		if ops[1] == 32 && ops[2] == 0 {
			p.uintType = ops[0]
		}
	case spirv.OpConstant:
		if len(ops) < 3 {
			return malformed("OpConstant", len(ops))
		}
		if p.uintType != 0 && ops[0] == p.uintType {
			p.constants[ops[1]] = ops[2]
		}
	case spirv.OpString:
		if len(ops) < 2 {
			return malformed("OpString", len(ops))
		}
		p.strings[ops[0]] = literalString(ops[1:])
	case spirv.OpExtInstImport:
		if len(ops) < 2 {
			return malformed("OpExtInstImport", len(ops))
		}
		if strings.HasPrefix(literalString(ops[1:]), ExtInstSetPrefix) {
			p.extSets[ops[0]] = true
		}
	case spirv.OpExtInst:
		if len(ops) < extFirstArg {
			return malformed("OpExtInst", len(ops))
		}
		if p.extSets[ops[extSet]] {
			return p.extInst(Instruction(ops[extInstruction]), ops)
		}
	}
	return nil
}

func malformed(name string, n int) error {
	return fmt.Errorf("%w: %s with %d operands", ErrMalformedBinary, name, n)
}

// literalString decodes a nul-terminated UTF-8 literal packed into words.
func literalString(words []uint32) string {
	var sb strings.Builder
	for _, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return sb.String()
			}
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// operands resolves id operands of a reflection instruction.
type operands struct {
	p    *parser
	inst Instruction
	ops  []uint32
	err  error
}

func (o *operands) has(i int) bool { return i < len(o.ops) }

func (o *operands) word(i int) uint32 {
	if o.err != nil {
		return 0
	}
	if i >= len(o.ops) {
		o.err = fmt.Errorf("%w: reflection instruction %d is missing operand %d", ErrMalformedBinary, o.inst, i)
		return 0
	}
	return o.ops[i]
}

func (o *operands) uint(i int) uint32 {
	id := o.word(i)
	if o.err != nil {
		return 0
	}
	v, ok := o.p.constants[id]
	if !ok {
		o.err = fmt.Errorf("%w: reflection instruction %d references unknown constant %%%d", ErrMalformedBinary, o.inst, id)
	}
	return v
}

func (o *operands) str(i int) string {
	id := o.word(i)
	if o.err != nil {
		return ""
	}
	s, ok := o.p.strings[id]
	if !ok {
		o.err = fmt.Errorf("%w: reflection instruction %d references unknown string %%%d", ErrMalformedBinary, o.inst, id)
	}
	return s
}

// argName resolves the optional trailing ArgumentInfo operand.
func (o *operands) argName(i int) string {
	if !o.has(i) {
		return ""
	}
	return o.str(i)
}

func (p *parser) extInst(inst Instruction, ops []uint32) error {
	o := &operands{p: p, inst: inst, ops: ops}
	result := ops[extResultID]

	switch inst {
	case InstKernel:
		// Kernel(Function, Name, ...): the result id stands for the kernel name.
		name := o.str(extFirstArg + 1)
		if o.err == nil {
			p.strings[result] = name
			if _, ok := p.rec.Arguments[name]; !ok {
				p.rec.Kernels = append(p.rec.Kernels, name)
				p.rec.Arguments[name] = []ArgumentBinding{}
			}
		}

	case InstArgumentInfo:
		name := o.str(extFirstArg)
		if o.err == nil {
			p.strings[result] = name
		}

	case InstArgumentStorageBuffer, InstArgumentUniform, InstArgumentSampledImage,
		InstArgumentStorageImage, InstArgumentSampler:
		kind, _ := argKindOf(inst)
		kernel := o.str(4)
		p.addArgument(kernel, ArgumentBinding{
			Ordinal:       o.uint(5),
			Kind:          kind,
			DescriptorSet: o.uint(6),
			Binding:       o.uint(7),
			Name:          o.argName(8),
		}, o)

	case InstArgumentPodStorageBuffer, InstArgumentPodUniform:
		kind, _ := argKindOf(inst)
		kernel := o.str(4)
		p.addArgument(kernel, ArgumentBinding{
			Ordinal:       o.uint(5),
			Kind:          kind,
			DescriptorSet: o.uint(6),
			Binding:       o.uint(7),
			Offset:        o.uint(8),
			Size:          o.uint(9),
			Name:          o.argName(10),
		}, o)

	case InstArgumentPodPushConstant:
		kernel := o.str(4)
		p.addArgument(kernel, ArgumentBinding{
			Ordinal: o.uint(5),
			Kind:    ArgPodPushConstant,
			Offset:  o.uint(6),
			Size:    o.uint(7),
			Name:    o.argName(8),
		}, o)

	case InstArgumentWorkgroup:
		kernel := o.str(4)
		p.addArgument(kernel, ArgumentBinding{
			Ordinal: o.uint(5),
			Kind:    ArgWorkgroup,
			SpecID:  o.uint(6),
			Size:    o.uint(7),
			Name:    o.argName(8),
		}, o)

	case InstSpecConstantWorkgroupSize:
		p.addSpecConstant(SpecWorkgroupSize, o.uint(4), o.uint(5), o.uint(6))
	case InstSpecConstantGlobalOffset:
		p.addSpecConstant(SpecGlobalOffset, o.uint(4), o.uint(5), o.uint(6))
	case InstSpecConstantWorkDim:
		p.addSpecConstant(SpecWorkDim, o.uint(4))
	case InstSpecConstantSubgroupMaxSize:
		p.addSpecConstant(SpecSubgroupMaxSize, o.uint(4))

	case InstPushConstantGlobalOffset, InstPushConstantEnqueuedLocalSize, InstPushConstantGlobalSize,
		InstPushConstantRegionOffset, InstPushConstantNumWorkgroups, InstPushConstantRegionGroupOffset:
		pc := PushConstant{
			Kind:   PushConstantKind(inst - InstPushConstantGlobalOffset),
			Offset: o.uint(4),
			Size:   o.uint(5),
		}
		if o.err == nil {
			p.rec.PushConstants = append(p.rec.PushConstants, pc)
		}

	case InstConstantDataStorageBuffer, InstConstantDataUniform:
		kind, _ := argKindOf(inst)
		set, binding, text := o.uint(4), o.uint(5), o.str(6)
		if o.err != nil {
			break
		}
		data, err := hex.DecodeString(text)
		if err != nil {
			return fmt.Errorf("%w: constant data at binding %d: %v", ErrMalformedBinary, binding, err)
		}
		p.rec.ConstantData = append(p.rec.ConstantData, ConstantData{
			Kind: kind, DescriptorSet: set, Binding: binding, Data: data,
		})

	case InstLiteralSampler:
		s := LiteralSampler{DescriptorSet: o.uint(4), Binding: o.uint(5), Mask: o.uint(6)}
		if o.err == nil {
			p.rec.LiteralSamplers = append(p.rec.LiteralSamplers, s)
		}

	case InstPropertyRequiredWorkgroupSize:
		kernel := o.str(4)
		size := [3]uint32{o.uint(5), o.uint(6), o.uint(7)}
		if o.err == nil {
			p.rec.RequiredWorkGroupSize[kernel] = size
		}
	}
	return o.err
}

func (p *parser) addArgument(kernel string, arg ArgumentBinding, o *operands) {
	if o.err != nil {
		return
	}
	p.rec.Arguments[kernel] = append(p.rec.Arguments[kernel], arg)
}

func (p *parser) addSpecConstant(kind SpecConstantKind, ids ...uint32) {
	p.rec.SpecConstants = append(p.rec.SpecConstants, SpecConstant{Kind: kind, IDs: ids})
}

// EntryPoints returns the names of the OpEntryPoint declarations of a
// module in declaration order.
func EntryPoints(words []uint32) ([]string, error) {
	if len(words) < headerWords || words[0] != spirv.MagicNumber {
		return nil, fmt.Errorf("%w: missing module header", ErrMalformedBinary)
	}
	var names []string
	for pos := headerWords; pos < len(words); {
		count := int(words[pos] >> 16)
		if count == 0 || pos+count > len(words) {
			return nil, fmt.Errorf("%w: instruction at word %d has word count %d", ErrMalformedBinary, pos, count)
		}
		// OpEntryPoint: execution model, function id, name literal, interface ids.
		if spirv.OpCode(words[pos]&0xFFFF) == spirv.OpEntryPoint && count > 3 {
			names = append(names, literalString(words[pos+3:pos+count]))
		}
		pos += count
	}
	return names, nil
}
