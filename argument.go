package clmtl

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/clmtl/reflection"
	"github.com/gogpu/clmtl/translate"
)

// LocalSize is a SetArg value that sizes a __local argument in bytes.
type LocalSize int

// ArgValue is the value bound to one kernel argument. Kind is fixed by
// reflection; exactly the payload matching Kind is meaningful.
type ArgValue struct {
	Kind    reflection.ArgKind
	Binding reflection.ArgumentBinding
	Set     bool

	Buffer  *Buffer
	Image   *Image
	Sampler *Sampler

	// Data holds plain-old-data arguments; Len bytes are valid.
	Data [MaxInlineArgSize]byte
	Len  int

	// LocalSize and Define describe a workgroup argument. Define is the
	// specialization token the size contributes to the kernel defines.
	LocalSize int
	Define    string
}

// Bytes returns the bound plain-old-data bytes.
func (v *ArgValue) Bytes() []byte { return v.Data[:v.Len] }

// newArgTable creates the unset table of a kernel.
func newArgTable(bindings []reflection.ArgumentBinding) []ArgValue {
	table := make([]ArgValue, len(bindings))
	for i, b := range bindings {
		table[i] = ArgValue{Kind: b.Kind, Binding: b}
	}
	return table
}

// set binds value to v. The accepted Go types depend on the kind:
//   - buffers: *Buffer
//   - images: *Image
//   - samplers: *Sampler
//   - workgroup: LocalSize
//   - plain-old-data: []byte or any fixed-size value encoding/binary
//     accepts, little endian
func (v *ArgValue) set(value any) error {
	b := v.Binding
	switch {
	case b.Kind.IsBuffer():
		buf, ok := value.(*Buffer)
		if !ok || buf == nil {
			return argTypeError(b, value, "*Buffer")
		}
		v.Buffer = buf

	case b.Kind.IsImage():
		img, ok := value.(*Image)
		if !ok || img == nil {
			return argTypeError(b, value, "*Image")
		}
		v.Image = img

	case b.Kind == reflection.ArgSampler:
		s, ok := value.(*Sampler)
		if !ok || s == nil {
			return argTypeError(b, value, "*Sampler")
		}
		v.Sampler = s

	case b.Kind == reflection.ArgWorkgroup:
		size, ok := value.(LocalSize)
		if !ok || size <= 0 {
			return argTypeError(b, value, "positive LocalSize")
		}
		elem := max(int(b.Size), 1)
		if int(size)%elem != 0 {
			return fmt.Errorf("%w: argument %d: local size %d is not a multiple of element size %d",
				ErrInvalidArgument, b.Ordinal, size, elem)
		}
		v.LocalSize = int(size)
		v.Define = translate.FormatDefine(b.SpecID, uint32(int(size)/elem))

	default:
		data, err := podBytes(value)
		if err != nil {
			return fmt.Errorf("%w: argument %d: %w", ErrInvalidArgument, b.Ordinal, err)
		}
		if len(data) > MaxInlineArgSize {
			return fmt.Errorf("%w: argument %d: %d bytes exceed the %d byte inline limit, pass a buffer",
				ErrInvalidArgument, b.Ordinal, len(data), MaxInlineArgSize)
		}
		if b.Size != 0 && len(data) != int(b.Size) {
			return fmt.Errorf("%w: argument %d: got %d bytes, want %d",
				ErrInvalidArgument, b.Ordinal, len(data), b.Size)
		}
		v.Len = copy(v.Data[:], data)
	}
	v.Set = true
	return nil
}

func podBytes(value any) ([]byte, error) {
	if data, ok := value.([]byte); ok {
		return data, nil
	}
	return binary.Append(nil, binary.LittleEndian, value)
}

func argTypeError(b reflection.ArgumentBinding, value any, want string) error {
	return fmt.Errorf("%w: argument %d is a %s argument and takes %s, got %T",
		ErrInvalidArgument, b.Ordinal, b.Kind, want, value)
}
