package reflection

import "sort"

// ArgumentBinding describes one kernel argument.
type ArgumentBinding struct {
	// Ordinal is the argument position in the kernel signature.
	Ordinal uint32
	Kind    ArgKind
	// Name is the source-level argument name, when clspv emitted it.
	Name          string
	DescriptorSet uint32
	Binding       uint32
	// Offset and Size locate plain-old-data arguments inside their
	// buffer or push-constant block. For workgroup arguments Size is the
	// element size in bytes.
	Offset uint32
	Size   uint32
	// SpecID is the specialization constant holding the element count of a
	// workgroup argument.
	SpecID uint32
}

// ConstantData is a module-scope constant buffer initialised by the program.
type ConstantData struct {
	Kind          ArgKind
	DescriptorSet uint32
	Binding       uint32
	Data          []byte
}

// PushConstant is a built-in value passed through the push-constant block.
type PushConstant struct {
	Kind   PushConstantKind
	Offset uint32
	Size   uint32
}

// SpecConstant lists the specialization constant ids clspv reserved for a
// built-in value. Work-group size and global offset carry three ids.
type SpecConstant struct {
	Kind SpecConstantKind
	IDs  []uint32
}

// Record is the reflection output for a whole module.
type Record struct {
	// Kernels lists kernel names in declaration order.
	Kernels []string
	// Arguments maps a kernel name to its arguments sorted by ordinal.
	// Every declared kernel has an entry, possibly empty.
	Arguments       map[string][]ArgumentBinding
	ConstantData    []ConstantData
	LiteralSamplers []LiteralSampler
	PushConstants   []PushConstant
	SpecConstants   []SpecConstant
	// RequiredWorkGroupSize holds reqd_work_group_size attributes.
	RequiredWorkGroupSize map[string][3]uint32
}

func newRecord() *Record {
	return &Record{
		Arguments:             make(map[string][]ArgumentBinding),
		RequiredWorkGroupSize: make(map[string][3]uint32),
	}
}

// HasKernel reports whether the module declares the named kernel.
func (r *Record) HasKernel(name string) bool {
	_, ok := r.Arguments[name]
	return ok
}

// KernelNames returns the kernel names sorted alphabetically.
func (r *Record) KernelNames() []string {
	names := make([]string, 0, len(r.Arguments))
	for name := range r.Arguments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PushConstant returns the push constant of the given kind.
func (r *Record) PushConstant(kind PushConstantKind) (PushConstant, bool) {
	for _, pc := range r.PushConstants {
		if pc.Kind == kind {
			return pc, true
		}
	}
	return PushConstant{}, false
}

// SpecConstant returns the specialization constant ids of the given kind.
func (r *Record) SpecConstant(kind SpecConstantKind) ([]uint32, bool) {
	for _, sc := range r.SpecConstants {
		if sc.Kind == kind {
			return sc.IDs, true
		}
	}
	return nil, false
}

// PushConstantSize returns the byte size of the push-constant block,
// covering both built-in push constants and push-constant arguments of
// the named kernel.
func (r *Record) PushConstantSize(kernel string) uint32 {
	var size uint32
	for _, pc := range r.PushConstants {
		size = max(size, pc.Offset+pc.Size)
	}
	for _, arg := range r.Arguments[kernel] {
		if arg.Kind == ArgPodPushConstant {
			size = max(size, arg.Offset+arg.Size)
		}
	}
	return size
}

func (r *Record) sortArguments() {
	for name, args := range r.Arguments {
		sort.SliceStable(args, func(i, j int) bool {
			return args[i].Ordinal < args[j].Ordinal
		})
		r.Arguments[name] = args
	}
}
