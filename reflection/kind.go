package reflection

// Instruction is a NonSemantic.ClspvReflection extended instruction number.
type Instruction uint32

// Reflection instructions.
const (
	InstKernel                        Instruction = 1
	InstArgumentInfo                  Instruction = 2
	InstArgumentStorageBuffer         Instruction = 3
	InstArgumentUniform               Instruction = 4
	InstArgumentPodStorageBuffer      Instruction = 5
	InstArgumentPodUniform            Instruction = 6
	InstArgumentPodPushConstant       Instruction = 7
	InstArgumentSampledImage          Instruction = 8
	InstArgumentStorageImage          Instruction = 9
	InstArgumentSampler               Instruction = 10
	InstArgumentWorkgroup             Instruction = 11
	InstSpecConstantWorkgroupSize     Instruction = 12
	InstSpecConstantGlobalOffset      Instruction = 13
	InstSpecConstantWorkDim           Instruction = 14
	InstPushConstantGlobalOffset      Instruction = 15
	InstPushConstantEnqueuedLocalSize Instruction = 16
	InstPushConstantGlobalSize        Instruction = 17
	InstPushConstantRegionOffset      Instruction = 18
	InstPushConstantNumWorkgroups     Instruction = 19
	InstPushConstantRegionGroupOffset Instruction = 20
	InstConstantDataStorageBuffer     Instruction = 21
	InstConstantDataUniform           Instruction = 22
	InstLiteralSampler                Instruction = 23
	InstPropertyRequiredWorkgroupSize Instruction = 24
	InstSpecConstantSubgroupMaxSize   Instruction = 25
)

// ArgKind is the closed set of kernel argument kinds.
type ArgKind uint8

// Argument kinds.
const (
	ArgStorageBuffer ArgKind = iota
	ArgUniformBuffer
	ArgPodStorageBuffer
	ArgPodUniform
	ArgPodPushConstant
	ArgSampledImage
	ArgStorageImage
	ArgSampler
	ArgWorkgroup
)

var argKindNames = [...]string{
	ArgStorageBuffer:    "storage-buffer",
	ArgUniformBuffer:    "uniform-buffer",
	ArgPodStorageBuffer: "pod-storage-buffer",
	ArgPodUniform:       "pod-uniform",
	ArgPodPushConstant:  "pod-push-constant",
	ArgSampledImage:     "sampled-image",
	ArgStorageImage:     "storage-image",
	ArgSampler:          "sampler",
	ArgWorkgroup:        "workgroup",
}

// String returns the kind name.
func (k ArgKind) String() string {
	if int(k) < len(argKindNames) {
		return argKindNames[k]
	}
	return "unknown"
}

// IsBuffer reports whether arguments of this kind bind a buffer object.
func (k ArgKind) IsBuffer() bool {
	return k == ArgStorageBuffer || k == ArgUniformBuffer
}

// IsImage reports whether arguments of this kind bind an image object.
func (k ArgKind) IsImage() bool {
	return k == ArgSampledImage || k == ArgStorageImage
}

// IsPod reports whether arguments of this kind carry plain-old-data bytes.
func (k ArgKind) IsPod() bool {
	return k == ArgPodStorageBuffer || k == ArgPodUniform || k == ArgPodPushConstant
}

// argKindOf maps an argument instruction to its kind.
func argKindOf(inst Instruction) (ArgKind, bool) {
	switch inst {
	case InstArgumentStorageBuffer, InstConstantDataStorageBuffer:
		return ArgStorageBuffer, true
	case InstArgumentUniform, InstConstantDataUniform:
		return ArgUniformBuffer, true
	case InstArgumentPodStorageBuffer:
		return ArgPodStorageBuffer, true
	case InstArgumentPodUniform:
		return ArgPodUniform, true
	case InstArgumentPodPushConstant:
		return ArgPodPushConstant, true
	case InstArgumentSampledImage:
		return ArgSampledImage, true
	case InstArgumentStorageImage:
		return ArgStorageImage, true
	case InstArgumentSampler:
		return ArgSampler, true
	case InstArgumentWorkgroup:
		return ArgWorkgroup, true
	default:
		return 0, false
	}
}

// PushConstantKind identifies a built-in value clspv passes as a push constant.
type PushConstantKind uint8

// Push constant kinds.
const (
	PushGlobalOffset PushConstantKind = iota
	PushEnqueuedLocalSize
	PushGlobalSize
	PushRegionOffset
	PushNumWorkgroups
	PushRegionGroupOffset
)

var pushConstantNames = [...]string{
	PushGlobalOffset:      "global-offset",
	PushEnqueuedLocalSize: "enqueued-local-size",
	PushGlobalSize:        "global-size",
	PushRegionOffset:      "region-offset",
	PushNumWorkgroups:     "num-workgroups",
	PushRegionGroupOffset: "region-group-offset",
}

func (k PushConstantKind) String() string {
	if int(k) < len(pushConstantNames) {
		return pushConstantNames[k]
	}
	return "unknown"
}

// SpecConstantKind identifies a built-in value clspv passes as a
// specialization constant.
type SpecConstantKind uint8

// Specialization constant kinds.
const (
	SpecWorkgroupSize SpecConstantKind = iota
	SpecGlobalOffset
	SpecWorkDim
	SpecSubgroupMaxSize
)

var specConstantNames = [...]string{
	SpecWorkgroupSize:   "workgroup-size",
	SpecGlobalOffset:    "global-offset",
	SpecWorkDim:         "work-dim",
	SpecSubgroupMaxSize: "subgroup-max-size",
}

func (k SpecConstantKind) String() string {
	if int(k) < len(specConstantNames) {
		return specConstantNames[k]
	}
	return "unknown"
}
