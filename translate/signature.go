package translate

import (
	"fmt"

	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"

	"github.com/gogpu/clmtl/reflection"
)

// SignatureCompiler is the default CrossCompiler. It builds one naga IR
// module from the reflection record alone, with an entry point per kernel,
// and emits it with the naga MSL backend, so each kernel gets its full
// resource interface and an empty body. Devices that execute kernels
// natively need a CrossCompiler that lowers the instruction stream as
// well; the software device binds registered Go bodies to these interfaces.
type SignatureCompiler struct{}

// Type handles of the signature module.
const (
	typeUint ir.TypeHandle = iota
	typeUint3
	typeSampler
	typeSampledImage
	typeStorageImage
)

// CrossCompile emits one MSL translation unit holding every kernel of
// req.Record.
func (SignatureCompiler) CrossCompile(req Request) (string, error) {
	if req.Record == nil {
		return "", fmt.Errorf("signature compiler needs a reflection record")
	}
	src, info, err := msl.Compile(signatureModule(req.Record, req.Samplers), req.Options)
	if err != nil {
		return "", err
	}
	for _, k := range req.Record.Kernels {
		if name, ok := info.EntryPointNames[k]; ok && name != k {
			return "", fmt.Errorf("kernel %q is emitted as %q", k, name)
		}
	}
	return src, nil
}

type globalKey struct {
	binding ir.ResourceBinding
	space   ir.AddressSpace
	ty      ir.TypeHandle
}

// signatureBuilder shares resource globals between the entry points of a
// module. Kernels that give one binding different kinds get one global per
// kind.
type signatureBuilder struct {
	m       *ir.Module
	globals map[globalKey]ir.GlobalVariableHandle
	push    *ir.GlobalVariableHandle
}

func (b *signatureBuilder) global(name string, space ir.AddressSpace, ty ir.TypeHandle, set, binding uint32) ir.GlobalVariableHandle {
	rb := ir.ResourceBinding{Group: set, Binding: binding}
	key := globalKey{binding: rb, space: space, ty: ty}
	if h, ok := b.globals[key]; ok {
		return h
	}
	h := ir.GlobalVariableHandle(len(b.m.GlobalVariables))
	b.m.GlobalVariables = append(b.m.GlobalVariables, ir.GlobalVariable{
		Name: name, Space: space, Binding: &rb, Type: ty,
	})
	b.globals[key] = h
	return h
}

func (b *signatureBuilder) pushConstants() ir.GlobalVariableHandle {
	if b.push == nil {
		h := ir.GlobalVariableHandle(len(b.m.GlobalVariables))
		b.m.GlobalVariables = append(b.m.GlobalVariables, ir.GlobalVariable{
			Name: "clmtl_push_constants", Space: ir.SpaceImmediate, Type: typeUint,
		})
		b.push = &h
	}
	return *b.push
}

func signatureModule(rec *reflection.Record, samplers []reflection.LiteralSampler) *ir.Module {
	uintScalar := ir.ScalarType{Kind: ir.ScalarUint, Width: 4}
	b := &signatureBuilder{
		m: &ir.Module{
			Types: []ir.Type{
				typeUint:         {Inner: uintScalar},
				typeUint3:        {Inner: ir.VectorType{Size: ir.Vec3, Scalar: uintScalar}},
				typeSampler:      {Inner: ir.SamplerType{}},
				typeSampledImage: {Inner: ir.ImageType{Dim: ir.Dim2D, Class: ir.ImageClassSampled, SampledKind: ir.ScalarFloat}},
				typeStorageImage: {Inner: ir.ImageType{
					Dim: ir.Dim2D, Class: ir.ImageClassStorage,
					StorageFormat: ir.StorageFormatRgba32Float, StorageAccess: ir.StorageAccessWrite,
				}},
			},
		},
		globals: make(map[globalKey]ir.GlobalVariableHandle),
	}

	for _, kernel := range rec.Kernels {
		var used []ir.GlobalVariableHandle
		for _, arg := range rec.Arguments[kernel] {
			name := arg.Name
			if name == "" {
				name = fmt.Sprintf("arg%d", arg.Ordinal)
			}
			switch arg.Kind {
			case reflection.ArgStorageBuffer, reflection.ArgPodStorageBuffer:
				used = append(used, b.global(name, ir.SpaceStorage, typeUint, arg.DescriptorSet, arg.Binding))
			case reflection.ArgUniformBuffer, reflection.ArgPodUniform:
				used = append(used, b.global(name, ir.SpaceUniform, typeUint, arg.DescriptorSet, arg.Binding))
			case reflection.ArgSampledImage:
				used = append(used, b.global(name, ir.SpaceHandle, typeSampledImage, arg.DescriptorSet, arg.Binding))
			case reflection.ArgStorageImage:
				used = append(used, b.global(name, ir.SpaceHandle, typeStorageImage, arg.DescriptorSet, arg.Binding))
			case reflection.ArgSampler:
				used = append(used, b.global(name, ir.SpaceHandle, typeSampler, arg.DescriptorSet, arg.Binding))
			}
		}
		for _, cd := range rec.ConstantData {
			space := ir.SpaceStorage
			if cd.Kind == reflection.ArgUniformBuffer {
				space = ir.SpaceUniform
			}
			used = append(used, b.global("clmtl_data", space, typeUint, cd.DescriptorSet, cd.Binding))
		}
		for _, s := range samplers {
			used = append(used, b.global(SamplerName(s.DescriptorSet, s.Binding), ir.SpaceHandle, typeSampler, s.DescriptorSet, s.Binding))
		}
		if PushConstantIndex(rec, kernel) >= 0 {
			used = append(used, b.pushConstants())
		}

		wg := [3]uint32{1, 1, 1}
		if reqd, ok := rec.RequiredWorkGroupSize[kernel]; ok {
			wg = reqd
		}
		b.m.EntryPoints = append(b.m.EntryPoints, ir.EntryPoint{
			Name:      kernel,
			Stage:     ir.StageCompute,
			Function:  b.entryFunction(kernel, used),
			Workgroup: wg,
		})
	}
	return b.m
}

// entryFunction returns an empty kernel body that references every global
// in used, which is what makes the backend list them as parameters.
func (b *signatureBuilder) entryFunction(kernel string, used []ir.GlobalVariableHandle) ir.Function {
	var gid ir.Binding = ir.BuiltinBinding{Builtin: ir.BuiltinGlobalInvocationID}
	fn := ir.Function{
		Name:      kernel,
		Arguments: []ir.FunctionArgument{{Name: "clmtl_gid", Type: typeUint3, Binding: &gid}},
	}
	for _, h := range used {
		g := b.m.GlobalVariables[h]
		fn.Expressions = append(fn.Expressions, ir.Expression{Kind: ir.ExprGlobalVariable{Variable: h}})
		ty := g.Type
		if g.Space == ir.SpaceHandle {
			fn.ExpressionTypes = append(fn.ExpressionTypes, ir.TypeResolution{Handle: &ty})
		} else {
			fn.ExpressionTypes = append(fn.ExpressionTypes, ir.TypeResolution{Value: ir.PointerType{Base: ty, Space: g.Space}})
		}
	}
	return fn
}
