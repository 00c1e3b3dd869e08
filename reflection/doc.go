// Package reflection recovers kernel signatures and resource bindings from
// SPIR-V modules produced by clspv.
//
// clspv describes every kernel, argument, literal sampler and push constant of a
// compiled OpenCL C program through the NonSemantic.ClspvReflection extended
// instruction set. [Parse] walks the instruction stream once, resolving the
// string and integer-constant operands of those instructions, and returns a
// [Record]:
//
//	rec, err := reflection.Parse(words)
//	if err != nil {
//	    return err // wraps ErrMalformedBinary
//	}
//	for _, arg := range rec.Arguments["vector_add"] {
//	    fmt.Println(arg.Ordinal, arg.Kind, arg.Binding)
//	}
//
// The parser does not validate kernel-level semantics such as duplicate
// ordinals. Callers decide what an acceptable argument list looks like.
package reflection
