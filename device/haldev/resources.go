package haldev

import (
	"github.com/gogpu/wgpu/hal"
)

// variantResources holds the HAL objects of one pipeline variant.
type variantResources struct {
	Device         hal.Device
	BindLayout     hal.BindGroupLayout
	PipelineLayout hal.PipelineLayout
	Pipeline       hal.ComputePipeline
}

// Destroy releases the objects in reverse creation order. Nil fields are
// skipped so a partially built variant can be destroyed.
func (r *variantResources) Destroy() {
	if r.Device == nil {
		return
	}
	if r.Pipeline != nil {
		r.Device.DestroyComputePipeline(r.Pipeline)
	}
	if r.PipelineLayout != nil {
		r.Device.DestroyPipelineLayout(r.PipelineLayout)
	}
	if r.BindLayout != nil {
		r.Device.DestroyBindGroupLayout(r.BindLayout)
	}
}

// transient collects per-submission objects destroyed once the fence passed.
type transient struct {
	dev        hal.Device
	buffers    []hal.Buffer
	bindGroups []hal.BindGroup
}

func (t *transient) destroy() {
	for _, bg := range t.bindGroups {
		t.dev.DestroyBindGroup(bg)
	}
	for _, b := range t.buffers {
		t.dev.DestroyBuffer(b)
	}
	t.bindGroups = nil
	t.buffers = nil
}
