package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// ComputePipeline is one compiled compute kernel together with its
// descriptor set layout, pipeline layout and the single descriptor set
// it dispatches with. The workgroup tile size is baked in through
// specialization constants 0 and 1 at creation.
type ComputePipeline struct {
	dc        *DeviceContext
	setLayout vk.DescriptorSetLayout
	layout    vk.PipelineLayout
	pipeline  vk.Pipeline
	set       vk.DescriptorSet
	pushSize  uint32
}

// NewComputePipeline builds a pipeline from SPIR-V code. bindingTypes
// lists the descriptor type at each binding index, in order; pushSize
// is the size in bytes of the kernel's push constant block.
func NewComputePipeline(dc *DeviceContext, code []uint32, bindingTypes []vk.DescriptorType, pushSize uint32) (*ComputePipeline, error) {
	p := &ComputePipeline{dc: dc, pushSize: pushSize}

	bindings := make([]vk.DescriptorSetLayoutBinding, len(bindingTypes))
	for i, t := range bindingTypes {
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  t,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	res := vk.CreateDescriptorSetLayout(dc.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}, nil, &p.setLayout)
	if res != vk.Success {
		return nil, fmt.Errorf("vkfilter: vkCreateDescriptorSetLayout: %w", vk.Error(res))
	}

	res = vk.AllocateDescriptorSets(dc.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     dc.descPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{p.setLayout},
	}, &p.set)
	if res != vk.Success {
		p.Destroy()
		return nil, fmt.Errorf("vkfilter: vkAllocateDescriptorSets: %w", vk.Error(res))
	}

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{p.setLayout},
	}
	if pushSize > 0 {
		layoutInfo.PushConstantRangeCount = 1
		layoutInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Offset:     0,
			Size:       pushSize,
		}}
	}
	res = vk.CreatePipelineLayout(dc.device, &layoutInfo, nil, &p.layout)
	if res != vk.Success {
		p.Destroy()
		return nil, fmt.Errorf("vkfilter: vkCreatePipelineLayout: %w", vk.Error(res))
	}

	var module vk.ShaderModule
	res = vk.CreateShaderModule(dc.device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}, nil, &module)
	if res != vk.Success {
		p.Destroy()
		return nil, fmt.Errorf("vkfilter: vkCreateShaderModule: %w", vk.Error(res))
	}
	defer vk.DestroyShaderModule(dc.device, module, nil)

	// Bake the tile size into the kernel. Modules compiled without the
	// spec constants just ignore the data.
	tile := dc.workGroupSize
	specData := [2]uint32{tile, tile}
	specInfo := vk.SpecializationInfo{
		MapEntryCount: 2,
		PMapEntries: []vk.SpecializationMapEntry{
			{ConstantID: 0, Offset: 0, Size: 4},
			{ConstantID: 1, Offset: 4, Size: 4},
		},
		DataSize: 8,
		PData:    unsafe.Pointer(&specData[0]),
	}

	pipelines := make([]vk.Pipeline, 1)
	res = vk.CreateComputePipelines(dc.device, vk.PipelineCache(vk.NullHandle), 1,
		[]vk.ComputePipelineCreateInfo{{
			SType: vk.StructureTypeComputePipelineCreateInfo,
			Stage: vk.PipelineShaderStageCreateInfo{
				SType:               vk.StructureTypePipelineShaderStageCreateInfo,
				Stage:               vk.ShaderStageComputeBit,
				Module:              module,
				PName:               safeString("main"),
				PSpecializationInfo: []vk.SpecializationInfo{specInfo},
			},
			Layout: p.layout,
		}}, nil, pipelines)
	if res != vk.Success {
		p.Destroy()
		return nil, fmt.Errorf("vkfilter: vkCreateComputePipelines: %w", vk.Error(res))
	}
	p.pipeline = pipelines[0]
	return p, nil
}

// BindImages rewrites the pipeline's descriptor set for the fixed
// kernel shape: sampled source at binding 0, storage destination at
// binding 1, and, when uniform is non-nil, a uniform buffer at
// binding 2. The descriptors record the layouts the images hold at
// dispatch time (source read-only, destination general), not whatever
// they hold when the set is written.
func (p *ComputePipeline) BindImages(src, dst *Image, uniform *Buffer) {
	writes := []vk.WriteDescriptorSet{
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.set,
			DstBinding:      0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			PImageInfo:      []vk.DescriptorImageInfo{src.descriptorInfoAt(LayoutShaderReadOnly)},
		},
		{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.set,
			DstBinding:      1,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageImage,
			PImageInfo:      []vk.DescriptorImageInfo{dst.descriptorInfoAt(LayoutGeneral)},
		},
	}
	if uniform != nil {
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          p.set,
			DstBinding:      2,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			PBufferInfo:     []vk.DescriptorBufferInfo{uniform.descriptorInfo()},
		})
	}
	vk.UpdateDescriptorSets(p.dc.device, uint32(len(writes)), writes, 0, nil)
}

// recordDispatch binds the pipeline and its set, pushes the constant
// block and dispatches enough tiles to cover a width by height grid.
func (p *ComputePipeline) recordDispatch(cmd vk.CommandBuffer, push unsafe.Pointer, width, height int) {
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointCompute, p.pipeline)
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, p.layout,
		0, 1, []vk.DescriptorSet{p.set}, 0, nil)
	if p.pushSize > 0 {
		vk.CmdPushConstants(cmd, p.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			0, p.pushSize, push)
	}
	tile := p.dc.workGroupSize
	groupsX := (uint32(width) + tile - 1) / tile
	groupsY := (uint32(height) + tile - 1) / tile
	vk.CmdDispatch(cmd, groupsX, groupsY, 1)
}

// Destroy tears the pipeline objects down. The descriptor set goes
// back with the pool.
func (p *ComputePipeline) Destroy() {
	if p.pipeline != vk.NullPipeline {
		vk.DestroyPipeline(p.dc.device, p.pipeline, nil)
		p.pipeline = vk.NullPipeline
	}
	if p.layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(p.dc.device, p.layout, nil)
		p.layout = vk.NullPipelineLayout
	}
	if p.setLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(p.dc.device, p.setLayout, nil)
		p.setLayout = vk.NullDescriptorSetLayout
	}
}
