package vulkan

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// MemoryHandle is a reference-counted exportable device allocation
// backing one output image. The processor holds one reference per
// bound image; an external consumer that wants the memory to outlive
// the filter takes its own with Retain and drops it with Release.
//
// The allocation is created with the opaque-fd external handle type so
// another Vulkan instance in the same process can bind an identically
// created image to it.
type MemoryHandle struct {
	dc   *DeviceContext
	mem  vk.DeviceMemory
	size vk.DeviceSize
	refs atomic.Int32
}

// AllocateShareable allocates exportable device-local memory sized for
// an image with the given dimensions and usage. It creates a throwaway
// probe image to obtain the memory requirements, allocates, and
// destroys the probe; the real images bind later via
// NewImageFromHandle. The returned handle carries one reference.
func AllocateShareable(dc *DeviceContext, width, height int, usage vk.ImageUsageFlagBits) (*MemoryHandle, error) {
	probe, err := createImage(dc, width, height, usage, true)
	if err != nil {
		return nil, err
	}
	var memReq vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dc.device, probe, &memReq)
	memReq.Deref()
	vk.DestroyImage(dc.device, probe, nil)

	typeIndex, err := dc.FindMemoryType(memReq.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		return nil, err
	}

	h := &MemoryHandle{dc: dc, size: memReq.Size}
	export := vk.ExportMemoryAllocateInfo{
		SType:       vk.StructureTypeExportMemoryAllocateInfo,
		HandleTypes: vk.ExternalMemoryHandleTypeFlags(vk.ExternalMemoryHandleTypeOpaqueFdBit),
	}
	exportRef, _ := export.PassRef()
	res := vk.AllocateMemory(dc.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           unsafe.Pointer(exportRef),
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &h.mem)
	export.Free()
	if res != vk.Success {
		return nil, fmt.Errorf("vkfilter: vkAllocateMemory (exportable): %w", vk.Error(res))
	}
	h.refs.Store(1)
	return h, nil
}

// Memory returns the device memory handle for binding.
func (h *MemoryHandle) Memory() vk.DeviceMemory { return h.mem }

// Size returns the allocation size in bytes.
func (h *MemoryHandle) Size() vk.DeviceSize { return h.size }

// Retain takes a reference.
func (h *MemoryHandle) Retain() { h.refs.Add(1) }

// Release drops a reference and frees the allocation when the last one
// goes.
func (h *MemoryHandle) Release() {
	if h.refs.Add(-1) > 0 {
		return
	}
	if h.mem != vk.NullDeviceMemory {
		vk.FreeMemory(h.dc.device, h.mem, nil)
		h.mem = vk.NullDeviceMemory
	}
}
