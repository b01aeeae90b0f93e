package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Buffer is a Vulkan buffer with its backing allocation. The engine
// only ever needs host-visible buffers (uniform taps, pixel staging,
// readback), so mapping is always available.
type Buffer struct {
	dc   *DeviceContext
	buf  vk.Buffer
	mem  vk.DeviceMemory
	size int
}

// NewBuffer creates a buffer of the given size and binds fresh memory
// with the requested properties to it.
func NewBuffer(dc *DeviceContext, size int, usage vk.BufferUsageFlagBits, props vk.MemoryPropertyFlagBits) (*Buffer, error) {
	b := &Buffer{dc: dc, size: size}
	res := vk.CreateBuffer(dc.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.buf)
	if res != vk.Success {
		return nil, fmt.Errorf("vkfilter: vkCreateBuffer: %w", vk.Error(res))
	}

	var memReq vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dc.device, b.buf, &memReq)
	memReq.Deref()

	typeIndex, err := dc.FindMemoryType(memReq.MemoryTypeBits, vk.MemoryPropertyFlags(props))
	if err != nil {
		b.Destroy()
		return nil, err
	}
	res = vk.AllocateMemory(dc.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &b.mem)
	if res != vk.Success {
		b.Destroy()
		return nil, fmt.Errorf("vkfilter: vkAllocateMemory: %w", vk.Error(res))
	}
	if res := vk.BindBufferMemory(dc.device, b.buf, b.mem, 0); res != vk.Success {
		b.Destroy()
		return nil, fmt.Errorf("vkfilter: vkBindBufferMemory: %w", vk.Error(res))
	}
	return b, nil
}

// newHostBuffer is the common case: host-visible and coherent.
func newHostBuffer(dc *DeviceContext, size int, usage vk.BufferUsageFlagBits) (*Buffer, error) {
	return NewBuffer(dc, size, usage,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
}

// CopyFrom maps the buffer and writes data at offset zero. len(data)
// must not exceed the buffer size.
func (b *Buffer) CopyFrom(data []byte) error {
	if len(data) > b.size {
		return fmt.Errorf("vkfilter: write of %d bytes exceeds buffer size %d", len(data), b.size)
	}
	var ptr unsafe.Pointer
	res := vk.MapMemory(b.dc.device, b.mem, 0, vk.DeviceSize(len(data)), 0, &ptr)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkMapMemory: %w", vk.Error(res))
	}
	vk.Memcopy(ptr, data)
	vk.UnmapMemory(b.dc.device, b.mem)
	return nil
}

// ReadInto maps the buffer and copies its first len(dst) bytes out.
func (b *Buffer) ReadInto(dst []byte) error {
	if len(dst) > b.size {
		return fmt.Errorf("vkfilter: read of %d bytes exceeds buffer size %d", len(dst), b.size)
	}
	var ptr unsafe.Pointer
	res := vk.MapMemory(b.dc.device, b.mem, 0, vk.DeviceSize(len(dst)), 0, &ptr)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkMapMemory: %w", vk.Error(res))
	}
	copy(dst, unsafe.Slice((*byte)(ptr), len(dst)))
	vk.UnmapMemory(b.dc.device, b.mem)
	return nil
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() int { return b.size }

// Handle returns the raw buffer handle.
func (b *Buffer) Handle() vk.Buffer { return b.buf }

// descriptorInfo describes the whole buffer for a descriptor write.
func (b *Buffer) descriptorInfo() vk.DescriptorBufferInfo {
	return vk.DescriptorBufferInfo{
		Buffer: b.buf,
		Offset: 0,
		Range:  vk.DeviceSize(b.size),
	}
}

// Destroy frees the buffer and its memory. Safe on a partially built
// buffer.
func (b *Buffer) Destroy() {
	if b.buf != vk.NullBuffer {
		vk.DestroyBuffer(b.dc.device, b.buf, nil)
		b.buf = vk.NullBuffer
	}
	if b.mem != vk.NullDeviceMemory {
		vk.FreeMemory(b.dc.device, b.mem, nil)
		b.mem = vk.NullDeviceMemory
	}
}
