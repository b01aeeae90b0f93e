package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	vkfilter "github.com/gogpu/vkfilter"
)

// Layout is the tracked layout state of an Image. Every image moves
// through a fixed set of states; the sync table below pins the access
// and stage masks a barrier into each state needs.
type Layout int

const (
	// LayoutUndefined holds no contents. Transitioning out of it
	// discards whatever the image held.
	LayoutUndefined Layout = iota

	// LayoutGeneral allows storage reads and writes from compute.
	LayoutGeneral

	// LayoutTransferSrc allows the image as a copy source.
	LayoutTransferSrc

	// LayoutTransferDst allows the image as a copy destination.
	LayoutTransferDst

	// LayoutShaderReadOnly allows sampled reads from compute.
	LayoutShaderReadOnly
)

// String returns the layout name for logging.
func (l Layout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutGeneral:
		return "General"
	case LayoutTransferSrc:
		return "TransferSrc"
	case LayoutTransferDst:
		return "TransferDst"
	case LayoutShaderReadOnly:
		return "ShaderReadOnly"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// layoutSync maps each Layout to its Vulkan layout and to the access
// and stage masks used on whichever side of a barrier it appears.
var layoutSync = [...]struct {
	layout vk.ImageLayout
	access vk.AccessFlags
	stage  vk.PipelineStageFlags
}{
	LayoutUndefined: {
		layout: vk.ImageLayoutUndefined,
		access: 0,
		stage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
	},
	LayoutGeneral: {
		layout: vk.ImageLayoutGeneral,
		access: vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessShaderWriteBit),
		stage:  vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
	},
	LayoutTransferSrc: {
		layout: vk.ImageLayoutTransferSrcOptimal,
		access: vk.AccessFlags(vk.AccessTransferReadBit),
		stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	LayoutTransferDst: {
		layout: vk.ImageLayoutTransferDstOptimal,
		access: vk.AccessFlags(vk.AccessTransferWriteBit),
		stage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
	},
	LayoutShaderReadOnly: {
		layout: vk.ImageLayoutShaderReadOnlyOptimal,
		access: vk.AccessFlags(vk.AccessShaderReadBit),
		stage:  vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
	},
}

// Image is a 2D RGBA8 image with its view, optional sampler, backing
// memory and tracked layout. Memory is either owned outright or
// borrowed from a shared MemoryHandle.
type Image struct {
	dc      *DeviceContext
	image   vk.Image
	view    vk.ImageView
	sampler vk.Sampler
	mem     vk.DeviceMemory
	handle  *MemoryHandle

	width  int
	height int
	layout Layout
}

// createImage makes the bare image object. shared adds the
// external-memory create info so the image can bind exportable memory.
func createImage(dc *DeviceContext, width, height int, usage vk.ImageUsageFlagBits, shared bool) (vk.Image, error) {
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.FormatR8g8b8a8Unorm,
		Extent: vk.Extent3D{
			Width:  uint32(width),
			Height: uint32(height),
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var ext vk.ExternalMemoryImageCreateInfo
	if shared {
		ext = vk.ExternalMemoryImageCreateInfo{
			SType:       vk.StructureTypeExternalMemoryImageCreateInfo,
			HandleTypes: vk.ExternalMemoryHandleTypeFlags(vk.ExternalMemoryHandleTypeOpaqueFdBit),
		}
		extRef, _ := ext.PassRef()
		info.PNext = unsafe.Pointer(extRef)
	}
	var img vk.Image
	res := vk.CreateImage(dc.device, &info, nil, &img)
	if shared {
		ext.Free()
	}
	if res != vk.Success {
		return vk.NullImage, fmt.Errorf("vkfilter: vkCreateImage: %w", vk.Error(res))
	}
	return img, nil
}

// finish builds the view and, for sampled usage, the nearest/clamp
// unnormalized sampler the kernels expect.
func (im *Image) finish(usage vk.ImageUsageFlagBits) error {
	res := vk.CreateImageView(im.dc.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    im.image,
		ViewType: vk.ImageViewType2d,
		Format:   vk.FormatR8g8b8a8Unorm,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}, nil, &im.view)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkCreateImageView: %w", vk.Error(res))
	}

	if usage&vk.ImageUsageSampledBit == 0 {
		return nil
	}
	res = vk.CreateSampler(im.dc.device, &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterNearest,
		MinFilter:               vk.FilterNearest,
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		UnnormalizedCoordinates: vk.True,
	}, nil, &im.sampler)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkCreateSampler: %w", vk.Error(res))
	}
	return nil
}

// NewImageDeviceLocal creates an image with its own device-local
// allocation. The image starts in LayoutUndefined.
func NewImageDeviceLocal(dc *DeviceContext, width, height int, usage vk.ImageUsageFlagBits) (*Image, error) {
	im := &Image{dc: dc, width: width, height: height, layout: LayoutUndefined}
	var err error
	im.image, err = createImage(dc, width, height, usage, false)
	if err != nil {
		return nil, err
	}

	var memReq vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dc.device, im.image, &memReq)
	memReq.Deref()
	typeIndex, err := dc.FindMemoryType(memReq.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		im.Destroy()
		return nil, err
	}
	res := vk.AllocateMemory(dc.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &im.mem)
	if res != vk.Success {
		im.Destroy()
		return nil, fmt.Errorf("vkfilter: vkAllocateMemory: %w", vk.Error(res))
	}
	if res := vk.BindImageMemory(dc.device, im.image, im.mem, 0); res != vk.Success {
		im.Destroy()
		return nil, fmt.Errorf("vkfilter: vkBindImageMemory: %w", vk.Error(res))
	}
	if err := im.finish(usage); err != nil {
		im.Destroy()
		return nil, err
	}
	return im, nil
}

// NewImageFromHandle creates an image bound to the shared allocation in
// handle, retaining a reference for the image's lifetime. The caller's
// dimensions and usage must match those the handle was allocated for.
func NewImageFromHandle(dc *DeviceContext, handle *MemoryHandle, width, height int, usage vk.ImageUsageFlagBits) (*Image, error) {
	im := &Image{dc: dc, width: width, height: height, layout: LayoutUndefined}
	var err error
	im.image, err = createImage(dc, width, height, usage, true)
	if err != nil {
		return nil, err
	}
	if res := vk.BindImageMemory(dc.device, im.image, handle.Memory(), 0); res != vk.Success {
		im.Destroy()
		return nil, fmt.Errorf("vkfilter: vkBindImageMemory: %w", vk.Error(res))
	}
	handle.Retain()
	im.handle = handle
	if err := im.finish(usage); err != nil {
		im.Destroy()
		return nil, err
	}
	return im, nil
}

// NewImageFromBitmap creates a sampled device-local image and uploads
// the bitmap through a staging buffer, leaving it in
// LayoutShaderReadOnly.
func NewImageFromBitmap(dc *DeviceContext, bm *vkfilter.Bitmap) (*Image, error) {
	usage := vk.ImageUsageSampledBit | vk.ImageUsageTransferDstBit
	im, err := NewImageDeviceLocal(dc, bm.Width(), bm.Height(), usage)
	if err != nil {
		return nil, err
	}

	staging, err := newHostBuffer(dc, bm.Width()*bm.Height()*4, vk.BufferUsageTransferSrcBit)
	if err != nil {
		im.Destroy()
		return nil, err
	}
	defer staging.Destroy()
	if err := staging.CopyFrom(packedPixels(bm)); err != nil {
		im.Destroy()
		return nil, err
	}

	err = dc.RunOnce(func(cmd vk.CommandBuffer) error {
		im.RecordLayoutTransition(cmd, LayoutTransferDst, false)
		recordBufferToImage(cmd, staging, im)
		im.RecordLayoutTransition(cmd, LayoutShaderReadOnly, true)
		return nil
	})
	if err != nil {
		im.Destroy()
		return nil, err
	}
	return im, nil
}

// packedPixels returns the bitmap's pixels with any row padding
// stripped, as a tightly packed width*4 stride byte slice.
func packedPixels(bm *vkfilter.Bitmap) []byte {
	w, h := bm.Width(), bm.Height()
	if bm.Stride() == w*4 {
		return bm.Pix()
	}
	packed := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		copy(packed[y*w*4:(y+1)*w*4], bm.Pix()[y*bm.Stride():y*bm.Stride()+w*4])
	}
	return packed
}

// Width returns the image width in pixels.
func (im *Image) Width() int { return im.width }

// Height returns the image height in pixels.
func (im *Image) Height() int { return im.height }

// Layout returns the tracked layout.
func (im *Image) Layout() Layout { return im.layout }

// RecordLayoutTransition records the barrier moving the image to
// newLayout. With preserveData false the old layout side is treated as
// Undefined and the contents are discarded, which is cheaper when the
// image is about to be fully overwritten.
func (im *Image) RecordLayoutTransition(cmd vk.CommandBuffer, newLayout Layout, preserveData bool) {
	old := im.layout
	if !preserveData {
		old = LayoutUndefined
	}
	src := layoutSync[old]
	dst := layoutSync[newLayout]

	vk.CmdPipelineBarrier(cmd, src.stage, dst.stage, 0, 0, nil, 0, nil, 1,
		[]vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       src.access,
			DstAccessMask:       dst.access,
			OldLayout:           src.layout,
			NewLayout:           dst.layout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               im.image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}})
	im.layout = newLayout
}

// TransitionLayout performs a layout transition as its own one-shot
// submission.
func (im *Image) TransitionLayout(newLayout Layout, preserveData bool) error {
	return im.dc.RunOnce(func(cmd vk.CommandBuffer) error {
		im.RecordLayoutTransition(cmd, newLayout, preserveData)
		return nil
	})
}

// descriptorInfoAt describes the image for a descriptor write at the
// layout it will hold when the kernel runs, which is generally not the
// layout it holds when the descriptor is written.
func (im *Image) descriptorInfoAt(l Layout) vk.DescriptorImageInfo {
	return vk.DescriptorImageInfo{
		Sampler:     im.sampler,
		ImageView:   im.view,
		ImageLayout: layoutSync[l].layout,
	}
}

// recordBufferToImage copies a tightly packed pixel buffer into the
// whole of dst, which must be in LayoutTransferDst.
func recordBufferToImage(cmd vk.CommandBuffer, src *Buffer, dst *Image) {
	vk.CmdCopyBufferToImage(cmd, src.buf, dst.image, vk.ImageLayoutTransferDstOptimal, 1,
		[]vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{
				Width:  uint32(dst.width),
				Height: uint32(dst.height),
				Depth:  1,
			},
		}})
}

// recordImageToBuffer copies the whole of src, which must be in
// LayoutTransferSrc, into a tightly packed pixel buffer.
func recordImageToBuffer(cmd vk.CommandBuffer, src *Image, dst *Buffer) {
	vk.CmdCopyImageToBuffer(cmd, src.image, vk.ImageLayoutTransferSrcOptimal, dst.buf, 1,
		[]vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{
				Width:  uint32(src.width),
				Height: uint32(src.height),
				Depth:  1,
			},
		}})
}

// recordImageCopy copies the whole of src (LayoutTransferSrc) into dst
// (LayoutTransferDst). The images must have equal dimensions.
func recordImageCopy(cmd vk.CommandBuffer, src, dst *Image) {
	vk.CmdCopyImage(cmd,
		src.image, vk.ImageLayoutTransferSrcOptimal,
		dst.image, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageCopy{{
			SrcSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			DstSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			Extent: vk.Extent3D{
				Width:  uint32(src.width),
				Height: uint32(src.height),
				Depth:  1,
			},
		}})
}

// Destroy releases the image objects and, for owned memory, the
// allocation. Shared memory is released back to its handle.
func (im *Image) Destroy() {
	if im.sampler != vk.NullSampler {
		vk.DestroySampler(im.dc.device, im.sampler, nil)
		im.sampler = vk.NullSampler
	}
	if im.view != vk.NullImageView {
		vk.DestroyImageView(im.dc.device, im.view, nil)
		im.view = vk.NullImageView
	}
	if im.image != vk.NullImage {
		vk.DestroyImage(im.dc.device, im.image, nil)
		im.image = vk.NullImage
	}
	if im.mem != vk.NullDeviceMemory {
		vk.FreeMemory(im.dc.device, im.mem, nil)
		im.mem = vk.NullDeviceMemory
	}
	if im.handle != nil {
		im.handle.Release()
		im.handle = nil
	}
}
