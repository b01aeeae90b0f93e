package vulkan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"

	vkfilter "github.com/gogpu/vkfilter"
)

func init() {
	vkfilter.Register(vkfilter.BackendVulkan, func(opts ...vkfilter.Option) (vkfilter.Filter, error) {
		return NewProcessor(opts...)
	})
}

// ErrNoReadback is returned by Output.ReadPixels when the processor was
// built with readback disabled.
var ErrNoReadback = errors.New("vkfilter: output readback disabled")

// tapsFloats is the parameter block's tap capacity: the largest kernel
// rounded up to a whole number of vec4s.
const tapsFloats = vkfilter.MaxKernelSize + 1

// blurParamsSize is the byte size of the blur parameter block: the
// padded tap array, the int32 radius, and the trailing pad that rounds
// the uniform block up to its 16 byte alignment.
const blurParamsSize = tapsFloats*4 + 16

// Processor drives the two filters on a single compute queue. It
// implements vkfilter.Filter; see that interface for the concurrency
// contract. Pipelines are built once at construction, image resources
// on every Configure.
type Processor struct {
	cfg vkfilter.Config
	dc  *DeviceContext

	matrixPipe *ComputePipeline
	blurHPipe  *ComputePipeline
	blurVPipe  *ComputePipeline

	// cmdBuf is the single command buffer every filter invocation
	// records into; the pool's reset flag lets Begin reuse it.
	cmdBuf []vk.CommandBuffer

	width  int
	height int

	input    *Image
	scratch  *Image
	staging  *Image
	taps     *Buffer
	readback *Buffer
	outputs  []*outputImage

	configured bool
	released   bool
}

// NewProcessor creates the device context, compiles the three kernels
// and builds their pipelines. Image resources are not allocated until
// Configure.
func NewProcessor(opts ...vkfilter.Option) (*Processor, error) {
	cfg := vkfilter.NewConfig(opts...)
	dc, err := NewDeviceContext(cfg)
	if err != nil {
		return nil, err
	}
	p := &Processor{cfg: cfg, dc: dc}

	imagePair := []vk.DescriptorType{
		vk.DescriptorTypeCombinedImageSampler,
		vk.DescriptorTypeStorageImage,
	}
	withTaps := append(imagePair[:2:2], vk.DescriptorTypeUniformBuffer)

	type kernel struct {
		name     string
		types    []vk.DescriptorType
		pushSize uint32
		dst      **ComputePipeline
	}
	kernels := []kernel{
		{shaderColorMatrix, imagePair, uint32(unsafe.Sizeof(vkfilter.ColorMatrix{})), &p.matrixPipe},
		{shaderBlurHorizontal, withTaps, 0, &p.blurHPipe},
		{shaderBlurVertical, withTaps, 0, &p.blurVPipe},
	}
	for _, k := range kernels {
		code, err := loadShader(cfg, k.name, dc.workGroupSize)
		if err != nil {
			p.Release()
			return nil, err
		}
		pipe, err := NewComputePipeline(dc, code, k.types, k.pushSize)
		if err != nil {
			p.Release()
			return nil, fmt.Errorf("vkfilter: kernel %q: %w", k.name, err)
		}
		*k.dst = pipe
	}

	p.cmdBuf = make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(dc.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        dc.cmdPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, p.cmdBuf)
	if res != vk.Success {
		p.Release()
		return nil, fmt.Errorf("vkfilter: vkAllocateCommandBuffers: %w", vk.Error(res))
	}
	return p, nil
}

// submit records a filter invocation into the reusable command buffer
// and blocks on queue idle, so the results are visible on return.
func (p *Processor) submit(record func(cmd vk.CommandBuffer) error) error {
	cmd := p.cmdBuf[0]
	res := vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkBeginCommandBuffer: %w", vk.Error(res))
	}
	if err := record(cmd); err != nil {
		return err
	}
	if res := vk.EndCommandBuffer(cmd); res != vk.Success {
		return fmt.Errorf("vkfilter: vkEndCommandBuffer: %w", vk.Error(res))
	}
	res = vk.QueueSubmit(p.dc.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    p.cmdBuf,
	}}, vk.NullFence)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkQueueSubmit: %w", vk.Error(res))
	}
	if res := vk.QueueWaitIdle(p.dc.queue); res != vk.Success {
		return fmt.Errorf("vkfilter: vkQueueWaitIdle: %w", vk.Error(res))
	}
	return nil
}

// Configure uploads the input and (re)allocates every image resource
// for its dimensions. Outputs from a previous configuration are
// invalidated; their shared memory stays alive only for consumers that
// retained the handle.
func (p *Processor) Configure(input *vkfilter.Bitmap, outputCount int) error {
	if p.released {
		return vkfilter.ErrReleased
	}
	if input == nil {
		return errors.New("vkfilter: nil input bitmap")
	}
	if err := input.Validate(); err != nil {
		return err
	}
	if outputCount < 1 {
		return vkfilter.ErrOutputCount
	}
	w, h := input.Width(), input.Height()
	if maxDim := int(p.dc.maxImageDim); w > maxDim || h > maxDim {
		return fmt.Errorf("vkfilter: input %dx%d exceeds device image limit %d", w, h, maxDim)
	}

	p.freeResources()

	start := time.Now()
	var err error
	if p.input, err = NewImageFromBitmap(p.dc, input); err != nil {
		return err
	}
	if p.scratch, err = NewImageDeviceLocal(p.dc, w, h,
		vk.ImageUsageSampledBit|vk.ImageUsageStorageBit); err != nil {
		p.freeResources()
		return err
	}
	if p.staging, err = NewImageDeviceLocal(p.dc, w, h,
		vk.ImageUsageStorageBit|vk.ImageUsageTransferSrcBit); err != nil {
		p.freeResources()
		return err
	}
	if p.taps, err = newHostBuffer(p.dc, blurParamsSize, vk.BufferUsageUniformBufferBit); err != nil {
		p.freeResources()
		return err
	}
	if p.cfg.Readback {
		if p.readback, err = newHostBuffer(p.dc, w*h*4, vk.BufferUsageTransferDstBit); err != nil {
			p.freeResources()
			return err
		}
	}

	outUsage := vk.ImageUsageTransferDstBit | vk.ImageUsageTransferSrcBit
	for i := 0; i < outputCount; i++ {
		handle, err := AllocateShareable(p.dc, w, h, outUsage)
		if err != nil {
			p.freeResources()
			return err
		}
		img, err := NewImageFromHandle(p.dc, handle, w, h, outUsage)
		handle.Release()
		if err != nil {
			p.freeResources()
			return err
		}
		p.outputs = append(p.outputs, &outputImage{p: p, img: img, handle: img.handle, valid: true})
	}
	err = p.dc.RunOnce(func(cmd vk.CommandBuffer) error {
		for _, o := range p.outputs {
			o.img.RecordLayoutTransition(cmd, LayoutTransferDst, false)
		}
		return nil
	})
	if err != nil {
		p.freeResources()
		return err
	}

	p.matrixPipe.BindImages(p.input, p.staging, nil)
	p.blurHPipe.BindImages(p.input, p.scratch, p.taps)
	p.blurVPipe.BindImages(p.scratch, p.staging, p.taps)

	p.width, p.height = w, h
	p.configured = true
	vkfilter.Logger().Info("configured",
		"width", w, "height", h, "outputs", outputCount,
		"elapsed", time.Since(start))
	return nil
}

// ApplyColorMatrix rotates the hue of the input by angle radians into
// the given output slot.
func (p *Processor) ApplyColorMatrix(angle float32, outputIndex int) (vkfilter.Output, error) {
	out, err := p.target(outputIndex)
	if err != nil {
		return nil, err
	}
	m := vkfilter.HueRotationMatrix(angle)

	start := time.Now()
	err = p.submit(func(cmd vk.CommandBuffer) error {
		p.staging.RecordLayoutTransition(cmd, LayoutGeneral, false)
		p.matrixPipe.recordDispatch(cmd, unsafe.Pointer(&m), p.width, p.height)
		p.staging.RecordLayoutTransition(cmd, LayoutTransferSrc, true)
		out.img.RecordLayoutTransition(cmd, LayoutTransferDst, false)
		recordImageCopy(cmd, p.staging, out.img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	vkfilter.Logger().Debug("color matrix applied",
		"angle", angle, "output", outputIndex, "elapsed", time.Since(start))
	return out, nil
}

// ApplyBlur runs the separable Gaussian blur for the given radius into
// the given output slot. An out-of-range radius is rejected before any
// device work, leaving every output untouched.
func (p *Processor) ApplyBlur(radius float32, outputIndex int) (vkfilter.Output, error) {
	out, err := p.target(outputIndex)
	if err != nil {
		return nil, err
	}
	weights, iradius, err := vkfilter.GaussianKernel(radius)
	if err != nil {
		return nil, err
	}
	if err := p.taps.CopyFrom(packBlurParams(weights, iradius)); err != nil {
		return nil, err
	}

	start := time.Now()
	err = p.submit(func(cmd vk.CommandBuffer) error {
		p.scratch.RecordLayoutTransition(cmd, LayoutGeneral, false)
		p.blurHPipe.recordDispatch(cmd, nil, p.width, p.height)
		p.scratch.RecordLayoutTransition(cmd, LayoutShaderReadOnly, true)
		p.staging.RecordLayoutTransition(cmd, LayoutGeneral, false)
		p.blurVPipe.recordDispatch(cmd, nil, p.width, p.height)
		p.staging.RecordLayoutTransition(cmd, LayoutTransferSrc, true)
		out.img.RecordLayoutTransition(cmd, LayoutTransferDst, false)
		recordImageCopy(cmd, p.staging, out.img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	vkfilter.Logger().Debug("blur applied",
		"radius", radius, "taps", len(weights), "output", outputIndex,
		"elapsed", time.Since(start))
	return out, nil
}

// target resolves an output slot after the released, configured and
// range guards.
func (p *Processor) target(outputIndex int) (*outputImage, error) {
	if p.released {
		return nil, vkfilter.ErrReleased
	}
	if !p.configured {
		return nil, vkfilter.ErrNotConfigured
	}
	if outputIndex < 0 || outputIndex >= len(p.outputs) {
		return nil, vkfilter.ErrOutputIndex
	}
	return p.outputs[outputIndex], nil
}

// Release frees every device object. Safe to call more than once.
func (p *Processor) Release() {
	if p.released {
		return
	}
	p.released = true
	p.freeResources()
	for _, pipe := range []*ComputePipeline{p.matrixPipe, p.blurHPipe, p.blurVPipe} {
		if pipe != nil {
			pipe.Destroy()
		}
	}
	p.matrixPipe, p.blurHPipe, p.blurVPipe = nil, nil, nil
	if p.cmdBuf != nil {
		vk.FreeCommandBuffers(p.dc.device, p.dc.cmdPool, 1, p.cmdBuf)
		p.cmdBuf = nil
	}
	p.dc.Destroy()
}

// freeResources drops everything Configure built, invalidating the
// caller-visible outputs.
func (p *Processor) freeResources() {
	for _, o := range p.outputs {
		o.valid = false
		o.img.Destroy()
		o.img = nil
	}
	p.outputs = nil
	for _, im := range []*Image{p.input, p.scratch, p.staging} {
		if im != nil {
			im.Destroy()
		}
	}
	p.input, p.scratch, p.staging = nil, nil, nil
	for _, b := range []*Buffer{p.taps, p.readback} {
		if b != nil {
			b.Destroy()
		}
	}
	p.taps, p.readback = nil, nil
	p.configured = false
}

// outputImage is one caller-visible output slot. It stays attached to
// its processor; Configure and Release invalidate it.
type outputImage struct {
	p      *Processor
	img    *Image
	handle *MemoryHandle
	valid  bool
}

// Width returns the output width in pixels.
func (o *outputImage) Width() int { return o.p.width }

// Height returns the output height in pixels.
func (o *outputImage) Height() int { return o.p.height }

// Handle returns the shared MemoryHandle backing the image. Consumers
// that keep it past the processor's lifetime must Retain it.
func (o *outputImage) Handle() any {
	if !o.valid || o.handle == nil {
		return nil
	}
	return o.handle
}

// ReadPixels copies the output into dst through the host-visible
// readback buffer.
func (o *outputImage) ReadPixels(dst *vkfilter.Bitmap) error {
	if !o.valid {
		return vkfilter.ErrReleased
	}
	if o.p.readback == nil {
		return ErrNoReadback
	}
	if dst == nil {
		return errors.New("vkfilter: nil destination bitmap")
	}
	if err := dst.Validate(); err != nil {
		return err
	}
	w, h := o.p.width, o.p.height
	if dst.Width() != w || dst.Height() != h {
		return fmt.Errorf("vkfilter: destination %dx%d does not match output %dx%d",
			dst.Width(), dst.Height(), w, h)
	}

	err := o.p.dc.RunOnce(func(cmd vk.CommandBuffer) error {
		o.img.RecordLayoutTransition(cmd, LayoutTransferSrc, true)
		recordImageToBuffer(cmd, o.img, o.p.readback)
		o.img.RecordLayoutTransition(cmd, LayoutTransferDst, true)
		return nil
	})
	if err != nil {
		return err
	}

	if dst.Stride() == w*4 {
		return o.p.readback.ReadInto(dst.Pix()[:w*h*4])
	}
	packed := make([]byte, w*h*4)
	if err := o.p.readback.ReadInto(packed); err != nil {
		return err
	}
	for y := 0; y < h; y++ {
		copy(dst.Pix()[y*dst.Stride():y*dst.Stride()+w*4], packed[y*w*4:(y+1)*w*4])
	}
	return nil
}

// packBlurParams lays the kernel out as the shader's parameter block:
// the tap weights padded to whole vec4s, then the int32 radius.
func packBlurParams(weights []float32, iradius int32) []byte {
	buf := make([]byte, blurParamsSize)
	copy(buf, floatBytes(weights))
	binary.LittleEndian.PutUint32(buf[tapsFloats*4:], uint32(iradius))
	return buf
}

// floatBytes views a float32 slice as raw little-endian bytes for a
// buffer upload.
func floatBytes(f []float32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}
