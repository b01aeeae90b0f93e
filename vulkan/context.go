package vulkan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	vk "github.com/goki/vulkan"

	vkfilter "github.com/gogpu/vkfilter"
)

// Device setup errors.
var (
	// ErrNoComputeDevice is returned when no physical device exposes a
	// compute-capable queue family.
	ErrNoComputeDevice = errors.New("vkfilter: no Vulkan device with a compute queue")

	// ErrWorkGroupSize is returned when the device limits leave no
	// usable workgroup size after rounding.
	ErrWorkGroupSize = errors.New("vkfilter: device compute limits too small for a workgroup")
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

var (
	loaderOnce sync.Once
	loaderErr  error
)

// initLoader loads the Vulkan shared library and resolves the global
// entry points. Safe to call repeatedly.
func initLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = fmt.Errorf("vkfilter: load vulkan library: %w", err)
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = fmt.Errorf("vkfilter: init vulkan: %w", err)
		}
	})
	return loaderErr
}

// DeviceContext owns the Vulkan objects shared by every resource and
// pipeline: instance, logical device, the single compute queue, and the
// command and descriptor pools.
type DeviceContext struct {
	instance    vk.Instance
	physDevice  vk.PhysicalDevice
	device      vk.Device
	queue       vk.Queue
	queueFamily uint32
	cmdPool     vk.CommandPool
	descPool    vk.DescriptorPool

	memProps      vk.PhysicalDeviceMemoryProperties
	workGroupSize uint32
	maxImageDim   uint32
}

// NewDeviceContext creates the instance, selects the first physical
// device with a compute queue family, and builds the logical device and
// pools. Validation is enabled when cfg.Validation is set and the
// Khronos validation layer is installed.
func NewDeviceContext(cfg vkfilter.Config) (*DeviceContext, error) {
	if err := initLoader(); err != nil {
		return nil, err
	}

	dc := &DeviceContext{}

	var layers []string
	if cfg.Validation {
		if hasInstanceLayer(validationLayer) {
			layers = append(layers, safeString(validationLayer))
		} else {
			vkfilter.Logger().Warn("validation layer not installed", "layer", validationLayer)
		}
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString("vkfilter"),
		ApplicationVersion: vk.MakeVersion(0, 2, 0),
		PEngineName:        safeString("vkfilter"),
		EngineVersion:      vk.MakeVersion(0, 2, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	res := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType:                 vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:      &appInfo,
		EnabledLayerCount:     uint32(len(layers)),
		PpEnabledLayerNames:   layers,
		EnabledExtensionCount: 0,
	}, nil, &dc.instance)
	if res != vk.Success {
		return nil, fmt.Errorf("vkfilter: vkCreateInstance: %w", vk.Error(res))
	}
	vk.InitInstance(dc.instance)

	if err := dc.pickPhysicalDevice(); err != nil {
		dc.Destroy()
		return nil, err
	}
	if err := dc.createDevice(); err != nil {
		dc.Destroy()
		return nil, err
	}
	if err := dc.createPools(); err != nil {
		dc.Destroy()
		return nil, err
	}
	return dc, nil
}

// hasInstanceLayer reports whether an instance layer with the given
// name is available.
func hasInstanceLayer(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success || count == 0 {
		return false
	}
	props := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, props) != vk.Success {
		return false
	}
	for i := range props {
		props[i].Deref()
		if cString(props[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

// pickPhysicalDevice selects the first enumerated device that exposes a
// compute queue family, and derives the workgroup size and image limit
// from its properties.
func (dc *DeviceContext) pickPhysicalDevice() error {
	var count uint32
	res := vk.EnumeratePhysicalDevices(dc.instance, &count, nil)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkEnumeratePhysicalDevices: %w", vk.Error(res))
	}
	if count == 0 {
		return ErrNoComputeDevice
	}
	devices := make([]vk.PhysicalDevice, count)
	res = vk.EnumeratePhysicalDevices(dc.instance, &count, devices)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkEnumeratePhysicalDevices: %w", vk.Error(res))
	}

	for _, pd := range devices {
		family, ok := computeQueueFamily(pd)
		if !ok {
			continue
		}
		dc.physDevice = pd
		dc.queueFamily = family

		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		props.Limits.Deref()
		dc.maxImageDim = props.Limits.MaxImageDimension2D
		dc.workGroupSize = chooseWorkGroupSize(&props.Limits)

		vk.GetPhysicalDeviceMemoryProperties(pd, &dc.memProps)
		dc.memProps.Deref()

		if dc.workGroupSize == 0 {
			return ErrWorkGroupSize
		}
		vkfilter.Logger().Info("selected compute device",
			"device", cString(props.DeviceName[:]),
			"queueFamily", family,
			"workGroupSize", dc.workGroupSize)
		return nil
	}
	return ErrNoComputeDevice
}

// computeQueueFamily returns the index of the first compute-capable
// queue family of pd.
func computeQueueFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	if count == 0 {
		return 0, false
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			return uint32(i), true
		}
	}
	return 0, false
}

// chooseWorkGroupSize derives the square tile edge used by every
// kernel: capped at 64, bounded by the per-axis workgroup limits and by
// the square root of the invocation limit, then rounded down to a
// multiple of 4 so the SIMD lanes stay full.
func chooseWorkGroupSize(limits *vk.PhysicalDeviceLimits) uint32 {
	size := uint32(64)
	if limits.MaxComputeWorkGroupSize[0] < size {
		size = limits.MaxComputeWorkGroupSize[0]
	}
	if limits.MaxComputeWorkGroupSize[1] < size {
		size = limits.MaxComputeWorkGroupSize[1]
	}
	if byInv := uint32(math32.Sqrt(float32(limits.MaxComputeWorkGroupInvocations))); byInv < size {
		size = byInv
	}
	return size &^ 3
}

func (dc *DeviceContext) createDevice() error {
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: dc.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}
	res := vk.CreateDevice(dc.physDevice, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}, nil, &dc.device)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkCreateDevice: %w", vk.Error(res))
	}
	vk.GetDeviceQueue(dc.device, dc.queueFamily, 0, &dc.queue)
	return nil
}

// createPools builds the command pool and the descriptor pool. The
// descriptor pool is sized for exactly the three pipeline descriptor
// sets the processor allocates.
func (dc *DeviceContext) createPools() error {
	res := vk.CreateCommandPool(dc.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: dc.queueFamily,
	}, nil, &dc.cmdPool)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkCreateCommandPool: %w", vk.Error(res))
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: 3},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: 3},
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: 3},
	}
	res = vk.CreateDescriptorPool(dc.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       3,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}, nil, &dc.descPool)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkCreateDescriptorPool: %w", vk.Error(res))
	}
	return nil
}

// FindMemoryType picks the first memory type allowed by typeBits whose
// property flags are a superset of want.
func (dc *DeviceContext) FindMemoryType(typeBits uint32, want vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < dc.memProps.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		dc.memProps.MemoryTypes[i].Deref()
		if dc.memProps.MemoryTypes[i].PropertyFlags&want == want {
			return i, nil
		}
	}
	return 0, fmt.Errorf("vkfilter: no memory type for bits %#x with flags %#x", typeBits, want)
}

// RunOnce records a throwaway command buffer with record, submits it to
// the compute queue and blocks until the queue is idle. Setup work such
// as uploads, initial transitions and readback goes through here; the
// engine has no asynchronous path.
func (dc *DeviceContext) RunOnce(record func(cmd vk.CommandBuffer) error) error {
	cmds := make([]vk.CommandBuffer, 1)
	res := vk.AllocateCommandBuffers(dc.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        dc.cmdPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmds)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkAllocateCommandBuffers: %w", vk.Error(res))
	}
	defer vk.FreeCommandBuffers(dc.device, dc.cmdPool, 1, cmds)

	cmd := cmds[0]
	res = vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
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

	res = vk.QueueSubmit(dc.queue, 1, []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cmds,
	}}, vk.NullFence)
	if res != vk.Success {
		return fmt.Errorf("vkfilter: vkQueueSubmit: %w", vk.Error(res))
	}
	if res := vk.QueueWaitIdle(dc.queue); res != vk.Success {
		return fmt.Errorf("vkfilter: vkQueueWaitIdle: %w", vk.Error(res))
	}
	return nil
}

// Device returns the logical device handle.
func (dc *DeviceContext) Device() vk.Device { return dc.device }

// WorkGroupSize returns the square tile edge baked into every kernel.
func (dc *DeviceContext) WorkGroupSize() uint32 { return dc.workGroupSize }

// MaxImageDim2D returns the device's 2D image dimension limit.
func (dc *DeviceContext) MaxImageDim2D() uint32 { return dc.maxImageDim }

// Destroy waits for the device to go idle and tears everything down.
// Resources created from the context must already be destroyed.
func (dc *DeviceContext) Destroy() {
	if dc.device != nil {
		vk.DeviceWaitIdle(dc.device)
		if dc.descPool != vk.NullDescriptorPool {
			vk.DestroyDescriptorPool(dc.device, dc.descPool, nil)
			dc.descPool = vk.NullDescriptorPool
		}
		if dc.cmdPool != vk.NullCommandPool {
			vk.DestroyCommandPool(dc.device, dc.cmdPool, nil)
			dc.cmdPool = vk.NullCommandPool
		}
		vk.DestroyDevice(dc.device, nil)
		dc.device = nil
	}
	if dc.instance != nil {
		vk.DestroyInstance(dc.instance, nil)
		dc.instance = nil
	}
}

// safeString null-terminates s for handoff to the C API.
func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

// cString trims a fixed-size C char array at the first NUL.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
