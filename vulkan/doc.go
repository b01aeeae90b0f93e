// Package vulkan implements the image filtering engine on the Vulkan
// compute API.
//
// Importing the package registers the "vulkan" backend with the root
// vkfilter registry; most callers construct it through
// vkfilter.Default or vkfilter.New and never touch this package
// directly. The exported device types (DeviceContext, Buffer, Image,
// ComputePipeline) are the building blocks of the Processor and are
// usable on their own for custom compute work.
//
// The engine needs a Vulkan 1.1 loader and a physical device with at
// least one compute-capable queue family. All work is submitted to a
// single queue and waited on synchronously; nothing here is safe for
// concurrent use.
package vulkan
