// Package vkfilter provides a GPU compute engine for image filtering.
//
// # Overview
//
// vkfilter runs two image filters on a compute-capable Vulkan device: a
// single-pass 3x3 color-matrix transform (hue rotation) and a two-pass
// separable Gaussian blur. The engine owns the device, the compute
// pipelines and all GPU resources; callers supply a decoded RGBA bitmap
// and receive handles to filtered output images.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/vkfilter"
//	    _ "github.com/gogpu/vkfilter/vulkan" // register the Vulkan engine
//	)
//
//	f, err := vkfilter.Default()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer f.Release()
//
//	bm := vkfilter.BitmapFromImage(img)
//	if err := f.Configure(bm, 2); err != nil {
//	    log.Fatal(err)
//	}
//
//	out, err := f.ApplyBlur(5.0, 0)
//
// # Architecture
//
// The module is organized into:
//   - Public API: Filter contract, Bitmap, filter parameter math, the
//     backend registry and configuration options
//   - vulkan: the engine itself (device context, buffers and images with
//     explicit layout tracking, compute pipelines, the orchestrator)
//   - cmd/vkfilter: a small command-line front end
//
// Alternative filter implementations (vendor intrinsic libraries,
// platform compositor effects) can register under their own backend names
// and are selected through the same registry.
//
// # Concurrency
//
// A Filter is not safe for concurrent use. Every filter invocation
// submits synchronously and blocks until the device is idle; callers
// drive the engine from a single worker goroutine.
package vkfilter

// Version is the current version of the library.
const Version = "0.2.0"
