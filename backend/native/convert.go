// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"github.com/gogpu/atmos/gpucore"
	"github.com/gogpu/gputypes"
)

// === Type Conversion Helpers ===

// convertFormat converts gpucore.Format to gputypes.TextureFormat.
func convertFormat(f gpucore.Format) gputypes.TextureFormat {
	switch f {
	case gpucore.FormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gpucore.FormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case gpucore.FormatR8Unorm:
		return gputypes.TextureFormatR8Unorm
	case gpucore.FormatRGBA16Float:
		return gputypes.TextureFormatRGBA16Float
	case gpucore.FormatDepth32Float:
		return gputypes.TextureFormatDepth32Float
	case gpucore.FormatDepth24PlusStencil8:
		return gputypes.TextureFormatDepth24PlusStencil8
	default:
		return gputypes.TextureFormatUndefined
	}
}

// formatFromHAL converts a surface format reported by a device provider.
func formatFromHAL(f gputypes.TextureFormat) gpucore.Format {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return gpucore.FormatRGBA8Unorm
	case gputypes.TextureFormatBGRA8Unorm:
		return gpucore.FormatBGRA8Unorm
	default:
		return gpucore.FormatUndefined
	}
}

// convertBufferUsage converts gpucore.BufferUsage to gputypes.BufferUsage.
func convertBufferUsage(usage gpucore.BufferUsage, hostVisible bool) gputypes.BufferUsage {
	var result gputypes.BufferUsage

	if usage&gpucore.BufferUsageVertex != 0 {
		result |= gputypes.BufferUsageVertex
	}
	if usage&gpucore.BufferUsageIndex != 0 {
		result |= gputypes.BufferUsageIndex
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		result |= gputypes.BufferUsageStorage
	}
	if usage&gpucore.BufferUsageCopySrc != 0 {
		result |= gputypes.BufferUsageCopySrc
	}
	// Host updates go through Queue.WriteBuffer, which needs CopyDst.
	if usage&gpucore.BufferUsageCopyDst != 0 || hostVisible || usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageCopyDst
	}

	return result
}

// convertImageUsage converts gpucore.ImageUsage to gputypes.TextureUsage.
func convertImageUsage(usage gpucore.ImageUsage) gputypes.TextureUsage {
	var result gputypes.TextureUsage

	if usage&gpucore.ImageUsageSampled != 0 {
		result |= gputypes.TextureUsageTextureBinding
	}
	if usage&gpucore.ImageUsageStorage != 0 {
		result |= gputypes.TextureUsageStorageBinding
	}
	if usage&(gpucore.ImageUsageColorAttachment|gpucore.ImageUsageDepthAttachment) != 0 {
		result |= gputypes.TextureUsageRenderAttachment
	}
	if usage&gpucore.ImageUsageCopySrc != 0 {
		result |= gputypes.TextureUsageCopySrc
	}
	if usage&gpucore.ImageUsageCopyDst != 0 {
		result |= gputypes.TextureUsageCopyDst
	}

	return result
}

// layoutUsage maps an image layout to the texture usage HAL transitions
// between. Undefined maps to no usage.
func layoutUsage(l gpucore.ImageLayout) gputypes.TextureUsage {
	switch l {
	case gpucore.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case gpucore.LayoutColorAttachment, gpucore.LayoutDepthAttachment, gpucore.LayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	case gpucore.LayoutDepthReadOnly, gpucore.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case gpucore.LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case gpucore.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	default:
		return 0
	}
}

func convertFilter(f gpucore.Filter) gputypes.FilterMode {
	if f == gpucore.FilterNearest {
		return gputypes.FilterModeNearest
	}
	return gputypes.FilterModeLinear
}

func convertAddress(a gpucore.AddressMode) gputypes.AddressMode {
	if a == gpucore.AddressRepeat {
		return gputypes.AddressModeRepeat
	}
	return gputypes.AddressModeClampToEdge
}
