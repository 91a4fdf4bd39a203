// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"fmt"
	"strings"
)

// QueueKind identifies an execution queue.
type QueueKind uint8

// Queue kinds.
const (
	// QueueGraphics is the graphics-capable queue. It also presents.
	QueueGraphics QueueKind = iota

	// QueueCompute is the async compute queue.
	QueueCompute

	// NumQueueKinds is the number of queue kinds.
	NumQueueKinds
)

// String returns the queue name.
func (k QueueKind) String() string {
	switch k {
	case QueueGraphics:
		return "graphics"
	case QueueCompute:
		return "compute"
	default:
		return fmt.Sprintf("QueueKind(%d)", k)
	}
}

// PipelineStage is a bitmask of pipeline execution stages.
type PipelineStage uint32

// Pipeline stages.
const (
	StageNone                  PipelineStage = 0
	StageTopOfPipe             PipelineStage = 1 << 0
	StageVertexShader          PipelineStage = 1 << 1
	StageEarlyFragmentTests    PipelineStage = 1 << 2
	StageFragmentShader        PipelineStage = 1 << 3
	StageLateFragmentTests     PipelineStage = 1 << 4
	StageColorAttachmentOutput PipelineStage = 1 << 5
	StageComputeShader         PipelineStage = 1 << 6
	StageTransfer              PipelineStage = 1 << 7
	StageBottomOfPipe          PipelineStage = 1 << 8
	StageAllCommands           PipelineStage = 1 << 9
)

var stageNames = []string{
	"top", "vertex", "early-fragment", "fragment", "late-fragment",
	"color-output", "compute", "transfer", "bottom", "all",
}

// String returns the stage names joined by '|'.
func (s PipelineStage) String() string {
	return maskString(uint32(s), stageNames)
}

// Access is a bitmask of memory access types.
type Access uint32

// Access types.
const (
	AccessNone                 Access = 0
	AccessShaderRead           Access = 1 << 0
	AccessShaderWrite          Access = 1 << 1
	AccessColorAttachmentRead  Access = 1 << 2
	AccessColorAttachmentWrite Access = 1 << 3
	AccessDepthStencilRead     Access = 1 << 4
	AccessDepthStencilWrite    Access = 1 << 5
	AccessTransferRead         Access = 1 << 6
	AccessTransferWrite        Access = 1 << 7
	AccessUniformRead          Access = 1 << 8
)

var accessNames = []string{
	"shader-read", "shader-write", "color-read", "color-write",
	"depth-read", "depth-write", "transfer-read", "transfer-write", "uniform-read",
}

// String returns the access names joined by '|'.
func (a Access) String() string {
	return maskString(uint32(a), accessNames)
}

func maskString(v uint32, names []string) string {
	if v == 0 {
		return "none"
	}
	var parts []string
	for i, name := range names {
		if v&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// ImageLayout is the memory layout an image is in.
type ImageLayout uint8

// Image layouts.
const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthAttachment
	LayoutDepthReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

var layoutNames = [...]string{
	"undefined", "general", "color-attachment", "depth-attachment",
	"depth-read-only", "shader-read-only", "transfer-src", "transfer-dst", "present",
}

// String returns the layout name.
func (l ImageLayout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("ImageLayout(%d)", l)
}

// AccessState is the complete synchronization state of an image: which
// stage last touched it, how, in which layout, and which queue owns it.
type AccessState struct {
	Stage  PipelineStage
	Access Access
	Layout ImageLayout
	Queue  QueueKind
}

// String returns a compact description of the state.
func (s AccessState) String() string {
	return fmt.Sprintf("%s/%s/%s@%s", s.Stage, s.Access, s.Layout, s.Queue)
}

// ImageBarrier transitions an image from Src to Dst.
type ImageBarrier struct {
	Image Image
	Src   AccessState
	Dst   AccessState
}

// IsOwnershipTransfer reports whether the barrier moves the image to
// another queue.
func (b ImageBarrier) IsOwnershipTransfer() bool {
	return b.Src.Queue != b.Dst.Queue
}

// Format is an image texel format.
type Format uint8

// Image formats.
const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatR8Unorm
	FormatRGBA16Float
	FormatDepth32Float
	FormatDepth24PlusStencil8
)

// BytesPerPixel returns the size of one texel.
func (f Format) BytesPerPixel() uint64 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatDepth32Float, FormatDepth24PlusStencil8:
		return 4
	case FormatRGBA16Float:
		return 8
	default:
		return 0
	}
}

// IsDepth reports whether the format has a depth aspect.
func (f Format) IsDepth() bool {
	return f == FormatDepth32Float || f == FormatDepth24PlusStencil8
}

// HasStencil reports whether the format has a stencil aspect.
func (f Format) HasStencil() bool {
	return f == FormatDepth24PlusStencil8
}

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "rgba8unorm"
	case FormatBGRA8Unorm:
		return "bgra8unorm"
	case FormatR8Unorm:
		return "r8unorm"
	case FormatRGBA16Float:
		return "rgba16float"
	case FormatDepth32Float:
		return "depth32float"
	case FormatDepth24PlusStencil8:
		return "depth24plus-stencil8"
	default:
		return "undefined"
	}
}

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	BufferUsageVertex  BufferUsage = 1 << 0
	BufferUsageIndex   BufferUsage = 1 << 1
	BufferUsageUniform BufferUsage = 1 << 2
	BufferUsageStorage BufferUsage = 1 << 3
	BufferUsageCopySrc BufferUsage = 1 << 4
	BufferUsageCopyDst BufferUsage = 1 << 5
)

// ImageUsage is a bitmask specifying how an image will be used.
type ImageUsage uint32

// Image usage flags.
const (
	ImageUsageSampled         ImageUsage = 1 << 0
	ImageUsageStorage         ImageUsage = 1 << 1
	ImageUsageColorAttachment ImageUsage = 1 << 2
	ImageUsageDepthAttachment ImageUsage = 1 << 3
	ImageUsageCopySrc         ImageUsage = 1 << 4
	ImageUsageCopyDst         ImageUsage = 1 << 5
)

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Size  uint64
	Usage BufferUsage
	// HostVisible requests memory the host can write directly.
	HostVisible bool
}

// ImageDesc describes an image to create.
type ImageDesc struct {
	Width  uint32
	Height uint32
	// Depth greater than 1 creates a 3D image.
	Depth  uint32
	Format Format
	Usage  ImageUsage
	// Initial is the state the image is created in. The owning queue of a
	// new image is Initial.Queue.
	Initial AccessState
}

// SizeBytes returns the memory footprint of the image.
func (d ImageDesc) SizeBytes() uint64 {
	depth := uint64(max(d.Depth, 1))
	return uint64(d.Width) * uint64(d.Height) * depth * d.Format.BytesPerPixel()
}

// Filter is a texture sampling filter.
type Filter uint8

// Sampling filters.
const (
	FilterLinear Filter = iota
	FilterNearest
)

// AddressMode is a texture coordinate wrapping mode.
type AddressMode uint8

// Address modes.
const (
	AddressClampToEdge AddressMode = iota
	AddressRepeat
)

// SamplerDesc describes a sampler to create.
type SamplerDesc struct {
	Filter  Filter
	Address AddressMode
}

// DispatchCmd is a compute dispatch. Reads and Writes list the images the
// dispatch accesses; the executing queue must own all of them.
type DispatchCmd struct {
	Label   string
	X, Y, Z uint32
	Reads   []Image
	Writes  []Image
}

// GroupCount returns the number of workgroups needed to cover size
// invocations with workgroups of the given size.
func GroupCount(size, group uint32) uint32 {
	return (size + group - 1) / group
}

// DrawCmd is a draw call inside its own render pass.
type DrawCmd struct {
	Label     string
	Vertices  uint32
	Instances uint32
	// Indices, when non-zero, draws indexed from IndexBuffer.
	Indices      uint32
	VertexBuffer Buffer
	IndexBuffer  Buffer
	Color        []Image
	Depth        Image
	// Reads lists sampled images.
	Reads []Image
	// Clear clears the attachments before drawing.
	Clear bool
}

// Timestamp is one resolved query value.
type Timestamp struct {
	Value     uint64
	Available bool
}

// SemaphoreWait is a semaphore wait gating a pipeline stage.
type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

// SubmitInfo describes one queue submission.
type SubmitInfo struct {
	Recordings []Recording
	Waits      []SemaphoreWait
	Signals    []Semaphore
	// Fence, when non-nil, is signaled once the submission completes.
	Fence Fence
}

// SwapchainDesc describes a presentation swapchain.
type SwapchainDesc struct {
	Width  uint32
	Height uint32
	Format Format
	Images int
}
