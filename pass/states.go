package pass

import "github.com/gogpu/atmos/gpucore"

// Access states images are left in at pass boundaries. Shared images are
// handed between queues in these states.
var (
	// GraphicsSampled is a read-only image sampled by fragment shaders.
	GraphicsSampled = gpucore.AccessState{
		Stage:  gpucore.StageFragmentShader,
		Access: gpucore.AccessShaderRead,
		Layout: gpucore.LayoutShaderReadOnly,
		Queue:  gpucore.QueueGraphics,
	}

	// GraphicsStorage is a general-layout image read by fragment shaders.
	GraphicsStorage = gpucore.AccessState{
		Stage:  gpucore.StageFragmentShader,
		Access: gpucore.AccessShaderRead,
		Layout: gpucore.LayoutGeneral,
		Queue:  gpucore.QueueGraphics,
	}

	// ComputeSampled is a read-only image sampled by compute shaders.
	ComputeSampled = gpucore.AccessState{
		Stage:  gpucore.StageComputeShader,
		Access: gpucore.AccessShaderRead,
		Layout: gpucore.LayoutShaderReadOnly,
		Queue:  gpucore.QueueCompute,
	}

	// ComputeStorage is a storage image read and written by compute shaders.
	ComputeStorage = gpucore.AccessState{
		Stage:  gpucore.StageComputeShader,
		Access: gpucore.AccessShaderRead | gpucore.AccessShaderWrite,
		Layout: gpucore.LayoutGeneral,
		Queue:  gpucore.QueueCompute,
	}

	// DepthTarget is a depth attachment being written.
	DepthTarget = gpucore.AccessState{
		Stage:  gpucore.StageEarlyFragmentTests | gpucore.StageLateFragmentTests,
		Access: gpucore.AccessDepthStencilWrite,
		Layout: gpucore.LayoutDepthAttachment,
		Queue:  gpucore.QueueGraphics,
	}

	// ColorTarget is a color attachment being written.
	ColorTarget = gpucore.AccessState{
		Stage:  gpucore.StageColorAttachmentOutput,
		Access: gpucore.AccessColorAttachmentWrite,
		Layout: gpucore.LayoutColorAttachment,
		Queue:  gpucore.QueueGraphics,
	}

	// Presentable is a swapchain image ready for presentation.
	Presentable = gpucore.AccessState{
		Stage:  gpucore.StageBottomOfPipe,
		Layout: gpucore.LayoutPresent,
		Queue:  gpucore.QueueGraphics,
	}
)

// Discarded returns a graphics-queue source state in the undefined layout,
// for targets that are fully overwritten.
func Discarded() gpucore.AccessState {
	return gpucore.AccessState{Stage: gpucore.StageTopOfPipe, Layout: gpucore.LayoutUndefined, Queue: gpucore.QueueGraphics}
}

func barrier(img gpucore.Image, src, dst gpucore.AccessState) gpucore.ImageBarrier {
	return gpucore.ImageBarrier{Image: img, Src: src, Dst: dst}
}
