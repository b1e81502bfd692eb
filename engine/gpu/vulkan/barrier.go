package vulkan

import (
	vk "github.com/goki/vulkan"
)

const (
	shaderStageBits = vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit
	readStages      = shaderStageBits | vk.PipelineStageVertexInputBit | vk.PipelineStageDrawIndirectBit | vk.PipelineStageTransferBit
	readAccess      = vk.AccessVertexAttributeReadBit | vk.AccessIndexReadBit | vk.AccessUniformReadBit |
		vk.AccessShaderReadBit | vk.AccessIndirectCommandReadBit | vk.AccessTransferReadBit
)

// layoutSync returns the accesses and stages using an image in layout.
// Images leaving Undefined or PresentSrc wait on color output, where the
// wait on the acquire semaphore happens.
func layoutSync(layout vk.ImageLayout, src bool) (vk.AccessFlagBits, vk.PipelineStageFlagBits) {
	switch layout {
	case vk.ImageLayoutColorAttachmentOptimal:
		return vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit,
			vk.PipelineStageColorAttachmentOutputBit
	case vk.ImageLayoutDepthStencilAttachmentOptimal:
		return vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit,
			vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit
	case vk.ImageLayoutShaderReadOnlyOptimal:
		return vk.AccessShaderReadBit, shaderStageBits
	case vk.ImageLayoutGeneral:
		return vk.AccessShaderReadBit | vk.AccessShaderWriteBit, shaderStageBits
	case vk.ImageLayoutTransferSrcOptimal:
		return vk.AccessTransferReadBit, vk.PipelineStageTransferBit
	case vk.ImageLayoutTransferDstOptimal:
		return vk.AccessTransferWriteBit, vk.PipelineStageTransferBit
	case vk.ImageLayoutPresentSrc:
		if !src {
			return 0, vk.PipelineStageBottomOfPipeBit
		}
	}
	if src {
		return 0, vk.PipelineStageColorAttachmentOutputBit
	}
	return 0, vk.PipelineStageTopOfPipeBit
}

// imageBarrier moves levels of t from one layout to another. With discard,
// the old content is dropped but the previous accesses are still waited on.
func imageBarrier(cb vk.CommandBuffer, t *texture, from, to vk.ImageLayout, discard bool, level, levels uint32) {
	srcAccess, srcStage := layoutSync(from, true)
	dstAccess, dstStage := layoutSync(to, false)
	if discard {
		from = vk.ImageLayoutUndefined
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(srcAccess),
			DstAccessMask:       vk.AccessFlags(dstAccess),
			OldLayout:           from,
			NewLayout:           to,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               t.image,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:   t.aspect,
				BaseMipLevel: level,
				LevelCount:   levels,
				LayerCount:   uint32(t.layers()),
			},
		}})
}

func memoryBarrier(cb vk.CommandBuffer, srcStage, dstStage vk.PipelineStageFlagBits, srcAccess, dstAccess vk.AccessFlagBits) {
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		0, 1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(srcAccess),
			DstAccessMask: vk.AccessFlags(dstAccess),
		}}, 0, nil, 0, nil)
}

// beginTransfers orders the transfers recorded next after everything
// submitted before them.
func beginTransfers(cb vk.CommandBuffer) {
	memoryBarrier(cb, vk.PipelineStageAllCommandsBit, vk.PipelineStageTransferBit,
		vk.AccessMemoryWriteBit, vk.AccessTransferReadBit|vk.AccessTransferWriteBit)
}

// endTransfers makes the transfers visible to every later command.
func endTransfers(cb vk.CommandBuffer) {
	memoryBarrier(cb, vk.PipelineStageTransferBit, vk.PipelineStageAllCommandsBit,
		vk.AccessTransferWriteBit, readAccess|vk.AccessTransferWriteBit)
}

// computeBarrier publishes the writes of a dispatch to the commands after
// it.
func computeBarrier(cb vk.CommandBuffer) {
	memoryBarrier(cb, vk.PipelineStageComputeShaderBit, readStages,
		vk.AccessShaderWriteBit, readAccess)
}

// passBarrier publishes the storage writes of a render pass.
func passBarrier(cb vk.CommandBuffer) {
	memoryBarrier(cb, vk.PipelineStageVertexShaderBit|vk.PipelineStageFragmentShaderBit, readStages,
		vk.AccessShaderWriteBit, readAccess)
}
