package gpu

import "github.com/gogpu/gputypes"

// Limits is the capability record of a configured context.
type Limits struct {
	MaxColorAttachments            int
	MaxTextureDimension1D          int
	MaxTextureDimension2D          int
	MaxTextureDimension3D          int
	MaxTextureDimensionCube        int
	MaxTextureArrayLayers          int
	MaxComputeWorkGroupCount       [3]int
	MaxComputeWorkGroupInvocations int
	MaxComputeWorkGroupSize        [3]int
	MaxSamples                     int
	MaxUniformBlockSize            int
	MaxStorageBlockSize            int
	MinBufferOffsetAlignment       int
	MaxVertexAttributes            int
	MaxVertexBuffers               int
}

// LimitsFromDevice converts the limits reported by a WebGPU-style device.
func LimitsFromDevice(l gputypes.Limits, maxSamples int) Limits {
	count := int(l.MaxComputeWorkgroupsPerDimension)
	return Limits{
		MaxColorAttachments:            min(int(l.MaxColorAttachments), MaxColorAttachments),
		MaxTextureDimension1D:          int(l.MaxTextureDimension1D),
		MaxTextureDimension2D:          int(l.MaxTextureDimension2D),
		MaxTextureDimension3D:          int(l.MaxTextureDimension3D),
		MaxTextureDimensionCube:        int(l.MaxTextureDimension2D),
		MaxTextureArrayLayers:          int(l.MaxTextureArrayLayers),
		MaxComputeWorkGroupCount:       [3]int{count, count, count},
		MaxComputeWorkGroupInvocations: int(l.MaxComputeInvocationsPerWorkgroup),
		MaxComputeWorkGroupSize: [3]int{
			int(l.MaxComputeWorkgroupSizeX),
			int(l.MaxComputeWorkgroupSizeY),
			int(l.MaxComputeWorkgroupSizeZ),
		},
		MaxSamples:               maxSamples,
		MaxUniformBlockSize:      int(l.MaxUniformBufferBindingSize),
		MaxStorageBlockSize:      int(l.MaxStorageBufferBindingSize),
		MinBufferOffsetAlignment: int(max(l.MinUniformBufferOffsetAlignment, l.MinStorageBufferOffsetAlignment)),
		MaxVertexAttributes:      int(l.MaxVertexAttributes),
		MaxVertexBuffers:         int(l.MaxVertexBuffers),
	}
}
