package shader

import (
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/ir"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

type Attribute struct {
	Name     string
	Location uint32
	Format   gputypes.VertexFormat
}

type BindingKind uint8

const (
	BindingUniformBuffer BindingKind = iota
	BindingStorageBuffer
	BindingTexture
	BindingStorageTexture
	BindingSampler
)

func (k BindingKind) String() string {
	switch k {
	case BindingUniformBuffer:
		return "uniform_buffer"
	case BindingStorageBuffer:
		return "storage_buffer"
	case BindingTexture:
		return "texture"
	case BindingStorageTexture:
		return "storage_texture"
	case BindingSampler:
		return "sampler"
	}
	return "unknown"
}

// Binding is one resource slot of a program.
type Binding struct {
	Name     string
	Group    uint32
	Binding  uint32
	Kind     BindingKind
	Size     uint32
	ReadOnly bool
	Stages   gputypes.ShaderStages

	// Texture and sampler shape, unset for buffers.
	Dimension    gputypes.TextureViewDimension
	SampleType   gputypes.TextureSampleType
	Multisampled bool
	Format       gputypes.TextureFormat
	Comparison   bool
}

type Reflection struct {
	Attributes    []Attribute
	Bindings      []Binding
	WorkgroupSize [3]uint32
}

// Attribute looks up a vertex input by name.
func (r *Reflection) Attribute(name string) (Attribute, bool) {
	for _, a := range r.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Binding looks up a resource slot by name.
func (r *Reflection) Binding(name string) (Binding, bool) {
	for _, b := range r.Bindings {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

func (r *Reflection) sort() {
	sort.Slice(r.Attributes, func(i, j int) bool { return r.Attributes[i].Location < r.Attributes[j].Location })
	sort.Slice(r.Bindings, func(i, j int) bool {
		if r.Bindings[i].Group != r.Bindings[j].Group {
			return r.Bindings[i].Group < r.Bindings[j].Group
		}
		return r.Bindings[i].Binding < r.Bindings[j].Binding
	})
}

func reflectStage(module *ir.Module, ep *ir.EntryPoint, stage gputypes.ShaderStage, r *Reflection) error {
	switch stage {
	case gputypes.ShaderStageVertex:
		for _, arg := range ep.Function.Arguments {
			collectInputs(module, arg.Name, arg.Type, arg.Binding, r)
		}
	case gputypes.ShaderStageCompute:
		r.WorkgroupSize = ep.Workgroup
	}

	for _, gv := range module.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		b := Binding{
			Name:    gv.Name,
			Group:   gv.Binding.Group,
			Binding: gv.Binding.Binding,
			Stages:  stage,
		}
		switch gv.Space {
		case ir.SpaceUniform:
			b.Kind = BindingUniformBuffer
			b.Size = ir.TypeSize(module, gv.Type)
			b.ReadOnly = true
		case ir.SpaceStorage:
			b.Kind = BindingStorageBuffer
			b.Size = ir.TypeSize(module, gv.Type)
			b.ReadOnly = gv.Access == ir.StorageRead
		case ir.SpaceHandle:
			switch t := module.Types[gv.Type].Inner.(type) {
			case ir.SamplerType:
				b.Kind = BindingSampler
				b.Comparison = t.Comparison
			case ir.ImageType:
				b.Kind = BindingTexture
				b.Dimension = viewDimension(t)
				b.Multisampled = t.Multisampled
				b.SampleType = sampleType(t)
				if t.Class == ir.ImageClassStorage {
					b.Kind = BindingStorageTexture
					b.ReadOnly = t.StorageAccess == ir.StorageAccessRead
					b.Format = storageFormats[t.StorageFormat]
				}
			default:
				continue
			}
		default:
			continue
		}
		if err := r.merge(b); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reflection) merge(b Binding) error {
	for i := range r.Bindings {
		cur := &r.Bindings[i]
		if cur.Group != b.Group || cur.Binding != b.Binding {
			continue
		}
		if cur.Name != b.Name || cur.Kind != b.Kind {
			return fmt.Errorf("binding @group(%d) @binding(%d) declared as both %q and %q: %w",
				b.Group, b.Binding, cur.Name, b.Name, core.ErrInvalidArg)
		}
		cur.Stages |= b.Stages
		return nil
	}
	r.Bindings = append(r.Bindings, b)
	return nil
}

// collectInputs walks a vertex entry point argument. Struct arguments carry
// their locations on the members.
func collectInputs(module *ir.Module, name string, th ir.TypeHandle, binding *ir.Binding, r *Reflection) {
	if binding != nil {
		if loc, ok := location(*binding); ok {
			r.Attributes = append(r.Attributes, Attribute{
				Name:     name,
				Location: loc,
				Format:   vertexFormat(module.Types[th].Inner),
			})
		}
		return
	}
	if st, ok := module.Types[th].Inner.(ir.StructType); ok {
		for _, m := range st.Members {
			collectInputs(module, m.Name, m.Type, m.Binding, r)
		}
	}
}

func location(b ir.Binding) (uint32, bool) {
	switch l := b.(type) {
	case ir.LocationBinding:
		return l.Location, true
	case *ir.LocationBinding:
		return l.Location, true
	}
	return 0, false
}

func vertexFormat(inner ir.TypeInner) gputypes.VertexFormat {
	var (
		kind ir.ScalarKind
		n    int
	)
	switch t := inner.(type) {
	case ir.ScalarType:
		kind, n = t.Kind, 1
		if t.Width != 4 {
			return gputypes.VertexFormatUndefined
		}
	case ir.VectorType:
		kind, n = t.Scalar.Kind, int(t.Size)
		if t.Scalar.Width != 4 {
			return gputypes.VertexFormatUndefined
		}
	default:
		return gputypes.VertexFormatUndefined
	}

	table := map[ir.ScalarKind][4]gputypes.VertexFormat{
		ir.ScalarFloat: {gputypes.VertexFormatFloat32, gputypes.VertexFormatFloat32x2, gputypes.VertexFormatFloat32x3, gputypes.VertexFormatFloat32x4},
		ir.ScalarUint:  {gputypes.VertexFormatUint32, gputypes.VertexFormatUint32x2, gputypes.VertexFormatUint32x3, gputypes.VertexFormatUint32x4},
		ir.ScalarSint:  {gputypes.VertexFormatSint32, gputypes.VertexFormatSint32x2, gputypes.VertexFormatSint32x3, gputypes.VertexFormatSint32x4},
	}
	formats, ok := table[kind]
	if !ok || n < 1 || n > 4 {
		return gputypes.VertexFormatUndefined
	}
	return formats[n-1]
}

func viewDimension(t ir.ImageType) gputypes.TextureViewDimension {
	switch t.Dim {
	case ir.Dim1D:
		return gputypes.TextureViewDimension1D
	case ir.Dim3D:
		return gputypes.TextureViewDimension3D
	case ir.DimCube:
		if t.Arrayed {
			return gputypes.TextureViewDimensionCubeArray
		}
		return gputypes.TextureViewDimensionCube
	}
	if t.Arrayed {
		return gputypes.TextureViewDimension2DArray
	}
	return gputypes.TextureViewDimension2D
}

func sampleType(t ir.ImageType) gputypes.TextureSampleType {
	switch t.Class {
	case ir.ImageClassDepth:
		return gputypes.TextureSampleTypeDepth
	case ir.ImageClassStorage:
		return gputypes.TextureSampleTypeUndefined
	}
	switch t.SampledKind {
	case ir.ScalarUint:
		return gputypes.TextureSampleTypeUint
	case ir.ScalarSint:
		return gputypes.TextureSampleTypeSint
	}
	if t.Multisampled {
		return gputypes.TextureSampleTypeUnfilterableFloat
	}
	return gputypes.TextureSampleTypeFloat
}

var storageFormats = map[ir.StorageFormat]gputypes.TextureFormat{
	ir.StorageFormatR8Unorm:       gputypes.TextureFormatR8Unorm,
	ir.StorageFormatR8Snorm:       gputypes.TextureFormatR8Snorm,
	ir.StorageFormatR8Uint:        gputypes.TextureFormatR8Uint,
	ir.StorageFormatR8Sint:        gputypes.TextureFormatR8Sint,
	ir.StorageFormatR16Uint:       gputypes.TextureFormatR16Uint,
	ir.StorageFormatR16Sint:       gputypes.TextureFormatR16Sint,
	ir.StorageFormatR16Float:      gputypes.TextureFormatR16Float,
	ir.StorageFormatRg8Unorm:      gputypes.TextureFormatRG8Unorm,
	ir.StorageFormatRg8Snorm:      gputypes.TextureFormatRG8Snorm,
	ir.StorageFormatRg8Uint:       gputypes.TextureFormatRG8Uint,
	ir.StorageFormatRg8Sint:       gputypes.TextureFormatRG8Sint,
	ir.StorageFormatR32Uint:       gputypes.TextureFormatR32Uint,
	ir.StorageFormatR32Sint:       gputypes.TextureFormatR32Sint,
	ir.StorageFormatR32Float:      gputypes.TextureFormatR32Float,
	ir.StorageFormatRg16Uint:      gputypes.TextureFormatRG16Uint,
	ir.StorageFormatRg16Sint:      gputypes.TextureFormatRG16Sint,
	ir.StorageFormatRg16Float:     gputypes.TextureFormatRG16Float,
	ir.StorageFormatRgba8Unorm:    gputypes.TextureFormatRGBA8Unorm,
	ir.StorageFormatRgba8Snorm:    gputypes.TextureFormatRGBA8Snorm,
	ir.StorageFormatRgba8Uint:     gputypes.TextureFormatRGBA8Uint,
	ir.StorageFormatRgba8Sint:     gputypes.TextureFormatRGBA8Sint,
	ir.StorageFormatBgra8Unorm:    gputypes.TextureFormatBGRA8Unorm,
	ir.StorageFormatRgb10a2Uint:   gputypes.TextureFormatRGB10A2Uint,
	ir.StorageFormatRgb10a2Unorm:  gputypes.TextureFormatRGB10A2Unorm,
	ir.StorageFormatRg11b10Ufloat: gputypes.TextureFormatRG11B10Ufloat,
	ir.StorageFormatRg32Uint:      gputypes.TextureFormatRG32Uint,
	ir.StorageFormatRg32Sint:      gputypes.TextureFormatRG32Sint,
	ir.StorageFormatRg32Float:     gputypes.TextureFormatRG32Float,
	ir.StorageFormatRgba16Uint:    gputypes.TextureFormatRGBA16Uint,
	ir.StorageFormatRgba16Sint:    gputypes.TextureFormatRGBA16Sint,
	ir.StorageFormatRgba16Float:   gputypes.TextureFormatRGBA16Float,
	ir.StorageFormatRgba32Uint:    gputypes.TextureFormatRGBA32Uint,
	ir.StorageFormatRgba32Sint:    gputypes.TextureFormatRGBA32Sint,
	ir.StorageFormatRgba32Float:   gputypes.TextureFormatRGBA32Float,
	ir.StorageFormatR16Unorm:      gputypes.TextureFormatR16Unorm,
	ir.StorageFormatR16Snorm:      gputypes.TextureFormatR16Snorm,
	ir.StorageFormatRg16Unorm:     gputypes.TextureFormatRG16Unorm,
	ir.StorageFormatRg16Snorm:     gputypes.TextureFormatRG16Snorm,
	ir.StorageFormatRgba16Unorm:   gputypes.TextureFormatRGBA16Unorm,
	ir.StorageFormatRgba16Snorm:   gputypes.TextureFormatRGBA16Snorm,
}
