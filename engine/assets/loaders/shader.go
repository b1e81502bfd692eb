package loaders

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
)

// Stage suffixes of WGSL sources. A program named "blur" lives in
// blur.vert.wgsl and blur.frag.wgsl, or in blur.comp.wgsl.
const (
	VertexSuffix   = ".vert.wgsl"
	FragmentSuffix = ".frag.wgsl"
	ComputeSuffix  = ".comp.wgsl"
)

type ShaderLoader struct{}

// ProgramName returns the program a stage file belongs to, or "" for
// other files.
func ProgramName(path string) string {
	base := filepath.Base(path)
	for _, suffix := range []string{VertexSuffix, FragmentSuffix, ComputeSuffix} {
		if strings.HasSuffix(base, suffix) {
			return strings.TrimSuffix(base, suffix)
		}
	}
	return ""
}

// Load reads every stage of the program at path, given without suffix.
func (sl *ShaderLoader) Load(path string) (any, error) {
	src := shader.Source{Label: filepath.Base(path)}
	found := false
	for _, stage := range []struct {
		suffix string
		dst    *string
	}{
		{VertexSuffix, &src.Vertex},
		{FragmentSuffix, &src.Fragment},
		{ComputeSuffix, &src.Compute},
	} {
		data, err := os.ReadFile(path + stage.suffix)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %v: %w", path+stage.suffix, err, core.ErrExternal)
		}
		*stage.dst = string(data)
		found = true
	}
	if !found {
		return nil, fmt.Errorf("no shader stage for %s: %w", path, core.ErrInvalidArg)
	}
	return src, nil
}
