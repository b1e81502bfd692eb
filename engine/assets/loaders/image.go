package loaders

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/spaghettifunk/gpuctx/engine/core"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type ImageLoader struct {
	// FlipY stores the bottom row first, matching texture coordinates with
	// a bottom-left origin.
	FlipY bool
}

// Load decodes an image file into tightly packed RGBA8.
func (il *ImageLoader) Load(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, core.ErrExternal)
	}
	defer f.Close()
	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %v: %w", path, err, core.ErrInvalidArg)
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	if il.FlipY {
		flipRows(dst.Pix, dst.Stride, b.Dy())
	}
	core.LogDebug("loaded %s image %s (%dx%d)", format, path, b.Dx(), b.Dy())
	return dst, nil
}

func flipRows(pix []byte, stride, rows int) {
	tmp := make([]byte, stride)
	for top, bottom := 0, rows-1; top < bottom; top, bottom = top+1, bottom-1 {
		t := pix[top*stride : (top+1)*stride]
		b := pix[bottom*stride : (bottom+1)*stride]
		copy(tmp, t)
		copy(t, b)
		copy(b, tmp)
	}
}
