package engine

import (
	"fmt"
	"image"
	"os"

	"github.com/spaghettifunk/gpuctx/engine/core"
	"golang.org/x/image/bmp"
)

// WriteCapture stores an RGBA8 capture buffer of width x height pixels, top
// row first, as a BMP file.
func WriteCapture(path string, buf []byte, width, height int) error {
	if len(buf) < width*height*4 {
		return fmt.Errorf("capture buffer holds %d bytes, %dx%d needs %d: %w", len(buf), width, height, width*height*4, core.ErrInvalidArg)
	}
	img := &image.RGBA{
		Pix:    buf[:width*height*4],
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %s: %v: %w", path, err, core.ErrExternal)
	}
	if err := bmp.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("could not encode %s: %v: %w", path, err, core.ErrExternal)
	}
	return f.Close()
}
