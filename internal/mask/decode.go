package mask

import (
	"fmt"
	"image"
	"io"
	"os"

	// Register decoders for the mask formats segmentation tools commonly write.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeFile reads a mask image from disk. See Decode.
func DecodeFile(path string) (Source, int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads an encoded mask image and returns it as a Source together with its dimensions.
func Decode(r io.Reader) (Source, int, int, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrInvalidMaskFormat, err)
	}
	src, w, h := FromImage(img)
	if w == 0 || h == 0 {
		return nil, 0, 0, fmt.Errorf("%w: empty %s image", ErrInvalidMaskFormat, format)
	}
	return src, w, h, nil
}

// FromImage picks the encoding for a decoded mask image.
//
// Images with transparency are alpha-painted silhouettes and become an AlphaRaster.
// Fully opaque images are rendered bitmaps (white subject on black) and become a
// ProbabilityRaster built from the red channel.
func FromImage(img image.Image) (Source, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0
	}

	pix := make([]uint8, w*h*4)
	opaque := true
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := (y*w + x) * 4
			pix[i+0] = uint8(r >> 8)
			pix[i+1] = uint8(g >> 8)
			pix[i+2] = uint8(bl >> 8)
			pix[i+3] = uint8(a >> 8)
			if a != 0xffff {
				opaque = false
			}
		}
	}

	if !opaque {
		return AlphaRaster{Pix: pix}, w, h
	}

	red := make([]uint8, w*h)
	for i := range red {
		red[i] = pix[i*4]
	}
	return ProbabilityRaster{Bytes: red}, w, h
}
