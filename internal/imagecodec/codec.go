// Package imagecodec decodes the encoded images returned by the vision server
// and converts between image.Image and packed 8-bit pixel buffers.
//
// Packed buffers are row-major, interleaved, with channels in OpenCV order
// (BGR for 3 channels, BGRA for 4, a single luma channel for 1). This is the
// layout the server expects for raw and shared-memory payloads.
package imagecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	// imaging registers png, jpeg, gif, bmp and tiff; webp needs an explicit import.
	_ "golang.org/x/image/webp"
)

// ErrUnknownFormat is returned when no registered decoder recognizes the data.
var ErrUnknownFormat = errors.New("imagecodec: no decoder registered for image format")

// Decode decodes an encoded image (png, jpeg, gif, bmp, tiff, webp).
func Decode(b []byte) (image.Image, error) {
	if len(b) == 0 {
		return nil, errors.New("imagecodec: empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnknownFormat
		}
		return nil, fmt.Errorf("imagecodec: decode: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("imagecodec: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Pack converts img into a packed buffer with the given channel count
// (1, 3 or 4). It returns the buffer with its height and width.
func Pack(img image.Image, channels int) (pix []byte, height, width int, err error) {
	switch channels {
	case 1, 3, 4:
	default:
		return nil, 0, 0, fmt.Errorf("imagecodec: unsupported channel count %d", channels)
	}
	src := img
	if channels == 1 {
		src = imaging.Grayscale(img)
	}
	n := imaging.Clone(src)
	width, height = n.Bounds().Dx(), n.Bounds().Dy()
	pix = make([]byte, 0, width*height*channels)
	for y := 0; y < height; y++ {
		row := n.Pix[y*n.Stride : y*n.Stride+width*4]
		for x := 0; x < width; x++ {
			r, g, b, a := row[x*4], row[x*4+1], row[x*4+2], row[x*4+3]
			switch channels {
			case 1:
				pix = append(pix, r)
			case 3:
				pix = append(pix, b, g, r)
			case 4:
				pix = append(pix, b, g, r, a)
			}
		}
	}
	return pix, height, width, nil
}

// Unpack is the inverse of Pack.
func Unpack(pix []byte, height, width, channels int) (image.Image, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("imagecodec: invalid shape %dx%d", height, width)
	}
	if len(pix) != height*width*channels {
		return nil, fmt.Errorf("imagecodec: buffer has %d bytes, shape needs %d", len(pix), height*width*channels)
	}
	switch channels {
	case 1:
		g := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(g.Pix[y*g.Stride:y*g.Stride+width], pix[y*width:(y+1)*width])
		}
		return g, nil
	case 3, 4:
		out := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := (y*width + x) * channels
				c := color.NRGBA{R: pix[i+2], G: pix[i+1], B: pix[i], A: 255}
				if channels == 4 {
					c.A = pix[i+3]
				}
				out.SetNRGBA(x, y, c)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("imagecodec: unsupported channel count %d", channels)
	}
}
