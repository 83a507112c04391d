package vision

import (
	"fmt"
	"image"

	"visionsdk/internal/imagecodec"
)

// Payload is the image sent for analysis. It is one of FilePath,
// EncodedBytes or PixelArray.
type Payload interface {
	payload()
}

// FilePath sends the bytes of an encoded image file.
type FilePath string

// EncodedBytes sends an encoded image (png, jpeg, ...) as is.
type EncodedBytes []byte

// PixelArray is a decoded 8-bit image, row-major with interleaved channels
// in BGR order. Local servers receive it through shared memory.
type PixelArray struct {
	Height   int
	Width    int
	Channels int
	Pix      []byte
}

func (FilePath) payload()     {}
func (EncodedBytes) payload() {}
func (PixelArray) payload()   {}

// NewPixelArray wraps pix, checking that its length matches the shape.
func NewPixelArray(height, width, channels int, pix []byte) (PixelArray, error) {
	p := PixelArray{Height: height, Width: width, Channels: channels, Pix: pix}
	if err := p.validate(); err != nil {
		return PixelArray{}, err
	}
	return p, nil
}

// PixelArrayFromImage packs img into a 3-channel BGR PixelArray.
func PixelArrayFromImage(img image.Image) (PixelArray, error) {
	if img == nil {
		return PixelArray{}, &InvalidDataTypeError{Type: "image.Image", Reason: "nil image"}
	}
	pix, h, w, err := imagecodec.Pack(img, 3)
	if err != nil {
		return PixelArray{}, &InvalidDataTypeError{Type: fmt.Sprintf("%T", img), Reason: err.Error()}
	}
	return PixelArray{Height: h, Width: w, Channels: 3, Pix: pix}, nil
}

// Size returns the number of bytes the shape needs.
func (p PixelArray) Size() int { return p.Height * p.Width * p.Channels }

func (p PixelArray) validate() error {
	if p.Height <= 0 || p.Width <= 0 {
		return &InvalidDataTypeError{Type: "PixelArray", Reason: fmt.Sprintf("invalid shape %dx%d", p.Height, p.Width)}
	}
	switch p.Channels {
	case 1, 3, 4:
	default:
		return &InvalidDataTypeError{Type: "PixelArray", Reason: fmt.Sprintf("unsupported channel count %d", p.Channels)}
	}
	if len(p.Pix) != p.Size() {
		return &InvalidDataTypeError{Type: "PixelArray", Reason: fmt.Sprintf("buffer has %d bytes, shape needs %d", len(p.Pix), p.Size())}
	}
	return nil
}

// PayloadFrom converts a dynamically typed image into a Payload. It accepts
// string (a file path), []byte (encoded image), image.Image, PixelArray and
// Payload values; anything else is an InvalidDataTypeError.
func PayloadFrom(v any) (Payload, error) {
	switch x := v.(type) {
	case nil:
		return nil, &InvalidDataTypeError{Type: "nil"}
	case *PixelArray:
		if x == nil {
			return nil, &InvalidDataTypeError{Type: "*PixelArray", Reason: "nil"}
		}
		return *x, nil
	case Payload:
		return x, nil
	case string:
		return FilePath(x), nil
	case []byte:
		return EncodedBytes(x), nil
	case image.Image:
		return PixelArrayFromImage(x)
	default:
		return nil, &InvalidDataTypeError{Type: fmt.Sprintf("%T", v)}
	}
}

// preparePayload rejects payloads that cannot be sent and dereferences
// *PixelArray.
func preparePayload(p Payload) (Payload, error) {
	switch x := p.(type) {
	case nil:
		return nil, &InvalidDataTypeError{Type: "nil"}
	case FilePath:
		if x == "" {
			return nil, &InvalidDataTypeError{Type: "FilePath", Reason: "empty path"}
		}
	case EncodedBytes:
		if len(x) == 0 {
			return nil, &InvalidDataTypeError{Type: "EncodedBytes", Reason: "empty"}
		}
	case PixelArray:
		if err := x.validate(); err != nil {
			return nil, err
		}
	case *PixelArray:
		if x == nil {
			return nil, &InvalidDataTypeError{Type: "*PixelArray", Reason: "nil"}
		}
		return preparePayload(*x)
	default:
		return nil, &InvalidDataTypeError{Type: fmt.Sprintf("%T", p)}
	}
	return p, nil
}
