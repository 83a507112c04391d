package vision

import (
	"errors"
	"image"

	"visionsdk/internal/imagecodec"
	"visionsdk/pkg/types"
)

// Result is the outcome of one analysis. ImageBytes is nil for context-only
// responses. Treat a Result as read-only.
type Result struct {
	ImageBytes []byte
	Context    map[string]any

	raw []byte
}

// HasImage reports whether the server returned an image.
func (r *Result) HasImage() bool { return r.ImageBytes != nil }

// ContextJSON returns the context exactly as the server sent it.
func (r *Result) ContextJSON() []byte { return append([]byte(nil), r.raw...) }

// DecodeImage decodes ImageBytes. It returns ErrNoImage when there is no
// image and a MissingImageCodecError when the format has no decoder.
func (r *Result) DecodeImage() (image.Image, error) {
	if r.ImageBytes == nil {
		return nil, ErrNoImage
	}
	img, err := imagecodec.Decode(r.ImageBytes)
	if err != nil {
		if errors.Is(err, imagecodec.ErrUnknownFormat) {
			return nil, &MissingImageCodecError{Err: err}
		}
		return nil, err
	}
	return img, nil
}

// TypedContext decodes the context into the schema its processing flag selects.
func (r *Result) TypedContext() (*types.BareContext, *types.FullContext, error) {
	return types.DecodeContext(r.raw)
}

// FullContext decodes the context of a project with processing enabled.
func (r *Result) FullContext() (*types.FullContext, error) {
	return types.DecodeFullContext(r.raw)
}
