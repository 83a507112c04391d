package vision

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ResponseType selects what the server returns besides the context.
type ResponseType string

const (
	ResponseContext        ResponseType = "context"
	ResponseImage          ResponseType = "image"
	ResponseAnnotatedImage ResponseType = "annotated_image"
	ResponseHeatmap        ResponseType = "heatmap"
)

// ResponseTypes lists the accepted response types.
var ResponseTypes = []ResponseType{ResponseContext, ResponseImage, ResponseAnnotatedImage, ResponseHeatmap}

// ParseResponseType validates s. Empty means ResponseContext.
func ParseResponseType(s string) (ResponseType, error) {
	rt := ResponseType(strings.TrimSpace(s))
	if rt == "" {
		return ResponseContext, nil
	}
	if err := rt.Validate(); err != nil {
		return "", err
	}
	return rt, nil
}

// Validate returns an InvalidResponseTypeError for unknown types.
func (rt ResponseType) Validate() error {
	for _, v := range ResponseTypes {
		if rt == v {
			return nil
		}
	}
	return &InvalidResponseTypeError{ResponseType: string(rt)}
}

// HasImage reports whether responses of this type carry an image.
func (rt ResponseType) HasImage() bool { return rt != ResponseContext }

// Response headers carrying the context.
const (
	headerImageLen      = "ImageLen"
	headerContextBase64 = "ContextBase64utf"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// decodeResponse splits a response into image bytes and the context.
//
//   - context: the body is the JSON context.
//   - context in body: the first ImageLen bytes are the image and the rest
//     is the context; without ImageLen the whole body is the context.
//   - otherwise: the body is the image and ContextBase64utf holds the
//     context; without the header the whole body is the context.
func decodeResponse(rt ResponseType, contextInBody bool, header http.Header, body []byte) (*Result, error) {
	if !rt.HasImage() {
		return newResult(nil, body)
	}
	if contextInBody {
		v := strings.TrimSpace(header.Get(headerImageLen))
		if v == "" {
			return newResult(nil, body)
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid %s header %q", headerImageLen, v)
		}
		if n > len(body) {
			return nil, fmt.Errorf("%s %d exceeds body length %d", headerImageLen, n, len(body))
		}
		return newResult(body[:n], body[n:])
	}
	v := header.Get(headerContextBase64)
	if v == "" {
		return newResult(nil, body)
	}
	raw, err := decodeBase64(v)
	if err != nil {
		return nil, fmt.Errorf("decode %s header: %w", headerContextBase64, err)
	}
	return newResult(body, raw)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if rb, rerr := base64.RawStdEncoding.DecodeString(s); rerr == nil {
			return rb, nil
		}
		return nil, err
	}
	return b, nil
}

func newResult(img, rawContext []byte) (*Result, error) {
	var ctx map[string]any
	if err := json.Unmarshal(rawContext, &ctx); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	r := &Result{Context: ctx, raw: append([]byte(nil), rawContext...)}
	if img != nil {
		r.ImageBytes = make([]byte, len(img))
		copy(r.ImageBytes, img)
	}
	return r, nil
}
