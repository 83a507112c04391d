package vision

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"strconv"
	"time"

	"visionsdk/internal/metrics"
	"visionsdk/internal/shm"
)

// AnalyzeRequest is one image submitted for analysis.
type AnalyzeRequest struct {
	Image Payload
	// ResponseType defaults to ResponseContext.
	ResponseType ResponseType
	// Data is passed to the project and echoed in the context under "data".
	Data string
	// Timeout defaults to DefaultAnalyzeTimeout.
	Timeout time.Duration
}

// errSharedUnavailable marks a shared-memory attempt that failed before any
// request was sent.
var errSharedUnavailable = errors.New("shared memory unavailable")

// Analyze sends an image and returns the server's result. The response type
// and payload are validated before anything is sent. Transport errors,
// timeouts included, are returned unchanged. After Close it returns
// ErrClosed.
func (i *Instance) Analyze(ctx context.Context, req AnalyzeRequest) (*Result, error) {
	if i.closed.Load() {
		return nil, ErrClosed
	}
	rt := req.ResponseType
	if rt == "" {
		rt = ResponseContext
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	p, err := preparePayload(req.Image)
	if err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultAnalyzeTimeout
	}

	switch x := p.(type) {
	case FilePath:
		b, err := os.ReadFile(string(x))
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return i.postAnalyze(ctx, endpointAnalyzeImage, rt, req.Data, nil, b)

	case EncodedBytes:
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return i.postAnalyze(ctx, endpointAnalyzeImage, rt, req.Data, nil, x)

	case PixelArray:
		// The version query has its own timeout.
		useShared := i.canUseSharedMemory(ctx)
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if useShared {
			res, err := i.analyzeShared(ctx, x, rt, req.Data)
			if !errors.Is(err, errSharedUnavailable) {
				return res, err
			}
			i.log.Warn().Err(err).Msg("shared memory analyze unavailable, sending raw pixels")
		}
		return i.postAnalyze(ctx, endpointAnalyzeRaw, rt, req.Data, shapeQuery(x), x.Pix)
	}
	return nil, &InvalidDataTypeError{Type: fmt.Sprintf("%T", p)}
}

// AnalyzeRandom sends random noise of the given shape. It is handy for
// warming up models and measuring throughput.
func (i *Instance) AnalyzeRandom(ctx context.Context, height, width, channels int, rt ResponseType, data string) (*Result, error) {
	if height <= 0 || width <= 0 || channels <= 0 {
		return nil, &InvalidDataTypeError{Type: "PixelArray", Reason: fmt.Sprintf("invalid shape %dx%dx%d", height, width, channels)}
	}
	pix := make([]byte, height*width*channels)
	for n := range pix {
		pix[n] = byte(rand.Intn(256))
	}
	return i.Analyze(ctx, AnalyzeRequest{
		Image:        PixelArray{Height: height, Width: width, Channels: channels, Pix: pix},
		ResponseType: rt,
		Data:         data,
	})
}

// analyzeShared copies the pixels into the instance segment and asks the
// server to read them from there. The segment is re-created when the shape
// changes; the lock is held until the server has answered.
func (i *Instance) analyzeShared(ctx context.Context, p PixelArray, rt ResponseType, data string) (*Result, error) {
	i.shmMu.Lock()
	defer i.shmMu.Unlock()
	// Close marks the instance before taking shmMu, so no segment can be
	// created after it has released the last one.
	if i.closed.Load() {
		return nil, ErrClosed
	}

	shape := [3]int{p.Height, p.Width, p.Channels}
	if i.seg == nil || i.segShape != shape {
		if i.seg != nil {
			if err := i.seg.Close(); err != nil {
				i.log.Warn().Err(err).Str("segment", i.seg.Name()).Msg("release shared memory")
			}
			i.seg = nil
		}
		seg, err := shm.Create(p.Size())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errSharedUnavailable, err)
		}
		metrics.SharedMemoryAllocations.Inc()
		i.log.Debug().Str("segment", seg.Name()).Int("size", seg.Size()).Msg("shared memory allocated")
		i.seg = seg
		i.segShape = shape
	}
	copy(i.seg.Bytes(), p.Pix)

	q := shapeQuery(p)
	q.Set("name", i.seg.Name())
	return i.postAnalyze(ctx, endpointAnalyzeShared, rt, data, q, nil)
}

func shapeQuery(p PixelArray) url.Values {
	q := url.Values{}
	q.Set("height", strconv.Itoa(p.Height))
	q.Set("width", strconv.Itoa(p.Width))
	return q
}
