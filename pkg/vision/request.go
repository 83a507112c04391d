package vision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"visionsdk/internal/metrics"
)

// Server endpoints.
const (
	endpointAnalyzeImage  = "analyze_image"
	endpointAnalyzeRaw    = "analyze_raw_image"
	endpointAnalyzeShared = "analyze_image_shared_memory"
	endpointPing          = "ping"
	endpointStop          = "stop"
	endpointVersion       = "version"
)

// analyzeURL builds an analyze URL. context_in_body is a bare flag without
// a value, so it is appended after encoding.
func (i *Instance) analyzeURL(endpoint string, rt ResponseType, data string, extra url.Values) string {
	q := url.Values{}
	q.Set("response_type", string(rt))
	if data != "" {
		q.Set("data", data)
	}
	if i.opts.APIKey != "" {
		q.Set("api_key", i.opts.APIKey)
	}
	for k, v := range extra {
		q[k] = v
	}
	u := i.BaseURL() + "/" + endpoint + "?" + q.Encode()
	if i.opts.ContextInBody {
		u += "&context_in_body"
	}
	return u
}

// do sends req and reads the whole body. Transport errors are returned as
// the client produced them.
func (i *Instance) do(req *http.Request, endpoint string) (*http.Response, []byte, error) {
	start := time.Now()
	resp, err := i.client.Do(req)
	if err != nil {
		metrics.ObserveRequest(endpoint, 0, time.Since(start))
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	metrics.ObserveRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	i.log.Debug().Str("endpoint", endpoint).Int("status", resp.StatusCode).Int("bytes", len(body)).Dur("took", time.Since(start)).Msg("request")
	return resp, body, nil
}

// get issues a GET to path under a timeout derived from ctx.
func (i *Instance) get(ctx context.Context, endpoint, pathAndQuery string, timeout time.Duration) (*http.Response, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.BaseURL()+pathAndQuery, nil)
	if err != nil {
		return nil, nil, err
	}
	return i.do(req, endpoint)
}

// postAnalyze sends one analyze request and decodes the response.
func (i *Instance) postAnalyze(ctx context.Context, endpoint string, rt ResponseType, data string, extra url.Values, body []byte) (*Result, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.analyzeURL(endpoint, rt, data, extra), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, b, err := i.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, b); err != nil {
		return nil, err
	}
	return decodeResponse(rt, i.opts.ContextInBody, resp.Header, b)
}

func checkStatus(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if len(body) > maxErrorBody {
		body = body[len(body)-maxErrorBody:]
	}
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
