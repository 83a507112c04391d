package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"visionsdk/internal/fakeserver"
	"visionsdk/internal/imagecodec"
	"visionsdk/internal/metrics"
	"visionsdk/internal/shm"
)

func hostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	h, p, err := net.SplitHostPort(strings.TrimPrefix(rawURL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return h, port
}

// attach starts a fake server and returns an instance attached to it.
func attach(t *testing.T, srv *fakeserver.Server, opts Options) *Instance {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	opts.Host, opts.Port = hostPort(t, ts.URL)
	opts.AlreadyRunning = true
	inst, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func defaultFake() *fakeserver.Server {
	return fakeserver.New(map[string]any{
		"processing": false, "error": false, "save": false,
		"imageShape": map[string]any{"height": 1, "width": 1}, "processingTime": 0.5,
	}, []byte("IMG"))
}

func TestNewAttachPings(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	require.Equal(t, 1, srv.Pings())
	require.False(t, inst.Owned())
	require.Nil(t, inst.Exited())
	require.Zero(t, inst.PID())
	require.True(t, strings.HasPrefix(inst.BaseURL(), "http://127.0.0.1:"))
}

func TestNewAttachRequiresPort(t *testing.T) {
	_, err := New(context.Background(), Options{AlreadyRunning: true})
	require.Error(t, err)
}

func TestNewLaunchRequiresProject(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
	_, err = New(context.Background(), Options{ProjectPath: t.TempDir()})
	require.True(t, IsProjectNotFound(err), "got %v", err)
}

func TestAnalyzeInvalidResponseTypeSendsNothing(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	for _, rt := range []ResponseType{"json", "Context", "annotated"} {
		_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("x"), ResponseType: rt})
		require.True(t, IsInvalidResponseType(err), "%s: %v", rt, err)
	}
	// Response type is checked before the payload.
	_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: nil, ResponseType: "bogus"})
	require.True(t, IsInvalidResponseType(err))
	require.Empty(t, srv.Requests())
}

func TestAnalyzeInvalidDataType(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	for _, p := range []Payload{nil, EncodedBytes{}, PixelArray{Height: 1, Width: 1, Channels: 3}} {
		_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: p})
		require.True(t, IsInvalidDataType(err), "%#v: %v", p, err)
	}
	require.Empty(t, srv.Requests())
}

func TestAnalyzeContextRoundTrip(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	res, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("jpeg"), ResponseType: ResponseContext})
	require.NoError(t, err)
	require.Nil(t, res.ImageBytes)
	require.Equal(t, false, res.Context["processing"])
	require.Equal(t, 0.5, res.Context["processingTime"])

	bare, full, err := res.TypedContext()
	require.NoError(t, err)
	require.Nil(t, full)
	require.Equal(t, 1, bare.ImageShape.Width)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "analyze_image", reqs[0].Endpoint)
	require.Equal(t, "context", reqs[0].Query.Get("response_type"))
	require.Equal(t, []byte("jpeg"), reqs[0].Body)
	_, hasData := reqs[0].Query["data"]
	require.False(t, hasData, "empty data must not be sent")
}

func TestAnalyzeFilePathAndData(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{APIKey: "secret"})
	path := t.TempDir() + "/img.png"
	require.NoError(t, os.WriteFile(path, []byte("filebytes"), 0o644))

	res, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: FilePath(path), ResponseType: ResponseImage, Data: "lot 7"})
	require.NoError(t, err)
	require.Equal(t, []byte("IMG"), res.ImageBytes)
	require.Equal(t, "lot 7", res.Context["data"])

	req := srv.Requests()[0]
	require.Equal(t, []byte("filebytes"), req.Body)
	require.Equal(t, "secret", req.Query.Get("api_key"))

	_, err = inst.Analyze(context.Background(), AnalyzeRequest{Image: FilePath(path + ".missing")})
	require.Error(t, err)
}

func TestAnalyzeContextInBody(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{ContextInBody: true})
	res, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("x"), ResponseType: ResponseHeatmap})
	require.NoError(t, err)
	require.Equal(t, []byte("IMG"), res.ImageBytes)
	require.Equal(t, false, res.Context["save"])
	_, marked := srv.Requests()[0].Query["context_in_body"]
	require.True(t, marked)
}

func TestAnalyzeFallsBackWithoutContextHeader(t *testing.T) {
	srv := defaultFake()
	srv.OmitContextHeader = true
	inst := attach(t, srv, Options{})
	res, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("x"), ResponseType: ResponseAnnotatedImage})
	require.NoError(t, err)
	require.Nil(t, res.ImageBytes)
	require.Equal(t, false, res.Context["error"])
}

func TestAnalyzeStatusError(t *testing.T) {
	srv := defaultFake()
	srv.AnalyzeStatus = http.StatusBadRequest
	inst := attach(t, srv, Options{})
	_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("x")})
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %v", err)
	require.Equal(t, http.StatusBadRequest, se.Code)
}

func TestAnalyzeTimeoutIsNotNoConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			return
		}
		time.Sleep(300 * time.Millisecond)
	}))
	defer ts.Close()
	host, port := hostPort(t, ts.URL)
	inst, err := New(context.Background(), Options{Host: host, Port: port, AlreadyRunning: true})
	require.NoError(t, err)
	defer inst.Close()

	_, err = inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("x"), Timeout: 30 * time.Millisecond})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.False(t, IsNoConnection(err))
}

func TestPingTimeoutIsNoConnection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer ts.Close()
	host, port := hostPort(t, ts.URL)
	inst, err := New(context.Background(), Options{Host: host, Port: port, AlreadyRunning: true, SkipPing: true})
	require.NoError(t, err)
	defer inst.Close()

	_, err = inst.Ping(context.Background(), 30*time.Millisecond)
	require.True(t, IsNoConnection(err), "got %v", err)
}

func TestPingConnectionRefusedPropagates(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	host, port := hostPort(t, ts.URL)
	ts.Close()
	inst, err := New(context.Background(), Options{Host: host, Port: port, AlreadyRunning: true, SkipPing: true})
	require.NoError(t, err)
	defer inst.Close()

	_, err = inst.Ping(context.Background(), time.Second)
	require.Error(t, err)
	require.False(t, IsNoConnection(err), "refused connection is not a timeout: %v", err)

	_, err = New(context.Background(), Options{Host: host, Port: port, AlreadyRunning: true})
	require.Error(t, err, "New pings by default")
}

// own marks inst as the owner of a fake process with the given stop key.
func own(inst *Instance, key string) *fakeProc {
	p := scriptedProc(4242, false, nil)
	inst.proc = p
	inst.stopKey = key
	return p
}

func TestStopIsSingleUse(t *testing.T) {
	srv := defaultFake()
	srv.StopKey = "k3y"
	pub := NewMemoryPublisher()
	inst := attach(t, srv, Options{Events: pub})
	p := own(inst, "k3y")
	defer p.Kill()

	require.NoError(t, inst.Stop(context.Background(), time.Second))
	require.NoError(t, inst.Stop(context.Background(), time.Second))
	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close())
	require.Equal(t, 1, srv.StopCalls())
	require.Zero(t, p.kills.Load(), "stop must never kill the process")
	require.Contains(t, pub.Names(), EventStop)
}

func TestStopConcurrentSendsOneRequest(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	p := own(inst, "k")
	defer p.Kill()

	errs := make(chan error, 8)
	for n := 0; n < 8; n++ {
		go func() { errs <- inst.Stop(context.Background(), time.Second) }()
	}
	for n := 0; n < 8; n++ {
		require.NoError(t, <-errs)
	}
	require.Equal(t, 1, srv.StopCalls())
}

func TestStopWithoutOwnedProcessIsNoop(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	require.NoError(t, inst.Stop(context.Background(), time.Second))
	require.NoError(t, inst.Stop(context.Background(), time.Second))
	require.NoError(t, inst.Close())
	require.Zero(t, srv.StopCalls())
}

func TestRequestStopWrongKey(t *testing.T) {
	srv := defaultFake()
	srv.StopKey = "right"
	inst := attach(t, srv, Options{})
	err := inst.RequestStop(context.Background(), "wrong", time.Second)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.Code)
}

func TestServerVersion(t *testing.T) {
	srv := defaultFake()
	srv.Version = "3.19.2\n"
	inst := attach(t, srv, Options{})
	v, err := inst.ServerVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v3.19.2", v)

	missing := defaultFake()
	inst = attach(t, missing, Options{})
	v, err = inst.ServerVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v0.0.0", v)
}

func TestParseServerVersion(t *testing.T) {
	for in, want := range map[string]string{
		"3.18.0":       "v3.18.0",
		" \"3.18\" ":   "v3.18.0",
		"v3.20.1":      "v3.20.1",
		"":             "v0.0.0",
		"<html>404":    "v0.0.0",
		"3.18.0.post":  "v3.18.0.post0",
		"3.18.0.1":     "v3.18.0.1",
		"3.18.1rc1":    "v3.18.1rc1",
		"3.19.0.post1": "v3.19.0.post1",
		"3.18.0.dev2":  "v3.18.0.dev2",
	} {
		if got := parseServerVersion(in); got != want {
			t.Fatalf("%q: got %q want %q", in, got, want)
		}
	}
}

func pixels(h, w int) PixelArray {
	pix := make([]byte, h*w*3)
	for n := range pix {
		pix[n] = byte(n)
	}
	return PixelArray{Height: h, Width: w, Channels: 3, Pix: pix}
}

func TestSharedMemorySelection(t *testing.T) {
	cases := []struct {
		name       string
		version    string
		local      bool
		wantShared bool
	}{
		{"remote host", "3.19.0", false, false},
		{"old server", "3.17.9", true, false},
		{"no version endpoint", "", true, false},
		{"unparsable version", "dev-build", true, false},
		{"threshold", "3.18.0", true, true},
		{"newer", "4.0.1", true, true},
		{"four segments", "3.18.0.1", true, true},
		{"post release", "3.19.0.post1", true, true},
		{"next patch candidate", "3.18.1rc1", true, true},
		{"threshold candidate", "3.18.0rc2", true, false},
		{"threshold dev build", "3.18.0.dev2", true, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.wantShared && !shm.Supported() {
				t.Skip("named shared memory not supported on this platform")
			}
			srv := defaultFake()
			srv.Version = c.version
			inst := attach(t, srv, Options{})
			inst.localCheck = func(string) (bool, error) { return c.local, nil }

			px := pixels(2, 3)
			_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: px})
			require.NoError(t, err)
			req := srv.Requests()[0]
			require.Equal(t, "2", req.Query.Get("height"))
			require.Equal(t, "3", req.Query.Get("width"))
			if c.wantShared {
				require.Equal(t, "analyze_image_shared_memory", req.Endpoint)
				require.True(t, strings.HasPrefix(req.Query.Get("name"), "psm_"))
				require.Equal(t, px.Pix, req.Shared)
				require.Empty(t, req.Body)
			} else {
				require.Equal(t, "analyze_raw_image", req.Endpoint)
				require.Equal(t, px.Pix, req.Body)
			}
		})
	}
}

func TestSharedMemorySegmentFollowsShape(t *testing.T) {
	if !shm.Supported() {
		t.Skip("named shared memory not supported on this platform")
	}
	srv := defaultFake()
	srv.Version = "3.18.0"
	inst := attach(t, srv, Options{})
	inst.localCheck = func(string) (bool, error) { return true, nil }
	before := testutil.ToFloat64(metrics.SharedMemoryAllocations)

	for _, px := range []PixelArray{pixels(2, 2), pixels(2, 2), pixels(4, 1)} {
		_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: px})
		require.NoError(t, err)
	}
	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	require.Equal(t, reqs[0].Query.Get("name"), reqs[1].Query.Get("name"), "same shape reuses the segment")
	require.NotEqual(t, reqs[1].Query.Get("name"), reqs[2].Query.Get("name"), "new shape re-creates the segment")
	require.Equal(t, before+2, testutil.ToFloat64(metrics.SharedMemoryAllocations))

	name := reqs[2].Query.Get("name")
	require.NoError(t, inst.Close())
	_, err := shm.ReadNamed(name)
	require.Error(t, err, "segment must be unlinked on Close")
}

func TestAnalyzeAfterCloseLeavesNoSegment(t *testing.T) {
	srv := defaultFake()
	srv.Version = "3.18.0"
	inst := attach(t, srv, Options{})
	inst.localCheck = func(string) (bool, error) { return true, nil }
	before := testutil.ToFloat64(metrics.SharedMemoryAllocations)

	require.NoError(t, inst.Close())
	for _, p := range []Payload{pixels(2, 2), EncodedBytes("x")} {
		_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: p})
		require.ErrorIs(t, err, ErrClosed)
	}
	// A shared-memory call that passed the first check before Close must
	// not allocate either.
	_, err := inst.analyzeShared(context.Background(), pixels(2, 2), ResponseContext, "")
	require.ErrorIs(t, err, ErrClosed)

	require.Nil(t, inst.seg)
	require.Empty(t, srv.Requests())
	require.Equal(t, before, testutil.ToFloat64(metrics.SharedMemoryAllocations))
}

func TestVersionErrorFallsBackToRaw(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	inst.localCheck = func(string) (bool, error) { return true, nil }
	// Point version queries at a closed port.
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	_, deadPort := hostPort(t, dead.URL)
	live := inst.port
	inst.port = deadPort
	ok := inst.canUseSharedMemory(context.Background())
	inst.port = live
	require.False(t, ok)
	inst.verMu.Lock()
	checked := inst.shmChecked
	inst.verMu.Unlock()
	require.Equal(t, !shm.Supported(), checked, "a failed version query is not cached")
}

func TestResultDecodeImage(t *testing.T) {
	png, err := imagecodec.EncodePNG(image.NewNRGBA(image.Rect(0, 0, 3, 2)))
	require.NoError(t, err)
	srv := defaultFake()
	srv.Image = png
	inst := attach(t, srv, Options{})

	res, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("x"), ResponseType: ResponseImage})
	require.NoError(t, err)
	img, err := res.DecodeImage()
	require.NoError(t, err)
	require.Equal(t, 3, img.Bounds().Dx())

	res.ImageBytes = []byte("not an image at all")
	_, err = res.DecodeImage()
	require.True(t, IsMissingImageCodec(err), "got %v", err)

	res, err = inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes("x")})
	require.NoError(t, err)
	_, err = res.DecodeImage()
	require.ErrorIs(t, err, ErrNoImage)
}

func TestAnalyzeRandom(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	inst.localCheck = func(string) (bool, error) { return false, nil }
	_, err := inst.AnalyzeRandom(context.Background(), 4, 5, 3, ResponseContext, "warmup")
	require.NoError(t, err)
	req := srv.Requests()[0]
	require.Equal(t, "analyze_raw_image", req.Endpoint)
	require.Len(t, req.Body, 60)
	require.Equal(t, "warmup", req.Query.Get("data"))

	_, err = inst.AnalyzeRandom(context.Background(), 0, 5, 3, ResponseContext, "")
	require.True(t, IsInvalidDataType(err))
}

func TestRequestMetrics(t *testing.T) {
	srv := defaultFake()
	inst := attach(t, srv, Options{})
	before := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("analyze_image", "200"))
	_, err := inst.Analyze(context.Background(), AnalyzeRequest{Image: EncodedBytes(bytes.Repeat([]byte("a"), 10))})
	require.NoError(t, err)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("analyze_image", "200")))
}
