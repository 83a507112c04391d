package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"visionsdk/internal/imagecodec"
	"visionsdk/pkg/vision"
)

// Actions invoked by the cobra tree; tests swap them.
var (
	fnStart   = runStart
	fnAnalyze = runAnalyze
	fnPing    = runPing
	fnVersion = runVersion
	fnStop    = runStop

	openInstance  = vision.New
	notifyContext = signal.NotifyContext
)

// attachTo turns o into options for an already running server.
func attachTo(o vision.Options) vision.Options {
	o.AlreadyRunning = true
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	return o
}

// closeInto closes inst and joins its error into *errp.
func closeInto(inst *vision.Instance, errp *error) {
	if err := inst.Close(); err != nil {
		*errp = errors.Join(*errp, err)
	}
}

func runStart(ctx context.Context, out io.Writer, log zerolog.Logger, opts vision.Options) (err error) {
	inst, err := openInstance(ctx, opts)
	if err != nil {
		return err
	}
	defer closeInto(inst, &err)
	fmt.Fprintf(out, "vision server running at %s\n", inst.BaseURL())
	fmt.Fprintf(out, "pid %d, stop key %s\n", inst.PID(), inst.StopKey())

	sigCtx, stop := notifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-sigCtx.Done():
		log.Info().Msg("shutting down vision server")
	case <-inst.Exited():
		return fmt.Errorf("vision server exited unexpectedly")
	}
	return nil
}

// analyzeInput is one analyze invocation after flag validation.
type analyzeInput struct {
	Images       []string
	Random       *[3]int
	ResponseType vision.ResponseType
	Data         string
	Timeout      time.Duration
	Decode       bool
	Raw          bool
	Out          string
}

func runAnalyze(ctx context.Context, out io.Writer, g *globals, opts vision.Options, in analyzeInput) (err error) {
	if opts.ProjectPath == "" || opts.AlreadyRunning {
		opts = attachTo(opts)
	}
	opts.Logger = &g.log
	inst, err := openInstance(ctx, opts)
	if err != nil {
		return err
	}
	defer closeInto(inst, &err)

	if in.Random != nil {
		s := in.Random
		res, err := inst.AnalyzeRandom(ctx, s[0], s[1], s[2], in.ResponseType, in.Data)
		if err != nil {
			return fmt.Errorf("analyze random %dx%dx%d: %w", s[0], s[1], s[2], err)
		}
		return emitResult(out, "", res, in)
	}

	for _, path := range in.Images {
		payload, err := loadPayload(path, in.Decode)
		if err != nil {
			return err
		}
		res, err := inst.Analyze(ctx, vision.AnalyzeRequest{
			Image:        payload,
			ResponseType: in.ResponseType,
			Data:         in.Data,
			Timeout:      in.Timeout,
		})
		if err != nil {
			return fmt.Errorf("analyze %s: %w", path, err)
		}
		label := ""
		if len(in.Images) > 1 {
			label = path
		}
		if err := emitResult(out, label, res, in); err != nil {
			return err
		}
	}
	return nil
}

// loadPayload sends the file as is, or decoded to raw pixels.
func loadPayload(path string, decode bool) (vision.Payload, error) {
	if !decode {
		return vision.FilePath(path), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img, err := imagecodec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return vision.PixelArrayFromImage(img)
}

// emitResult prints the context and writes the image when asked to.
func emitResult(out io.Writer, label string, res *vision.Result, in analyzeInput) error {
	if label != "" {
		fmt.Fprintf(out, "%s:\n", label)
	}
	if in.Raw {
		if _, err := out.Write(append(res.ContextJSON(), '\n')); err != nil {
			return err
		}
	} else {
		b, err := json.MarshalIndent(res.Context, "", "  ")
		if err != nil {
			return fmt.Errorf("format context: %w", err)
		}
		fmt.Fprintln(out, string(b))
	}
	if in.Out == "" {
		return nil
	}
	if !res.HasImage() {
		return fmt.Errorf("server returned no image for %s", in.ResponseType)
	}
	if err := os.WriteFile(in.Out, res.ImageBytes, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}

// parseShape parses HxWxC.
func parseShape(s string) ([3]int, error) {
	var shape [3]int
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 3 {
		return shape, fmt.Errorf("invalid shape %q, want HxWxC", s)
	}
	for n, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v <= 0 {
			return shape, fmt.Errorf("invalid shape %q, want HxWxC", s)
		}
		shape[n] = v
	}
	return shape, nil
}

func runPing(ctx context.Context, out io.Writer, opts vision.Options) (err error) {
	opts.SkipPing = true
	inst, err := openInstance(ctx, opts)
	if err != nil {
		return err
	}
	defer closeInto(inst, &err)
	resp, err := inst.Ping(ctx, vision.DefaultPingTimeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d %s\n", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ping returned status %d", resp.StatusCode)
	}
	return nil
}

func runVersion(ctx context.Context, out io.Writer, opts vision.Options) (err error) {
	opts.SkipPing = true
	inst, err := openInstance(ctx, opts)
	if err != nil {
		return err
	}
	defer closeInto(inst, &err)
	v, err := inst.ServerVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strings.TrimPrefix(v, "v"))
	return nil
}

func runStop(ctx context.Context, out io.Writer, opts vision.Options, key string) (err error) {
	opts.SkipPing = true
	inst, err := openInstance(ctx, opts)
	if err != nil {
		return err
	}
	defer closeInto(inst, &err)
	if err := inst.RequestStop(ctx, key, vision.DefaultStopTimeout); err != nil {
		return err
	}
	fmt.Fprintf(out, "stop requested for %s\n", inst.BaseURL())
	return nil
}
