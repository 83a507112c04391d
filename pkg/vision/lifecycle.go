package vision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// PingResponse is the server's answer to /ping.
type PingResponse struct {
	StatusCode int
	Body       []byte
}

// Ping checks that the server answers. A timeout is reported as a
// NoConnectionError; other transport errors are returned unchanged.
func (i *Instance) Ping(ctx context.Context, timeout time.Duration) (*PingResponse, error) {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	resp, body, err := i.get(ctx, endpointPing, "/ping", timeout)
	if err != nil {
		return nil, asNoConnection(err)
	}
	return &PingResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// Stop asks an owned server to shut down. It does nothing for an attached
// server or when a stop was already issued, so only the first call sends a
// request. The process is never killed; a timeout is a NoConnectionError.
func (i *Instance) Stop(ctx context.Context, timeout time.Duration) error {
	if i.proc == nil || i.stopKey == "" {
		return nil
	}
	if !i.stopping.CompareAndSwap(false, true) {
		return nil
	}
	err := i.RequestStop(ctx, i.stopKey, timeout)
	fields := map[string]any{"pid": i.proc.PID()}
	if err != nil {
		fields["error"] = err.Error()
		i.log.Warn().Err(err).Msg("stop vision server")
	} else {
		i.log.Info().Int("pid", i.proc.PID()).Msg("vision server stop requested")
	}
	i.events.Publish(Event{Name: EventStop, Port: i.port, Fields: fields})
	return err
}

// RequestStop sends /stop with key regardless of ownership. It is meant for
// tools that stop a server started elsewhere.
func (i *Instance) RequestStop(ctx context.Context, key string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	resp, body, err := i.get(ctx, endpointStop, "/stop?"+url.Values{"key": {key}}.Encode(), timeout)
	if err != nil {
		return asNoConnection(err)
	}
	return checkStatus(resp, body)
}

// Close stops an owned server once and releases the shared-memory segment
// and idle connections, even when stopping fails. Later Analyze calls
// return ErrClosed.
func (i *Instance) Close() error {
	i.closeOnce.Do(func() {
		i.closed.Store(true)
		var errs []error
		if err := i.Stop(context.Background(), DefaultStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
		i.shmMu.Lock()
		if i.seg != nil {
			if err := i.seg.Close(); err != nil {
				errs = append(errs, fmt.Errorf("release shared memory: %w", err))
			}
			i.seg = nil
		}
		i.shmMu.Unlock()
		if i.ownClient {
			i.client.CloseIdleConnections()
		}
		i.closeErr = errors.Join(errs...)
	})
	return i.closeErr
}

// asNoConnection wraps timeouts in a NoConnectionError.
func asNoConnection(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &NoConnectionError{Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &NoConnectionError{Err: err}
	}
	return err
}
