package vision

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"visionsdk/internal/metrics"
)

// launchState is a step of the launch loop:
// spawning -> polling -> {ready, portConflict -> spawning, failed}.
type launchState int

const (
	stateSpawning launchState = iota
	statePolling
	statePortConflict
	stateReady
	stateFailed
)

func (s launchState) String() string {
	switch s {
	case stateSpawning:
		return "spawning"
	case statePolling:
		return "polling"
	case statePortConflict:
		return "port_conflict"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// outputTailLines is how much output a LaunchFailedError keeps.
	outputTailLines = 20
	// exitGrace is how long output is still read after the process exited
	// while something else keeps the pipe open.
	exitGrace = 500 * time.Millisecond
)

// launcher runs the server until it reports readiness.
type launcher struct {
	bin     string
	project string
	host    string
	// pinned is set when the caller chose the port; conflicts then fail.
	pinned  bool
	opts    Options
	spawn   spawnFunc
	newPort func() (int, error)
	log     zerolog.Logger
	events  EventPublisher
}

// launched is a server that reported readiness.
type launched struct {
	proc    process
	port    int
	stopKey string
	lines   *lineReader
}

// run launches the server on port. It has no timeout of its own; cancel
// ctx to give up, which kills the child.
func (l *launcher) run(ctx context.Context, port int) (*launched, error) {
	stopKey, err := newStopKey()
	if err != nil {
		return nil, err
	}
	state := stateSpawning
	var (
		attempts int
		proc     process
		lr       *lineReader
		tail     []string
		pollErr  error
	)
	for {
		l.log.Debug().Stringer("state", state).Int("port", port).Int("attempt", attempts).Msg("launch")
		switch state {
		case stateSpawning:
			attempts++
			proc, err = l.spawn(l.bin, buildArgs(l.project, port, l.host, stopKey, l.opts))
			if err != nil {
				metrics.ObserveLaunch(metrics.LaunchFailed)
				return nil, &LaunchFailedError{Err: err}
			}
			l.log.Info().Int("pid", proc.PID()).Str("host", l.host).Int("port", port).Msg("vision server started")
			l.events.Publish(Event{Name: EventSpawnStart, Port: port, Fields: map[string]any{"pid": proc.PID(), "attempt": attempts}})
			lr = newLineReader(proc.Output())
			state = statePolling

		case statePolling:
			state, tail, pollErr = l.poll(ctx, proc, lr)

		case stateReady:
			metrics.ObserveLaunch(metrics.LaunchReady)
			l.log.Info().Int("pid", proc.PID()).Int("port", port).Msg("vision server ready")
			l.events.Publish(Event{Name: EventSpawnReady, Port: port, Fields: map[string]any{"pid": proc.PID()}})
			return &launched{proc: proc, port: port, stopKey: stopKey, lines: lr}, nil

		case statePortConflict:
			l.abandon(proc, lr)
			l.events.Publish(Event{Name: EventPortConflict, Port: port, Fields: map[string]any{"pinned": l.pinned}})
			if l.pinned || attempts > max(l.opts.MaxPortRetries, 0) {
				metrics.ObserveLaunch(metrics.LaunchPortAllocated)
				return nil, &PortAllocatedError{Port: port, Attempts: attempts}
			}
			next, err := l.newPort()
			if err != nil {
				metrics.ObserveLaunch(metrics.LaunchFailed)
				return nil, err
			}
			l.log.Warn().Int("port", port).Int("next_port", next).Msg("port already in use, retrying")
			metrics.PortRetriesTotal.Inc()
			port = next
			state = stateSpawning

		case stateFailed:
			if pollErr != nil {
				// Canceled by the caller.
				l.abandon(proc, lr)
				metrics.ObserveLaunch(metrics.LaunchCanceled)
				return nil, pollErr
			}
			lr.stop()
			werr := proc.Wait()
			metrics.ObserveLaunch(metrics.LaunchFailed)
			l.log.Error().Err(werr).Int("pid", proc.PID()).Strs("tail", tail).Msg("vision server exited before ready")
			l.events.Publish(Event{Name: EventSpawnExit, Port: port, Fields: map[string]any{"pid": proc.PID(), "before_ready": true}})
			if werr == nil {
				werr = errors.New("exited before ready")
			}
			return nil, &LaunchFailedError{Err: werr, Output: tail}
		}
	}
}

// poll reads output until a marker decides the next state. A non-nil error
// is the context error.
func (l *launcher) poll(ctx context.Context, proc process, lr *lineReader) (launchState, []string, error) {
	m := l.opts.Markers
	modelsReady := !l.opts.WaitForModels
	exited := proc.Done()
	var (
		tail    []string
		running bool
		grace   <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return stateFailed, tail, ctx.Err()

		case line, ok := <-lr.lines:
			if !ok {
				// EOF: the process is gone or about to be.
				select {
				case <-proc.Done():
				case <-ctx.Done():
					return stateFailed, tail, ctx.Err()
				}
				return stateFailed, tail, nil
			}
			tail = appendTail(tail, line)
			l.log.Debug().Str("line", line).Msg("vision server output")
			if strings.Contains(line, m.ServerRunning) {
				running = true
			}
			if strings.Contains(line, m.ModelsInitialized) {
				modelsReady = true
			}
			if running && modelsReady {
				return stateReady, tail, nil
			}
			if strings.Contains(line, m.AddressInUse) {
				return statePortConflict, tail, nil
			}

		case <-exited:
			exited = nil
			grace = time.After(exitGrace)

		case <-grace:
			return stateFailed, tail, nil
		}
	}
}

// abandon kills a process that will not be used and reaps it.
func (l *launcher) abandon(proc process, lr *lineReader) {
	if err := proc.Kill(); err != nil {
		l.log.Warn().Err(err).Int("pid", proc.PID()).Msg("kill vision server")
	}
	_ = proc.Wait()
	lr.stop()
}

func appendTail(tail []string, line string) []string {
	tail = append(tail, line)
	if len(tail) > outputTailLines {
		tail = tail[len(tail)-outputTailLines:]
	}
	return tail
}

// lineReader delivers output lines on a channel, closed at EOF.
type lineReader struct {
	lines chan string
	quit  chan struct{}
	once  sync.Once
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan string), quit: make(chan struct{})}
	go func() {
		defer close(lr.lines)
		if c, ok := r.(io.Closer); ok {
			defer c.Close()
		}
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				select {
				case lr.lines <- strings.TrimRight(line, "\r\n"):
				case <-lr.quit:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return lr
}

// stop releases the reader goroutine once it next has a line to deliver.
func (lr *lineReader) stop() { lr.once.Do(func() { close(lr.quit) }) }

// drain logs the remaining output so the child never blocks on a full pipe.
func (lr *lineReader) drain(log zerolog.Logger) {
	for line := range lr.lines {
		log.Debug().Str("line", line).Msg("vision server output")
	}
}
