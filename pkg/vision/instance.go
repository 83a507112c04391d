package vision

import (
	"context"
	"errors"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"visionsdk/internal/netutil"
	"visionsdk/internal/shm"
)

// Instance is a handle to one vision server, either launched by New (owned)
// or attached to with Options.AlreadyRunning. It is safe for concurrent use.
type Instance struct {
	opts   Options
	host   string
	port   int
	log    zerolog.Logger
	events EventPublisher
	client *http.Client

	// ownClient is set when client was created here and may be torn down.
	ownClient bool

	// localCheck decides whether host is this machine.
	localCheck func(host string) (bool, error)

	// Set only when the instance launched the server.
	proc     process
	stopKey  string
	stopping atomic.Bool

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	verMu      sync.Mutex
	version    string // normalized, once fetched
	shmChecked bool
	shmOK      bool

	shmMu    sync.Mutex
	seg      *shm.Segment
	segShape [3]int
}

// New connects to a vision server, launching one first unless
// opts.AlreadyRunning is set. Launch errors leave nothing running. ctx
// bounds the launch; it is not retained.
func New(ctx context.Context, opts Options) (*Instance, error) {
	opts = opts.withDefaults()
	log := defaultLogger()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	inst := &Instance{
		opts:       opts,
		host:       opts.Host,
		port:       opts.Port,
		log:        log.With().Str("component", "vision").Logger(),
		events:     opts.Events,
		client:     opts.HTTPClient,
		localCheck: netutil.IsLocal,
	}
	if inst.client == nil {
		inst.client = newHTTPClient()
		inst.ownClient = true
	}

	if opts.AlreadyRunning {
		if opts.Port <= 0 {
			return nil, errors.New("vision: Port is required to attach to a running server")
		}
	} else {
		if err := inst.launch(ctx); err != nil {
			return nil, err
		}
	}

	if !opts.SkipPing {
		if _, err := inst.Ping(ctx, DefaultPingTimeout); err != nil {
			return nil, errors.Join(err, inst.Close())
		}
	}
	return inst, nil
}

func (i *Instance) launch(ctx context.Context) error {
	if i.opts.ProjectPath == "" {
		return errors.New("vision: ProjectPath is required unless AlreadyRunning is set")
	}
	project, err := checkProject(i.opts.ProjectPath)
	if err != nil {
		return err
	}
	dist, err := resolveDist(i.opts.DistPath)
	if err != nil {
		return err
	}
	port := i.port
	if port == 0 {
		if port, err = pickFreePort(); err != nil {
			return err
		}
	}
	l := &launcher{
		bin:     serverBinary(dist, runtime.GOOS),
		project: project,
		host:    i.host,
		pinned:  i.opts.Port != 0,
		opts:    i.opts,
		spawn:   startProcess,
		newPort: pickFreePort,
		log:     i.log,
		events:  i.events,
	}
	res, err := l.run(ctx, port)
	if err != nil {
		return err
	}
	i.adopt(res)
	return nil
}

// adopt takes ownership of a ready server and keeps its output drained.
func (i *Instance) adopt(res *launched) {
	i.proc = res.proc
	i.port = res.port
	i.stopKey = res.stopKey
	go res.lines.drain(i.log)
	go func() {
		err := res.proc.Wait()
		ev := i.log.Info()
		if err != nil {
			ev = i.log.Warn().Err(err)
		}
		ev.Int("pid", res.proc.PID()).Msg("vision server exited")
		fields := map[string]any{"pid": res.proc.PID()}
		if err != nil {
			fields["error"] = err.Error()
		}
		i.events.Publish(Event{Name: EventSpawnExit, Port: res.port, Fields: fields})
	}()
}

// newHTTPClient returns the shared client. Timeout is zero on purpose: every
// request carries a context deadline.
func newHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr, Timeout: 0}
}

// Host returns the server host.
func (i *Instance) Host() string { return i.host }

// Port returns the server port. For a launched server it may differ from
// Options.Port when an ephemeral port had to be replaced.
func (i *Instance) Port() int { return i.port }

// BaseURL returns the server root URL without a trailing slash.
func (i *Instance) BaseURL() string {
	return "http://" + net.JoinHostPort(i.host, strconv.Itoa(i.port))
}

// Owned reports whether this instance launched the server.
func (i *Instance) Owned() bool { return i.proc != nil }

// PID returns the server process ID, or 0 when not owned.
func (i *Instance) PID() int {
	if i.proc == nil {
		return 0
	}
	return i.proc.PID()
}

// StopKey returns the key that authorizes /stop for an owned server.
func (i *Instance) StopKey() string { return i.stopKey }

// Exited is closed when an owned server process ends. It returns nil for an
// attached server, so receiving from it blocks forever.
func (i *Instance) Exited() <-chan struct{} {
	if i.proc == nil {
		return nil
	}
	return i.proc.Done()
}
