package vision

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default per-call timeouts. Launch has none; bound it with the context.
const (
	DefaultAnalyzeTimeout = 20 * time.Second
	DefaultPingTimeout    = 5 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultVersionTimeout = 20 * time.Second

	DefaultHost           = "127.0.0.1"
	DefaultMaxPortRetries = 5
)

// NoPortRetries disables respawning after an ephemeral port conflict.
// A zero Options.MaxPortRetries means DefaultMaxPortRetries.
const NoPortRetries = -1

// Markers are the substrings the launcher looks for in the server output.
// The server has no structured startup protocol; these lines are the contract.
type Markers struct {
	ServerRunning     string
	ModelsInitialized string
	AddressInUse      string
}

// DefaultMarkers returns the markers printed by current server releases.
func DefaultMarkers() Markers {
	return Markers{
		ServerRunning:     "__SERVER_RUNNING__",
		ModelsInitialized: "STOP_INIT_MODEL",
		AddressInUse:      "Address already in use",
	}
}

func (m Markers) withDefaults() Markers {
	d := DefaultMarkers()
	if m.ServerRunning == "" {
		m.ServerRunning = d.ServerRunning
	}
	if m.ModelsInitialized == "" {
		m.ModelsInitialized = d.ModelsInitialized
	}
	if m.AddressInUse == "" {
		m.AddressInUse = d.AddressInUse
	}
	return m
}

// Options configure an Instance.
type Options struct {
	// ProjectPath is the project directory to serve. Required unless
	// AlreadyRunning is set. "~" is expanded.
	ProjectPath string
	// DistPath overrides the server distribution directory. Empty means
	// the newest installation in the platform default location.
	DistPath string

	// Host defaults to 127.0.0.1.
	Host string
	// Port pins the server port. Zero picks a free ephemeral port and
	// allows the launcher to move to another one on a bind conflict.
	Port int
	// AlreadyRunning attaches to a server at Host:Port instead of launching.
	AlreadyRunning bool

	Password     string
	APIKey       string
	DisableCode  bool
	TutorialOnly bool
	// ContextInBody asks the server to append the context to the image
	// bytes instead of sending it in a header.
	ContextInBody bool
	// WaitForModels delays readiness until the models are initialized.
	WaitForModels bool
	// SkipPing skips the liveness check New performs once connected.
	SkipPing bool
	// GPU selects the GPU index. Zero is the server default.
	GPU int

	// MaxPortRetries bounds respawns after an ephemeral port conflict.
	// Zero means DefaultMaxPortRetries; any negative value, NoPortRetries
	// included, fails on the first conflict.
	MaxPortRetries int
	Markers        Markers

	Logger     *zerolog.Logger
	Events     EventPublisher
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	o.Host = strings.TrimSpace(o.Host)
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.MaxPortRetries == 0 {
		o.MaxPortRetries = DefaultMaxPortRetries
	}
	o.Markers = o.Markers.withDefaults()
	if o.Events == nil {
		o.Events = noopPublisher{}
	}
	return o
}
