package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"visionsdk/internal/config"
	"visionsdk/pkg/vision"
)

// Exit codes returned by MainWithArgs.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// DefaultPort is the port assumed when attaching to a running server
// without --port.
const DefaultPort = 8000

// usageError marks errors caused by how the command was invoked.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}
	return strings.HasPrefix(err.Error(), "unknown command")
}

// globals holds the persistent flags and the settings resolved from them.
type globals struct {
	configPath string
	host       string
	port       int
	logLevel   string

	cfg config.Config
	log zerolog.Logger
}

// newGlobals seeds the persistent flag defaults from VISION_* variables.
func newGlobals() *globals {
	return &globals{
		configPath: envStr("VISION_CONFIG", ""),
		host:       envStr("VISION_HOST", ""),
		port:       envInt("VISION_PORT", 0),
		logLevel:   envStr("VISION_LOG_LEVEL", ""),
		log:        zerolog.Nop(),
	}
}

// prepare loads the config file, applies the global overrides and installs
// the logger. Flags and VISION_* variables win over the file.
func (g *globals) prepare(stderr io.Writer) error {
	var cfg config.Config
	if g.configPath != "" {
		c, err := config.Load(g.configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	if g.host != "" {
		cfg.Host = g.host
	}
	if g.port != 0 {
		cfg.Port = g.port
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return &usageError{fmt.Errorf("invalid port %d", cfg.Port)}
	}
	g.cfg = cfg
	g.log = newLogger(stderr, cfg.LogLevel)
	vision.SetLogger(g.log)
	return nil
}

// attachOptions returns options for talking to an already running server.
func (g *globals) attachOptions() vision.Options {
	opts := attachTo(g.cfg.Options())
	opts.Logger = &g.log
	return opts
}

// MainWithArgs runs visionctl with explicit arguments and returns the exit
// code: 0 on success, 1 on failure and 2 on bad usage.
func MainWithArgs(args []string) int {
	return run(context.Background(), args, os.Stdout, os.Stderr)
}

// Main returns an exit code for use by cmd/visionctl.
func Main() int { return MainWithArgs(os.Args[1:]) }

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := buildRootCmd(newGlobals())
	root.SetOut(stdout)
	root.SetErr(stderr)
	if len(args) == 0 {
		_ = root.Usage()
		return exitUsage
	}
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err.Error())
		if isUsageError(err) {
			return exitUsage
		}
		return exitError
	}
	return exitOK
}
