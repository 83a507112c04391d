package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"visionsdk/pkg/vision"
)

// buildRootCmd constructs the visionctl command tree wired to the fn* actions.
func buildRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "visionctl",
		Short:         "Launch, query and stop PEKAT VISION servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> globals
	root.PersistentFlags().StringVar(&g.configPath, "config", g.configPath, "Config file: .yaml|.yml|.json|.toml (defaults VISION_CONFIG)")
	root.PersistentFlags().StringVar(&g.host, "host", g.host, "Server host (defaults VISION_HOST or 127.0.0.1)")
	root.PersistentFlags().IntVar(&g.port, "port", g.port, "Server port (defaults VISION_PORT; 8000 when attaching)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", g.logLevel, "Log level: debug|info|warn|error (defaults VISION_LOG_LEVEL or info)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return g.prepare(cmd.ErrOrStderr())
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return &usageError{err} })

	root.AddCommand(newStartCmd(g), newAnalyzeCmd(g), newPingCmd(g), newVersionCmd(g), newStopCmd(g))

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenBashCompletion(cmd.OutOrStdout())
	}})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenZshCompletion(cmd.OutOrStdout())
	}})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenFishCompletion(cmd.OutOrStdout(), true)
	}})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
	}})
	root.AddCommand(completionCmd)

	return root
}

// usageArgs turns positional argument errors into usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return &usageError{err}
		}
		return nil
	}
}

// launchFlags are the flags that describe a server to launch.
type launchFlags struct {
	project      string
	dist         string
	password     string
	apiKey       string
	gpu          int
	retries      int
	waitModels   bool
	disableCode  bool
	tutorialOnly bool
}

func (f *launchFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.project, "project", "", "Project directory to serve")
	fl.StringVar(&f.dist, "dist", "", "Server distribution directory (defaults to the newest install)")
	fl.StringVar(&f.password, "password", "", "Password for the server web UI")
	fl.StringVar(&f.apiKey, "api-key", "", "API key required by the server")
	fl.IntVar(&f.gpu, "gpu", 0, "GPU index")
	fl.IntVar(&f.retries, "max-port-retries", vision.DefaultMaxPortRetries, "Respawns allowed when an ephemeral port is taken (0 disables respawning)")
	fl.BoolVar(&f.waitModels, "wait-models", false, "Wait until models are initialized")
	fl.BoolVar(&f.disableCode, "disable-code", false, "Disable code modules in the project")
	fl.BoolVar(&f.tutorialOnly, "tutorial-only", false, "Start the server in tutorial mode")
}

// apply overrides o with the flags set on the command line.
func (f *launchFlags) apply(cmd *cobra.Command, o vision.Options) vision.Options {
	fl := cmd.Flags()
	if fl.Changed("project") {
		o.ProjectPath = f.project
	}
	if fl.Changed("dist") {
		o.DistPath = f.dist
	}
	if fl.Changed("password") {
		o.Password = f.password
	}
	if fl.Changed("api-key") {
		o.APIKey = f.apiKey
	}
	if fl.Changed("gpu") {
		o.GPU = f.gpu
	}
	if fl.Changed("max-port-retries") {
		o.MaxPortRetries = f.retries
		if f.retries <= 0 {
			o.MaxPortRetries = vision.NoPortRetries
		}
	}
	if fl.Changed("wait-models") {
		o.WaitForModels = f.waitModels
	}
	if fl.Changed("disable-code") {
		o.DisableCode = f.disableCode
	}
	if fl.Changed("tutorial-only") {
		o.TutorialOnly = f.tutorialOnly
	}
	return o
}

func newStartCmd(g *globals) *cobra.Command {
	var lf launchFlags
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Launch a server and keep it running until interrupted",
		Example: "  visionctl start --project ~/projects/bottles --wait-models\n  visionctl start --project ./p --port 8000 --gpu 1",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := lf.apply(cmd, g.cfg.Options())
			if opts.ProjectPath == "" {
				return &usageError{errors.New("start requires --project")}
			}
			opts.AlreadyRunning = false
			opts.Logger = &g.log
			return fnStart(cmd.Context(), cmd.OutOrStdout(), g.log, opts)
		},
	}
	lf.register(cmd)
	return cmd
}

// analyzeFlags are the analyze-only flags.
type analyzeFlags struct {
	responseType  string
	data          string
	out           string
	random        string
	contextInBody bool
	decode        bool
	raw           bool
	timeout       time.Duration
}

func newAnalyzeCmd(g *globals) *cobra.Command {
	var lf launchFlags
	var af analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [IMAGE...]",
		Short: "Analyze images and print the resulting context",
		Long: "Analyze sends each image to a running server, or launches one first when a project is given,\n" +
			"and prints the context as JSON. --out writes the returned image bytes.",
		Example: "  visionctl analyze --port 8000 a.png b.png\n" +
			"  visionctl analyze --response-type annotated_image --out annotated.png a.png\n" +
			"  visionctl analyze --project ./p --random 480x640x3",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := vision.ParseResponseType(af.responseType)
			if err != nil {
				return &usageError{err}
			}
			var shape [3]int
			switch {
			case af.random != "" && len(args) > 0:
				return &usageError{errors.New("--random cannot be combined with images")}
			case af.random != "":
				if shape, err = parseShape(af.random); err != nil {
					return &usageError{err}
				}
			case len(args) == 0:
				return &usageError{errors.New("analyze requires at least one image or --random")}
			}
			if af.out != "" && len(args) > 1 {
				return &usageError{errors.New("--out requires exactly one image")}
			}
			if af.out != "" && !rt.HasImage() {
				return &usageError{fmt.Errorf("--out needs a response type with an image, got %s", rt)}
			}

			opts := lf.apply(cmd, g.cfg.Options())
			if cmd.Flags().Changed("context-in-body") {
				opts.ContextInBody = af.contextInBody
			}
			req := analyzeInput{ResponseType: rt, Data: af.data, Timeout: af.timeout, Decode: af.decode, Raw: af.raw, Out: af.out, Images: args}
			if af.random != "" {
				req.Random = &shape
			}
			return fnAnalyze(cmd.Context(), cmd.OutOrStdout(), g, opts, req)
		},
	}
	lf.register(cmd)
	fl := cmd.Flags()
	fl.StringVar(&af.responseType, "response-type", string(vision.ResponseContext), "Response type: context|image|annotated_image|heatmap")
	fl.StringVar(&af.data, "data", "", "Data string passed to the project")
	fl.StringVar(&af.out, "out", "", "Write the returned image to this file")
	fl.StringVar(&af.random, "random", "", "Send random pixels of shape HxWxC instead of images")
	fl.BoolVar(&af.contextInBody, "context-in-body", false, "Ask the server to put the context in the body")
	fl.BoolVar(&af.decode, "decode", false, "Decode images locally and send raw pixels")
	fl.BoolVar(&af.raw, "raw", false, "Print the context exactly as received")
	fl.DurationVar(&af.timeout, "timeout", vision.DefaultAnalyzeTimeout, "Per-image timeout")
	return cmd
}

func newPingCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a running server answers",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnPing(cmd.Context(), cmd.OutOrStdout(), g.attachOptions())
		},
	}
}

func newVersionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of a running server",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return fnVersion(cmd.Context(), cmd.OutOrStdout(), g.attachOptions())
		},
	}
}

func newStopCmd(g *globals) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:     "stop",
		Short:   "Stop a running server with its stop key",
		Example: "  visionctl stop --port 8000 --key k3y",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(key) == "" {
				return &usageError{errors.New("stop requires --key")}
			}
			return fnStop(cmd.Context(), cmd.OutOrStdout(), g.attachOptions(), key)
		},
	}
	cmd.Flags().StringVar(&key, "key", envStr("VISION_STOP_KEY", ""), "Stop key printed by start (defaults VISION_STOP_KEY)")
	return cmd
}
