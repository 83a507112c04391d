// Command fakevision mimics the vision server's command line and startup
// output so the launcher can be tested end to end.
//
// Behavior is steered by environment variables:
//
//	FAKE_VISION_MODE=exit           print a line and exit 3 before becoming ready
//	FAKE_VISION_MODE=conflict-once  report "address in use" on the first run
//	                                (tracked by FAKE_VISION_STATE) and serve after
//	FAKE_VISION_ARGS_FILE=path      write the received arguments, one per line
//	FAKE_VISION_MODEL_DELAY=50ms    delay between the running and models markers
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"visionsdk/internal/fakeserver"
)

func main() {
	var (
		data, host, port, stopKey string
		gpu, apiKey, password     string
		disableCode, tutorialOnly string
	)
	flag.StringVar(&data, "data", "", "project directory")
	flag.StringVar(&host, "host", "127.0.0.1", "host")
	flag.StringVar(&port, "port", "0", "port")
	flag.StringVar(&stopKey, "stop_key", "", "stop key")
	flag.StringVar(&gpu, "gpu", "", "gpu index")
	flag.StringVar(&apiKey, "api_key", "", "api key")
	flag.StringVar(&password, "password", "", "password")
	flag.StringVar(&disableCode, "disable_code", "", "disable code module")
	flag.StringVar(&tutorialOnly, "tutorial_only", "", "tutorial only")
	flag.Parse()

	if p := os.Getenv("FAKE_VISION_ARGS_FILE"); p != "" {
		_ = os.WriteFile(p, []byte(strings.Join(os.Args[1:], "\n")), 0o644)
	}

	fmt.Println("Starting vision server (fake)")
	switch os.Getenv("FAKE_VISION_MODE") {
	case "exit":
		fmt.Println("fatal: license not found")
		os.Exit(3)
	case "conflict-once":
		state := os.Getenv("FAKE_VISION_STATE")
		if _, err := os.Stat(state); errors.Is(err, os.ErrNotExist) {
			_ = os.WriteFile(state, []byte("1"), 0o644)
			addressInUse()
		}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		addressInUse()
	}

	srv := fakeserver.New(map[string]any{"processing": false, "error": false, "save": false}, []byte("fake-image"))
	srv.Version = "3.18.0"
	srv.StopKey = stopKey
	done := make(chan struct{})
	srv.OnStop = func() { close(done) }
	hs := &http.Server{Handler: srv.Handler()}
	go func() { _ = hs.Serve(ln) }()

	fmt.Println("__SERVER_RUNNING__")
	if d, err := time.ParseDuration(os.Getenv("FAKE_VISION_MODEL_DELAY")); err == nil {
		time.Sleep(d)
	}
	fmt.Println("STOP_INIT_MODEL")

	<-done
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = hs.Shutdown(ctx)
}

func addressInUse() {
	fmt.Println("Traceback (most recent call last):")
	fmt.Println("OSError: [Errno 98] Address already in use")
	os.Exit(1)
}
