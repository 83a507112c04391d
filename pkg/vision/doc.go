// Package vision is a client for the PEKAT VISION inference server. It can
// launch a local server for a project, attach to one that is already
// running, submit images for analysis and stop the server again.
//
// The package is structured into small files by concern:
//
//   - instance.go: Instance type, New, getters and the HTTP client.
//   - options.go: Options, defaults and readiness markers.
//   - errors.go: error types and predicates (IsPortAllocated, IsNoConnection, ...).
//   - events.go, eventpub_memory.go: launcher lifecycle events.
//   - dist.go: project and distribution lookup.
//   - args.go, stopkey.go, ports.go: launch arguments, stop key, port allocation.
//   - process.go: child process abstraction with combined output.
//   - launcher.go: the spawn/poll/retry state machine.
//   - payload.go: the image payload union.
//   - response.go: response types and decoding of the response envelope.
//   - result.go: Result and lazy image decoding.
//   - analyze.go: Analyze, AnalyzeRandom and transport selection.
//   - version.go: server version query and the shared-memory gate.
//   - lifecycle.go: Ping, Stop and Close.
//   - metrics.go: opt-in Prometheus registration.
//
// An Instance that launched its server owns it: Close asks the server to
// stop exactly once and releases the shared-memory segment. Callers should
// defer Close right after New succeeds.
//
//	inst, err := vision.New(ctx, vision.Options{ProjectPath: "~/projects/bolts"})
//	if err != nil {
//		return err
//	}
//	defer inst.Close()
//	res, err := inst.Analyze(ctx, vision.AnalyzeRequest{
//		Image:        vision.FilePath("part.png"),
//		ResponseType: vision.ResponseAnnotatedImage,
//	})
package vision
