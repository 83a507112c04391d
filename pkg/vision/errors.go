package vision

import (
	"errors"
	"fmt"
	"strings"
)

// ProjectNotFoundError is returned when the project directory has no
// pekat_package.json manifest.
type ProjectNotFoundError struct{ Path string }

func (e *ProjectNotFoundError) Error() string { return "project not found: " + e.Path }

// DistNotFoundError is returned when no server distribution is installed in
// the platform default location.
type DistNotFoundError struct{ Root string }

func (e *DistNotFoundError) Error() string {
	if e.Root == "" {
		return "vision server distribution not found: no default install location for this platform"
	}
	return "vision server distribution not found under " + e.Root
}

// DistNotExistsError is returned when an explicit distribution path does not exist.
type DistNotExistsError struct{ Path string }

func (e *DistNotExistsError) Error() string { return "vision server distribution does not exist: " + e.Path }

// PortAllocatedError is returned when the server reports its port in use and
// the port was pinned by the caller, or the retry budget is spent.
type PortAllocatedError struct {
	Port     int
	Attempts int
}

func (e *PortAllocatedError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("port %d is already allocated (after %d attempts)", e.Port, e.Attempts)
	}
	return fmt.Sprintf("port %d is already allocated", e.Port)
}

// LaunchFailedError is returned when the server exits before becoming ready.
// Output holds the last lines it printed.
type LaunchFailedError struct {
	Err    error
	Output []string
}

func (e *LaunchFailedError) Error() string {
	msg := "vision server failed to start"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Output) > 0 {
		msg += "; output tail: " + strings.Join(e.Output, " | ")
	}
	return msg
}

func (e *LaunchFailedError) Unwrap() error { return e.Err }

// InvalidDataTypeError is returned for an image payload the client cannot send.
type InvalidDataTypeError struct {
	Type   string
	Reason string
}

func (e *InvalidDataTypeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid image data type %s: %s", e.Type, e.Reason)
	}
	return "invalid image data type " + e.Type
}

// InvalidResponseTypeError is returned for a response type outside the
// accepted set.
type InvalidResponseTypeError struct{ ResponseType string }

func (e *InvalidResponseTypeError) Error() string {
	return fmt.Sprintf("invalid response type %q", e.ResponseType)
}

// NoConnectionError is returned by Ping and Stop when the server did not
// answer in time.
type NoConnectionError struct{ Err error }

func (e *NoConnectionError) Error() string { return "no connection to vision server: " + e.Err.Error() }

func (e *NoConnectionError) Unwrap() error { return e.Err }

// MissingImageCodecError is returned by Result.DecodeImage when no decoder
// is registered for the image format.
type MissingImageCodecError struct{ Err error }

func (e *MissingImageCodecError) Error() string { return "missing image codec: " + e.Err.Error() }

func (e *MissingImageCodecError) Unwrap() error { return e.Err }

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("vision server http error: %d", e.Code)
	}
	return fmt.Sprintf("vision server http error: %d: %s", e.Code, e.Body)
}

// ErrNoImage is returned by Result.DecodeImage for context-only results.
var ErrNoImage = errors.New("result carries no image")

// ErrClosed is returned by Analyze once the instance has been closed.
var ErrClosed = errors.New("vision instance is closed")

// IsProjectNotFound reports whether err is a ProjectNotFoundError.
func IsProjectNotFound(err error) bool { return isType[*ProjectNotFoundError](err) }

// IsDistNotFound reports whether err is a DistNotFoundError.
func IsDistNotFound(err error) bool { return isType[*DistNotFoundError](err) }

// IsDistNotExists reports whether err is a DistNotExistsError.
func IsDistNotExists(err error) bool { return isType[*DistNotExistsError](err) }

// IsPortAllocated reports whether err is a PortAllocatedError.
func IsPortAllocated(err error) bool { return isType[*PortAllocatedError](err) }

// IsLaunchFailed reports whether err is a LaunchFailedError.
func IsLaunchFailed(err error) bool { return isType[*LaunchFailedError](err) }

// IsInvalidDataType reports whether err is an InvalidDataTypeError.
func IsInvalidDataType(err error) bool { return isType[*InvalidDataTypeError](err) }

// IsInvalidResponseType reports whether err is an InvalidResponseTypeError.
func IsInvalidResponseType(err error) bool { return isType[*InvalidResponseTypeError](err) }

// IsNoConnection reports whether err is a NoConnectionError.
func IsNoConnection(err error) bool { return isType[*NoConnectionError](err) }

// IsMissingImageCodec reports whether err is a MissingImageCodecError.
func IsMissingImageCodec(err error) bool { return isType[*MissingImageCodecError](err) }

func isType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
