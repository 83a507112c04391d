package vision

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// process is a spawned server. Output carries stdout and stderr combined.
type process interface {
	Output() io.Reader
	PID() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Wait blocks until exit and returns the exit error.
	Wait() error
	Kill() error
}

// spawnFunc starts bin with args.
type spawnFunc func(bin string, args []string) (process, error)

type execProcess struct {
	cmd  *exec.Cmd
	out  *os.File
	done chan struct{}
	err  error
}

// startProcess spawns bin with stdout and stderr on one pipe.
func startProcess(bin string, args []string) (process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd := exec.Command(bin, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("start vision server: %w", err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()
	p := &execProcess{cmd: cmd, out: r, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
