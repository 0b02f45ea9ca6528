package shell

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Process is a running interpreter as seen by the session.
type Process interface {
	// Stdin receives commands.
	Stdin() io.WriteCloser
	// Output is the ordered line stream read by the session.
	Output() io.Reader
	// Stderr is a separate error stream, or nil when merged into Output.
	Stderr() io.Reader
	Pid() int
	Wait() error
	Kill() error
	// Close releases the parent's ends of all streams.
	Close() error
}

// Transport spawns interpreters.
type Transport interface {
	Start(p Profile) (Process, error)
}

// TransportFor returns the transport named by the profile.
func TransportFor(p Profile) (Transport, error) {
	switch p.Transport {
	case "", TransportPipe:
		return PipeTransport{}, nil
	case TransportPTY:
		return PTYTransport{}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", p.Transport)
	}
}

// PipeTransport connects to the interpreter with OS pipes. Stdout and stderr
// share one pipe so their relative order is preserved, unless
// SeparateStderr is set.
type PipeTransport struct {
	SeparateStderr bool
}

func (t PipeTransport) Start(p Profile) (Process, error) {
	cmd := buildCommand(p)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	var errR, errW *os.File
	if t.SeparateStderr {
		errR, errW, err = os.Pipe()
		if err != nil {
			stdin.Close()
			outR.Close()
			outW.Close()
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		cmd.Stderr = errW
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		closeFiles(outR, outW, errR, errW)
		return nil, err
	}

	// The child holds its own copies; the reader sees EOF once it exits.
	closeFiles(outW, errW)

	proc := &pipeProcess{cmd: cmd, stdin: stdin, out: outR}
	if errR != nil {
		proc.errOut = errR
	}
	return proc, nil
}

type pipeProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *os.File
	errOut *os.File
}

func (p *pipeProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *pipeProcess) Output() io.Reader { return p.out }

func (p *pipeProcess) Stderr() io.Reader {
	if p.errOut == nil {
		return nil
	}
	return p.errOut
}

func (p *pipeProcess) Pid() int { return p.cmd.Process.Pid }

func (p *pipeProcess) Wait() error { return p.cmd.Wait() }

func (p *pipeProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *pipeProcess) Close() error {
	p.stdin.Close()
	closeFiles(p.out, p.errOut)
	return nil
}

func buildCommand(p Profile) *exec.Cmd {
	cmd := exec.Command(p.Shell, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = append(os.Environ(), p.Env...)
	return cmd
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
