package shell

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// PTYTransport runs the interpreter on a pseudo-terminal for programs that
// refuse to work on pipes. Output is still split into lines only; control
// sequences are passed through untouched. Terminals echo input, so profiles
// using this transport normally set StripEcho.
type PTYTransport struct {
	Rows uint16
	Cols uint16
}

func (t PTYTransport) Start(p Profile) (Process, error) {
	rows, cols := t.Rows, t.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		// Wide enough that the sentinel echo never wraps.
		cols = 512
	}

	cmd := buildCommand(p)
	cmd.Env = append(cmd.Env, "TERM=dumb")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}
	return &ptyProcess{cmd: cmd, ptmx: ptmx}, nil
}

type ptyProcess struct {
	cmd  *exec.Cmd
	ptmx *os.File
	once sync.Once
}

func (p *ptyProcess) Stdin() io.WriteCloser { return ptyInput{p} }

func (p *ptyProcess) Output() io.Reader { return p.ptmx }

func (p *ptyProcess) Stderr() io.Reader { return nil }

func (p *ptyProcess) Pid() int { return p.cmd.Process.Pid }

func (p *ptyProcess) Wait() error { return p.cmd.Wait() }

func (p *ptyProcess) Kill() error { return p.cmd.Process.Kill() }

func (p *ptyProcess) Close() error {
	var err error
	p.once.Do(func() { err = p.ptmx.Close() })
	return err
}

// ptyInput sends EOF instead of closing the master, which would also cut
// the output side.
type ptyInput struct {
	p *ptyProcess
}

func (in ptyInput) Write(b []byte) (int, error) { return in.p.ptmx.Write(b) }

func (in ptyInput) Close() error {
	_, err := in.p.ptmx.Write([]byte{0x04})
	return err
}
