package shell

import "errors"

var (
	// ErrStartup reports that the interpreter could not be spawned or never
	// became ready.
	ErrStartup = errors.New("shell failed to start")
	// ErrNotStarted is returned when commands are submitted before Start.
	ErrNotStarted = errors.New("shell session not started")
	// ErrAlreadyStarted is returned by Start on a running session.
	ErrAlreadyStarted = errors.New("shell session already started")
	// ErrSessionClosed is returned once the session is closed or the
	// interpreter has exited, and by waits interrupted by Close.
	ErrSessionClosed = errors.New("shell session closed")
	// ErrConcurrentRun rejects an asynchronous submission while another one
	// is still awaiting its sentinel.
	ErrConcurrentRun = errors.New("asynchronous command already running")
	// ErrTimeout reports that the sentinel did not arrive in time.
	ErrTimeout = errors.New("command timed out")
	// ErrGateArmed is returned by Gate.Arm when the gate is already armed.
	ErrGateArmed = errors.New("completion gate already armed")
)
