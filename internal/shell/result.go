package shell

import (
	"strconv"
	"strings"
	"time"
)

// Callback receives the finished result of a command. It may run on any
// goroutine, depending on the session's Dispatcher.
type Callback func(r *Result)

// Result is the finalized record of one command. It is built once when the
// command's sentinel is observed and must be treated as read-only.
type Result struct {
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	Command    string    `json:"command"`
	Lines      []string  `json:"lines"`
	ExitCode   int       `json:"exit_code"`
	Superseded bool      `json:"superseded"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Output joins the captured lines with newlines.
func (r *Result) Output() string {
	return strings.Join(r.Lines, "\n")
}

// Duration is the time between submission and sentinel.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Success reports whether the command exited with status zero. Unknown
// statuses (-1) are not successful.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

func (r *Result) String() string {
	var sb strings.Builder
	sb.WriteString("Command: ")
	sb.WriteString(r.Command)
	sb.WriteString("\nOutput:\n")
	for _, line := range r.Lines {
		sb.WriteString("  ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("ExitCode: ")
	sb.WriteString(strconv.Itoa(r.ExitCode))
	return sb.String()
}
