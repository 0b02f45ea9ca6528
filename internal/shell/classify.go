package shell

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMarker is the sentinel token echoed after every command.
const DefaultMarker = "__CMDPROXY_RETURN__"

// LineKind categorises one raw line read from the interpreter.
type LineKind int

const (
	// LineBanner is output received before the session is ready.
	LineBanner LineKind = iota
	// LineReady is the line that ends banner-discard mode.
	LineReady
	// LineSentinel is the echoed marker closing a command.
	LineSentinel
	// LineOutput is genuine command output.
	LineOutput
	// LineBlank is an empty or whitespace-only line dropped by policy.
	LineBlank
	// LineStray contains the marker without being a sentinel, e.g. the
	// terminal echo of the sentinel command itself.
	LineStray
)

func (k LineKind) String() string {
	switch k {
	case LineBanner:
		return "banner"
	case LineReady:
		return "ready"
	case LineSentinel:
		return "sentinel"
	case LineOutput:
		return "output"
	case LineBlank:
		return "blank"
	case LineStray:
		return "stray"
	default:
		return "unknown"
	}
}

// Classification is the verdict for one line. Seq and Status are only set
// for LineSentinel; Status is -1 when the interpreter reported none.
type Classification struct {
	Kind   LineKind
	Seq    uint64
	Status int
}

// Classifier decides what a raw line means. It holds no state; readiness is
// passed in by the caller.
type Classifier struct {
	Marker      string
	ReadySignal string
	DropBlank   bool
}

// Classify categorises line given whether the session is already ready.
// Sentinels are only recognised once ready.
func (c Classifier) Classify(line string, ready bool) Classification {
	if !ready {
		if c.ReadySignal == "" || strings.HasSuffix(strings.TrimSpace(line), c.ReadySignal) {
			return Classification{Kind: LineReady, Status: -1}
		}
		return Classification{Kind: LineBanner, Status: -1}
	}

	if c.Marker != "" && strings.Contains(line, c.Marker) {
		if seq, status, ok := c.parseSentinel(line); ok {
			return Classification{Kind: LineSentinel, Seq: seq, Status: status}
		}
		return Classification{Kind: LineStray, Status: -1}
	}

	if c.DropBlank && strings.TrimSpace(line) == "" {
		return Classification{Kind: LineBlank, Status: -1}
	}
	return Classification{Kind: LineOutput, Status: -1}
}

// parseSentinel accepts "<marker> <seq>" optionally followed by a status.
func (c Classifier) parseSentinel(line string) (uint64, int, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 || fields[0] != c.Marker {
		return 0, -1, false
	}

	seq, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, -1, false
	}

	status := -1
	if len(fields) == 3 {
		v, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0, -1, false
		}
		status = v
	}
	return seq, status, true
}

// SentinelCommand is the interpreter input that makes it echo the sentinel
// for seq. statusExpr expands to the previous command's exit status ("$?").
func (c Classifier) SentinelCommand(seq uint64, statusExpr string) string {
	if statusExpr == "" {
		return fmt.Sprintf("echo %s %d", c.Marker, seq)
	}
	return fmt.Sprintf("echo %s %d %s", c.Marker, seq, statusExpr)
}
