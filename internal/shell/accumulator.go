package shell

// Accumulator is the ordered output buffer of the pending command. It is not
// safe for concurrent use; the Session guards it with its mutex.
type Accumulator struct {
	lines []string
}

// Append adds one output line.
func (a *Accumulator) Append(line string) {
	a.lines = append(a.lines, line)
}

// Len returns the number of buffered lines.
func (a *Accumulator) Len() int {
	return len(a.lines)
}

// Reset discards all buffered lines.
func (a *Accumulator) Reset() {
	a.lines = nil
}

// Drain returns the buffered lines and resets the accumulator. The returned
// slice is never shared with the accumulator and is never nil.
func (a *Accumulator) Drain() []string {
	out := make([]string, len(a.lines))
	copy(out, a.lines)
	a.lines = nil
	return out
}
