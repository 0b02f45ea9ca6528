package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulatorDrain(t *testing.T) {
	var acc Accumulator

	empty := acc.Drain()
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	acc.Append("a")
	acc.Append("b")
	assert.Equal(t, 2, acc.Len())

	lines := acc.Drain()
	assert.Equal(t, []string{"a", "b"}, lines)
	assert.Equal(t, 0, acc.Len())

	acc.Append("c")
	assert.Equal(t, []string{"a", "b"}, lines, "drained slice must not alias the buffer")
}

func TestAccumulatorReset(t *testing.T) {
	var acc Accumulator
	acc.Append("stale")
	acc.Reset()
	acc.Append("fresh")
	assert.Equal(t, []string{"fresh"}, acc.Drain())
}
