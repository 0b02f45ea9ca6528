package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

func TestREPL(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	ctx := context.Background()
	sess := shell.New(shell.Config{
		Profile: shell.DefaultProfile(),
		Logger:  zaptest.NewLogger(t),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, sess.Start(ctx))
	defer sess.Close()

	in := strings.NewReader("echo first\n\n:debug\nfalse\n:quit\necho never\n")
	var out bytes.Buffer
	require.NoError(t, repl(ctx, sess, in, &out))

	got := out.String()
	assert.Contains(t, got, "first\n")
	assert.Contains(t, got, "debug true\n")
	assert.Contains(t, got, "[exit 1]\n")
	assert.NotContains(t, got, "never")
	assert.True(t, sess.DebugMode())
}
