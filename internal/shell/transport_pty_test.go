package shell

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPTYTransportSession(t *testing.T) {
	requireShell(t)

	p := DefaultProfile()
	p.Name = "sh-pty"
	p.Transport = TransportPTY
	p.StripEcho = true
	p.Env = []string{"PS1=", "PS2=", "ENV="}

	s := New(Config{Profile: p, Logger: zaptest.NewLogger(t), CloseTimeout: 500 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Skipf("pty not available: %v", err)
	}
	defer s.Close()

	r, err := s.Exec(context.Background(), "echo pty-hello", WithTimeout(3*time.Second))
	require.NoError(t, err)
	assert.Contains(t, r.Output(), "pty-hello")
	assert.Equal(t, 0, r.ExitCode)
}

func TestTransportFor(t *testing.T) {
	tr, err := TransportFor(Profile{})
	require.NoError(t, err)
	assert.IsType(t, PipeTransport{}, tr)

	tr, err = TransportFor(Profile{Transport: TransportPTY})
	require.NoError(t, err)
	assert.IsType(t, PTYTransport{}, tr)

	_, err = TransportFor(Profile{Transport: "carrier-pigeon"})
	assert.Error(t, err)
}
