package shell

import (
	"context"
	"fmt"
)

// RunOnce starts a throwaway session, executes command, and closes the
// session again. The result carries the command's exit code.
func RunOnce(ctx context.Context, cfg Config, command string, opts ...RunOption) (*Result, error) {
	sess := New(cfg)
	if err := sess.Start(ctx); err != nil {
		return nil, err
	}
	defer sess.Close()

	result, err := sess.Exec(ctx, command, opts...)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", command, err)
	}
	return result, nil
}
