// Package shell drives a single long-lived command interpreter and turns its
// unstructured output stream into discrete command results.
//
// The interpreter has no native "command finished" signal. Every submitted
// command is followed by an echo of a sentinel marker carrying the command's
// sequence number and exit status:
//
//	<command>
//	echo __CMDPROXY_RETURN__ <seq> $?
//
// Because the interpreter executes its input in order, the appearance of the
// marker line delimits the command's output. Lines received before the
// interpreter signals readiness are treated as startup banner and discarded.
//
// Components:
//   - Classifier: pure line categorisation (banner, ready, sentinel, output)
//   - Accumulator: ordered buffer for the pending command's output
//   - Gate: single-flight, timeout-bounded completion signal for Exec/RunAsync
//   - Dispatcher: policy deciding where result callbacks run
//   - Transport: how the interpreter is spawned (pipes or a PTY)
//   - Session: owns the process, the reader goroutine and all of the above
//
// Example Usage:
//
//	sess := shell.New(shell.Config{Logger: logger.Logger})
//	if err := sess.Start(ctx); err != nil {
//		return err
//	}
//	defer sess.Close()
//
//	sess.Run("echo hello", func(r *shell.Result) {
//		fmt.Println(r.Lines) // [hello]
//	})
//
//	ok := sess.RunAsync(ctx, "make build", nil, shell.WithTimeout(time.Minute))
//
// Known limitation: a command whose own output contains a line of the form
// "<marker> <seq>" matching the pending command is indistinguishable from the
// sentinel and completes the command early.
package shell
