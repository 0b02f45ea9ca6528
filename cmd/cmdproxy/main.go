// Command cmdproxy runs an interactive interpreter session in the terminal.
// Each input line is submitted as one command and its captured output and
// exit code are printed.
//
//	cmdproxy -profile bash
//	> ls /tmp
//	> :debug
//	> :quit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/config"
	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/logging"
	"github.com/Chino66/Command-Tool-Develop/internal/shared/id"
	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

func main() {
	profileName := flag.String("profile", "sh", "Shell profile")
	profilesFile := flag.String("profiles", "", "Profiles file (yaml or toml)")
	workDir := flag.String("dir", "", "Working directory")
	timeout := flag.Duration("timeout", 10*time.Second, "Per-command timeout")
	debug := flag.Bool("debug", false, "Mirror raw interpreter lines to the log")
	command := flag.String("c", "", "Run one command and exit with its status")
	flag.Parse()

	code, err := run(*profileName, *profilesFile, *workDir, *timeout, *debug, *command)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cmdproxy:", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(profileName, profilesFile, workDir string, timeout time.Duration, debug bool, command string) (int, error) {
	profiles := config.BuiltinProfiles()
	if profilesFile != "" {
		var err error
		if profiles, err = config.LoadProfiles(profilesFile); err != nil {
			return 1, err
		}
	}
	profile, ok := profiles.Get(profileName, workDir)
	if !ok {
		return 1, fmt.Errorf("unknown profile %q (have %s)", profileName, strings.Join(profiles.Names(), ", "))
	}

	logger := logging.NewDevelopment()
	if !debug {
		_ = logger.SetLevel("warn")
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := shell.Config{
		ID:      id.NewShellID().String(),
		Profile: profile,
		Logger:  logger.Shell(),
		Timeout: timeout,
		Debug:   debug,
	}

	if command != "" {
		result, err := shell.RunOnce(ctx, cfg, command)
		if err != nil {
			return 1, err
		}
		printResult(os.Stdout, result)
		return result.ExitCode, nil
	}

	sess := shell.New(cfg)
	if err := sess.Start(ctx); err != nil {
		return 1, err
	}
	defer sess.Close()

	logger.Info("Session ready", zap.String("session_id", sess.ID()), zap.Int("pid", sess.Pid()))
	return 0, repl(ctx, sess, os.Stdin, os.Stdout)
}

func repl(ctx context.Context, sess *shell.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	prompt := func() { fmt.Fprintf(out, "%s> ", sess.Profile().Name) }

	for prompt(); scanner.Scan(); prompt() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case ":quit", ":exit":
			return nil
		case ":debug":
			sess.SetDebugMode(!sess.DebugMode())
			fmt.Fprintf(out, "debug %v\n", sess.DebugMode())
			continue
		}

		result, err := sess.Exec(ctx, line)
		switch {
		case err == nil:
			printResult(out, result)
		case errors.Is(err, shell.ErrSessionClosed), ctx.Err() != nil:
			return err
		default:
			fmt.Fprintln(out, "error:", err)
		}
	}
	return scanner.Err()
}

func printResult(out io.Writer, r *shell.Result) {
	for _, line := range r.Lines {
		fmt.Fprintln(out, line)
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(out, "[exit %d]\n", r.ExitCode)
	}
}
