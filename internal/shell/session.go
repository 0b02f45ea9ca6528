package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Chino66/Command-Tool-Develop/internal/shared/id"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultStartTimeout = 5 * time.Second
	defaultCloseTimeout = 2 * time.Second

	maxLineSize   = 1024 * 1024
	maxSuperseded = 64
)

// Submission modes, as reported to the Observer.
const (
	ModeRun   = "run"
	ModeAsync = "async"
	ModeInit  = "init"
	ModeExit  = "exit"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Observer receives instrumentation events. Implementations must be cheap
// and safe for concurrent use.
type Observer interface {
	ObserveLine(kind string)
	ObserveCommand(mode, outcome string, duration time.Duration, lines int)
}

type nopObserver struct{}

func (nopObserver) ObserveLine(string) {}

func (nopObserver) ObserveCommand(string, string, time.Duration, int) {}

// LineHandler receives every raw line with its classification.
type LineHandler func(line string, kind LineKind)

// Config configures a Session. Zero values fall back to defaults.
type Config struct {
	ID         string
	Profile    Profile
	Marker     string
	Transport  Transport
	Dispatcher Dispatcher
	Logger     *zap.Logger
	Observer   Observer

	// Timeout is the default RunAsync/Exec deadline.
	Timeout time.Duration
	// StartTimeout bounds how long Start waits for the ready signal.
	// Negative values make Start return without waiting.
	StartTimeout time.Duration
	// CloseTimeout bounds how long Close waits for the interpreter to exit
	// before killing it.
	CloseTimeout time.Duration

	Debug bool
}

type pendingCommand struct {
	seq       uint64
	command   string
	callback  Callback
	debug     bool
	mode      string
	async     bool
	startedAt time.Time
	echoSeen  bool

	// lines collected before a newer command replaced this one
	lines []string
}

type delivery struct {
	cmd    *pendingCommand
	result *Result
}

type subscriber struct {
	id      uint64
	handler LineHandler
}

// Session owns one interpreter process and multiplexes commands through it.
type Session struct {
	id         string
	cfg        Config
	profile    Profile
	classifier Classifier
	log        *zap.Logger
	raw        *zap.Logger

	// writeMu serialises submissions so sequence numbers reach stdin in order.
	writeMu sync.Mutex

	mu         sync.Mutex
	state      State
	closing    bool
	exited     bool
	proc       Process
	ready      bool
	readyCh    chan struct{}
	readerDone chan struct{}
	debug      bool
	seq        uint64
	pending    *pendingCommand
	superseded []*pendingCommand
	acc        Accumulator

	gate Gate

	subMu   sync.RWMutex
	subs    []subscriber
	nextSub uint64
}

// New creates a session in the NotStarted state.
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = id.NewShellID().String()
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = InlineDispatcher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if cfg.Profile.Shell == "" {
		cfg.Profile = DefaultProfile()
	}
	profile := cfg.Profile.withDefaults()

	log := cfg.Logger.With(
		zap.String("session_id", cfg.ID),
		zap.String("profile", profile.Name),
	)

	return &Session{
		id:      cfg.ID,
		cfg:     cfg,
		profile: profile,
		classifier: Classifier{
			Marker:      cfg.Marker,
			ReadySignal: profile.ReadySignal,
			DropBlank:   profile.DropBlank,
		},
		log:   log,
		raw:   log.Named("raw"),
		state: StateNotStarted,
		debug: cfg.Debug,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Profile returns the interpreter profile in use.
func (s *Session) Profile() Profile { return s.profile }

// State returns the lifecycle state. A session whose interpreter exited on
// its own reports StateClosed; Close still has to be called to release it.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning && s.exited {
		return StateClosed
	}
	return s.state
}

// Ready reports whether banner-discard mode has ended.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Busy reports whether an asynchronous command is awaiting its sentinel.
func (s *Session) Busy() bool {
	return s.gate.Armed()
}

// Pid returns the interpreter's process id, or 0 when not running.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.Pid()
}

// SetDebugMode toggles mirroring of every raw line to the diagnostic log.
func (s *Session) SetDebugMode(on bool) {
	s.mu.Lock()
	s.debug = on
	s.mu.Unlock()
}

// DebugMode reports the session-wide debug flag.
func (s *Session) DebugMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debug
}

// Start spawns the interpreter, starts reading its output and submits the
// init command. Unless StartTimeout is negative it then waits for the ready
// signal. On failure the session is left NotStarted and Start may be retried,
// unless Close ran meanwhile: then it stays Closed and Start returns
// ErrSessionClosed.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		return ErrAlreadyStarted
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	}

	transport := s.cfg.Transport
	if transport == nil {
		t, err := TransportFor(s.profile)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrStartup, err)
		}
		transport = t
	}

	proc, err := transport.Start(s.profile)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("Failed to spawn interpreter", zap.String("shell", s.profile.Shell), zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrStartup, s.profile.Shell, err)
	}

	s.proc = proc
	s.state = StateRunning
	s.exited = false
	s.closing = false
	s.ready = s.profile.ReadySignal == ""
	s.readyCh = make(chan struct{})
	if s.ready {
		close(s.readyCh)
	}
	readyCh := s.readyCh
	s.readerDone = make(chan struct{})
	readerDone := s.readerDone
	s.mu.Unlock()

	go s.readLoop(proc)
	if errOut := proc.Stderr(); errOut != nil {
		go s.drainStderr(errOut)
	}

	s.log.Info("Interpreter started",
		zap.String("shell", s.profile.Shell),
		zap.Int("pid", proc.Pid()),
		zap.String("transport", s.profile.Transport),
	)

	if init := s.profile.InitCommand; init != "" {
		if _, err := s.submit(init, nil, false, ModeInit); err != nil {
			if s.abortStart() {
				return fmt.Errorf("%w: closed while starting", ErrSessionClosed)
			}
			return fmt.Errorf("%w: init command: %w", ErrStartup, err)
		}
	}

	if s.cfg.StartTimeout < 0 {
		return nil
	}

	timer := time.NewTimer(s.cfg.StartTimeout)
	defer timer.Stop()

	select {
	case <-readyCh:
		return nil
	case <-readerDone:
		if s.abortStart() {
			return fmt.Errorf("%w: closed while starting", ErrSessionClosed)
		}
		return fmt.Errorf("%w: interpreter exited before becoming ready", ErrStartup)
	case <-timer.C:
		if s.abortStart() {
			return fmt.Errorf("%w: closed while starting", ErrSessionClosed)
		}
		return fmt.Errorf("%w: no ready signal within %s", ErrStartup, s.cfg.StartTimeout)
	case <-ctx.Done():
		if s.abortStart() {
			return fmt.Errorf("%w: closed while starting", ErrSessionClosed)
		}
		return fmt.Errorf("%w: %w", ErrStartup, ctx.Err())
	}
}

// abortStart tears down a half-started interpreter and returns the session
// to NotStarted. A session closed meanwhile stays Closed and abortStart
// reports true.
func (s *Session) abortStart() (closed bool) {
	s.mu.Lock()
	proc := s.proc
	readerDone := s.readerDone
	s.mu.Unlock()

	if proc != nil {
		proc.Kill()
		proc.Close()
		<-readerDone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.superseded = nil
	s.acc.Reset()
	if s.state == StateClosed || s.closing {
		s.state = StateClosed
		return true
	}
	s.state = StateNotStarted
	s.proc = nil
	return false
}

// WaitReady blocks until banner-discard mode has ended.
func (s *Session) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	readyCh := s.readyCh
	s.mu.Unlock()

	select {
	case <-readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOption adjusts a single submission.
type RunOption func(*runOptions)

type runOptions struct {
	debug    bool
	timeout  time.Duration
	callback Callback
}

// WithDebug mirrors raw lines to the diagnostic log while this command is
// pending.
func WithDebug(on bool) RunOption {
	return func(o *runOptions) { o.debug = on }
}

// WithTimeout overrides the session's default wait for Exec and RunAsync.
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) { o.timeout = d }
}

// WithCallback sets the callback for Exec.
func WithCallback(cb Callback) RunOption {
	return func(o *runOptions) { o.callback = cb }
}

func (s *Session) runOptions(opts []RunOption) runOptions {
	o := runOptions{timeout: s.cfg.Timeout}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Run submits command and returns without waiting. cb, if not nil, receives
// the result once the sentinel is observed. Callers must not submit the
// next command before this one completes or their outputs interleave.
func (s *Session) Run(command string, cb Callback, opts ...RunOption) error {
	o := s.runOptions(opts)
	_, err := s.submit(command, cb, o.debug, ModeRun)
	return err
}

// RunAsync submits command and waits for its sentinel. It returns false if
// another asynchronous command is outstanding, on timeout, on ctx
// cancellation and when the session closes during the wait. A late result
// of a timed-out command is still delivered to cb.
func (s *Session) RunAsync(ctx context.Context, command string, cb Callback, opts ...RunOption) bool {
	opts = append(opts, WithCallback(cb))
	if _, err := s.Exec(ctx, command, opts...); err != nil {
		s.log.Warn("Asynchronous command failed",
			zap.String("command", command),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Exec is RunAsync returning the result and a typed error: ErrConcurrentRun,
// ErrTimeout, ErrSessionClosed, ErrNotStarted or the context's error.
func (s *Session) Exec(ctx context.Context, command string, opts ...RunOption) (*Result, error) {
	o := s.runOptions(opts)

	if err := s.gate.Arm(); err != nil {
		s.cfg.Observer.ObserveCommand(ModeAsync, "rejected", 0, 0)
		return nil, fmt.Errorf("%w: %w", ErrConcurrentRun, err)
	}

	seq, err := s.submit(command, o.callback, o.debug, ModeAsync)
	if err != nil {
		s.gate.Release()
		return nil, err
	}

	outcome, result := s.gate.Wait(ctx, o.timeout)
	switch outcome {
	case OutcomeCompleted:
		return result, nil
	case OutcomeTimedOut:
		s.cfg.Observer.ObserveCommand(ModeAsync, OutcomeTimedOut.String(), o.timeout, 0)
		s.log.Info("Command timed out",
			zap.Uint64("seq", seq),
			zap.String("command", command),
			zap.Duration("timeout", o.timeout),
		)
		return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, o.timeout, command)
	default:
		s.cfg.Observer.ObserveCommand(ModeAsync, OutcomeCanceled.String(), 0, 0)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrSessionClosed
	}
}

func (s *Session) checkSubmitLocked(mode string) error {
	switch s.state {
	case StateNotStarted:
		return ErrNotStarted
	case StateClosed:
		return ErrSessionClosed
	}
	if s.exited || (s.closing && mode != ModeExit) {
		return ErrSessionClosed
	}
	return nil
}

// submit clears the accumulator, records the pending command and writes it
// followed by the sentinel echo.
func (s *Session) submit(command string, cb Callback, debug bool, mode string) (uint64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if err := s.checkSubmitLocked(mode); err != nil {
		s.mu.Unlock()
		return 0, err
	}

	s.seq++
	seq := s.seq

	if prev := s.pending; prev != nil {
		prev.lines = s.acc.Drain()
		s.superseded = append(s.superseded, prev)
		if len(s.superseded) > maxSuperseded {
			dropped := s.superseded[0]
			s.superseded = s.superseded[1:]
			s.log.Warn("Dropping superseded command without sentinel",
				zap.Uint64("seq", dropped.seq),
				zap.String("command", dropped.command),
			)
		}
	}
	s.acc.Reset()

	s.pending = &pendingCommand{
		seq:       seq,
		command:   command,
		callback:  cb,
		debug:     debug,
		mode:      mode,
		async:     mode == ModeAsync,
		startedAt: time.Now(),
	}
	if mode == ModeAsync {
		s.gate.Bind(seq)
	}
	proc := s.proc
	s.mu.Unlock()

	eol := s.profile.LineEnding
	payload := command + eol + s.classifier.SentinelCommand(seq, s.profile.StatusExpr) + eol

	if _, err := io.WriteString(proc.Stdin(), payload); err != nil {
		s.log.Error("Failed to write command",
			zap.Uint64("seq", seq),
			zap.String("command", command),
			zap.Error(err),
		)
		return 0, fmt.Errorf("write command: %w", err)
	}

	s.log.Debug("Command submitted",
		zap.Uint64("seq", seq),
		zap.String("mode", mode),
		zap.String("command", command),
	)
	return seq, nil
}

func (s *Session) readLoop(proc Process) {
	r := bufio.NewReaderSize(proc.Output(), 64*1024)

	var readErr error
	for {
		line, truncated, err := readLine(r, maxLineSize)
		if truncated {
			s.log.Warn("Output line truncated",
				zap.Int("limit", maxLineSize),
				zap.Int("kept", len(line)),
			)
		}
		if err != nil {
			if line != "" {
				s.handleLine(strings.TrimRight(line, "\r"))
			}
			readErr = err
			break
		}
		s.handleLine(strings.TrimRight(line, "\r"))
	}

	// Output can no longer be attributed to commands; a live interpreter
	// would leave every later command waiting for a sentinel.
	if !errors.Is(readErr, io.EOF) {
		proc.Kill()
	}
	s.handleExit(proc, readErr)
}

// readLine reads one line of any length, keeping at most limit bytes of it.
// The rest of an over-long line is consumed and dropped.
func readLine(r *bufio.Reader, limit int) (string, bool, error) {
	var (
		buf       []byte
		truncated bool
	)
	for {
		frag, isPrefix, err := r.ReadLine()
		if err != nil {
			return string(buf), truncated, err
		}
		if room := limit - len(buf); len(frag) > room {
			frag = frag[:max(room, 0)]
			truncated = true
		}
		buf = append(buf, frag...)
		if !isPrefix {
			return string(buf), truncated, nil
		}
	}
}

func (s *Session) drainStderr(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, _, err := readLine(br, maxLineSize)
		if line != "" || err == nil {
			s.log.Warn("Interpreter stderr", zap.String("line", line))
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleLine(line string) {
	s.mu.Lock()
	debug := s.debug || (s.pending != nil && s.pending.debug)
	c := s.classifier.Classify(line, s.ready)

	var deliveries []delivery
	switch c.Kind {
	case LineReady:
		s.ready = true
		close(s.readyCh)
	case LineOutput:
		s.appendOutputLocked(line)
	case LineSentinel:
		deliveries = s.finishLocked(c)
	}
	s.mu.Unlock()

	if debug {
		s.raw.Info(line, zap.Stringer("kind", c.Kind))
	}
	s.cfg.Observer.ObserveLine(c.Kind.String())
	s.notify(line, c.Kind)

	for _, d := range deliveries {
		s.deliver(d)
	}
}

func (s *Session) appendOutputLocked(line string) {
	p := s.pending
	if p != nil && s.profile.StripEcho && !p.echoSeen && s.acc.Len() == 0 {
		if strings.HasSuffix(strings.TrimSpace(line), lastLine(p.command)) {
			p.echoSeen = true
			return
		}
	}
	s.acc.Append(line)
}

// finishLocked turns a sentinel into deliveries. A sentinel for a replaced
// command claims every line buffered since that command was submitted.
func (s *Session) finishLocked(c Classification) []delivery {
	now := time.Now()

	if p := s.pending; p != nil && p.seq == c.Seq {
		s.pending = nil
		lines := s.acc.Drain()
		s.forgetLocked(s.superseded)
		s.superseded = nil
		return []delivery{{cmd: p, result: s.buildResult(p, lines, c.Status, false, now)}}
	}

	for i, p := range s.superseded {
		if p.seq != c.Seq {
			continue
		}
		lines := p.lines
		for _, later := range s.superseded[i+1:] {
			lines = append(lines, later.lines...)
			later.lines = nil
		}
		lines = append(lines, s.acc.Drain()...)
		s.forgetLocked(s.superseded[:i])
		s.superseded = s.superseded[i+1:]
		return []delivery{{cmd: p, result: s.buildResult(p, lines, c.Status, true, now)}}
	}

	s.log.Warn("Sentinel for unknown command", zap.Uint64("seq", c.Seq))
	return nil
}

// forgetLocked logs superseded commands whose sentinels were overtaken by a
// newer one and can no longer arrive.
func (s *Session) forgetLocked(lost []*pendingCommand) {
	for _, p := range lost {
		s.log.Warn("Superseded command lost its sentinel",
			zap.Uint64("seq", p.seq),
			zap.String("command", p.command),
		)
	}
}

func (s *Session) buildResult(p *pendingCommand, lines []string, status int, superseded bool, finished time.Time) *Result {
	if lines == nil {
		lines = []string{}
	}
	return &Result{
		SessionID:  s.id,
		Seq:        p.seq,
		Command:    p.command,
		Lines:      lines,
		ExitCode:   status,
		Superseded: superseded,
		StartedAt:  p.startedAt,
		FinishedAt: finished,
	}
}

func (s *Session) deliver(d delivery) {
	r := d.result
	s.cfg.Observer.ObserveCommand(d.cmd.mode, OutcomeCompleted.String(), r.Duration(), len(r.Lines))

	if cb := d.cmd.callback; cb != nil {
		s.cfg.Dispatcher.Dispatch(func() { s.invoke(cb, r) })
	}
	if d.cmd.async {
		s.gate.Complete(d.cmd.seq, r)
	}
}

func (s *Session) invoke(cb Callback, r *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("Result callback panicked",
				zap.Uint64("seq", r.Seq),
				zap.Any("panic", rec),
			)
		}
	}()
	cb(r)
}

func (s *Session) handleExit(proc Process, readErr error) {
	waitErr := proc.Wait()

	s.mu.Lock()
	s.exited = true
	pending := s.pending
	s.pending = nil
	s.superseded = nil
	s.acc.Reset()
	readerDone := s.readerDone
	s.mu.Unlock()

	s.gate.Cancel()

	fields := []zap.Field{zap.Int("pid", proc.Pid())}
	if waitErr != nil {
		fields = append(fields, zap.NamedError("wait_error", waitErr))
	}
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		fields = append(fields, zap.NamedError("read_error", readErr))
	}
	if pending != nil && pending.mode != ModeExit {
		fields = append(fields, zap.String("pending_command", pending.command))
	}
	s.log.Info("Interpreter exited", fields...)

	close(readerDone)
}

// Close submits the exit command, releases the process and its streams and
// resolves any outstanding asynchronous wait. It is safe to call on a
// session that never started and to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateRunning || s.closing {
		if s.state == StateNotStarted {
			s.state = StateClosed
		}
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	exited := s.exited
	s.mu.Unlock()

	s.gate.Cancel()

	if !exited && s.profile.ExitCommand != "" {
		if _, err := s.submit(s.profile.ExitCommand, nil, false, ModeExit); err != nil {
			s.log.Debug("Exit command not delivered", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	proc := s.proc
	readerDone := s.readerDone
	s.mu.Unlock()

	proc.Stdin().Close()

	timer := time.NewTimer(s.cfg.CloseTimeout)
	defer timer.Stop()

	select {
	case <-readerDone:
	case <-timer.C:
		s.log.Warn("Interpreter did not exit, killing", zap.Int("pid", proc.Pid()))
		proc.Kill()
	}

	// Closing our read end also unblocks a reader stuck on output held open
	// by a grandchild.
	proc.Close()
	<-readerDone

	s.subMu.Lock()
	s.subs = nil
	s.subMu.Unlock()

	s.log.Info("Session closed")
	return nil
}

// Subscribe registers h for every raw line, in registration order. The
// returned function unregisters it and may be called more than once.
func (s *Session) Subscribe(h LineHandler) func() {
	s.subMu.Lock()
	s.nextSub++
	subID := s.nextSub
	s.subs = append(s.subs, subscriber{id: subID, handler: h})
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == subID {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Session) notify(line string, kind LineKind) {
	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.handler(line, kind)
	}
}

func lastLine(command string) string {
	command = strings.TrimSpace(command)
	if i := strings.LastIndexByte(command, '\n'); i >= 0 {
		return strings.TrimSpace(command[i+1:])
	}
	return command
}
