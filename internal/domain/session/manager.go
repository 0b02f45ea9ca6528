package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/resilience"
	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

// ProfileSource resolves profile names.
type ProfileSource interface {
	Get(name, workDir string) (shell.Profile, bool)
	Names() []string
}

// Recorder receives session lifecycle metrics.
type Recorder interface {
	shell.Observer
	SessionStarted(profile string)
	SpawnFailed(profile, reason string)
	SetSessionsActive(count int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveLine(string) {}
func (nopRecorder) ObserveCommand(string, string, time.Duration, int) {}
func (nopRecorder) SessionStarted(string) {}
func (nopRecorder) SpawnFailed(string, string) {}
func (nopRecorder) SetSessionsActive(int) {}

// Config configures a Manager.
type Config struct {
	Profiles       ProfileSource
	DefaultProfile string
	WorkDir        string

	Timeout      time.Duration
	StartTimeout time.Duration
	CloseTimeout time.Duration
	Debug        bool
	MaxSessions  int

	// Breakers guard spawning per profile. Nil uses a default group.
	Breakers *resilience.Group
	Recorder Recorder
	Logger   *zap.Logger
}

// CreateOptions selects how a session is created.
type CreateOptions struct {
	Profile string `json:"profile"`
	Debug   bool   `json:"debug"`
}

// Manager owns all live sessions.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Entry
	pending  int
	closed   bool
}

// NewManager creates an empty registry.
func NewManager(cfg Config) *Manager {
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewGroup(resilience.Settings{})
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 16
	}
	if cfg.DefaultProfile == "" {
		cfg.DefaultProfile = shell.DefaultProfile().Name
	}

	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		sessions: make(map[string]*Entry),
	}
}

// Profiles returns the names of the profiles sessions can be created from.
func (m *Manager) Profiles() []string {
	if m.cfg.Profiles == nil {
		return []string{m.cfg.DefaultProfile}
	}
	return m.cfg.Profiles.Names()
}

// Create starts a session from the named profile and registers it.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Entry, error) {
	name := opts.Profile
	if name == "" {
		name = m.cfg.DefaultProfile
	}
	profile, err := m.resolve(name)
	if err != nil {
		return nil, err
	}

	if err := m.reserve(); err != nil {
		return nil, err
	}
	registered := false
	defer func() {
		if !registered {
			m.unreserve()
		}
	}()

	dispatcher := shell.NewQueueDispatcher(0)
	sess := shell.New(shell.Config{
		Profile:      profile,
		Dispatcher:   dispatcher,
		Logger:       m.log,
		Observer:     m.cfg.Recorder,
		Timeout:      m.cfg.Timeout,
		StartTimeout: m.cfg.StartTimeout,
		CloseTimeout: m.cfg.CloseTimeout,
		Debug:        m.cfg.Debug || opts.Debug,
	})

	err = m.cfg.Breakers.Get(name).Do(func() error {
		return sess.Start(ctx)
	})
	if err != nil {
		dispatcher.Close()
		return nil, m.spawnFailed(name, err)
	}

	entry := newEntry(sess, dispatcher)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		entry.close()
		return nil, ErrManagerClosed
	}
	m.pending--
	m.sessions[entry.ID()] = entry
	registered = true
	count := len(m.sessions)
	m.mu.Unlock()

	m.cfg.Recorder.SessionStarted(name)
	m.cfg.Recorder.SetSessionsActive(count)
	m.log.Info("Session created",
		zap.String("session_id", entry.ID()),
		zap.String("profile", name),
		zap.Int("pid", sess.Pid()),
		zap.Int("active", count),
	)
	return entry, nil
}

func (m *Manager) resolve(name string) (shell.Profile, error) {
	if m.cfg.Profiles == nil {
		if name != m.cfg.DefaultProfile {
			return shell.Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
		}
		p := shell.DefaultProfile()
		if p.Dir == "" {
			p.Dir = m.cfg.WorkDir
		}
		return p, nil
	}

	p, ok := m.cfg.Profiles.Get(name, m.cfg.WorkDir)
	if !ok {
		return shell.Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return p, nil
}

// reserve claims a slot so concurrent Creates cannot exceed MaxSessions
// while their interpreters are still starting.
func (m *Manager) reserve() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}
	if len(m.sessions)+m.pending >= m.cfg.MaxSessions {
		return fmt.Errorf("%w (%d)", ErrTooManySessions, m.cfg.MaxSessions)
	}
	m.pending++
	return nil
}

func (m *Manager) unreserve() {
	m.mu.Lock()
	m.pending--
	m.mu.Unlock()
}

func (m *Manager) spawnFailed(profile string, err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		m.cfg.Recorder.SpawnFailed(profile, "circuit_open")
		m.log.Warn("Refusing to spawn failing profile", zap.String("profile", profile))
		return fmt.Errorf("%w: %s: %w", ErrProfileUnhealthy, profile, err)
	}

	m.cfg.Recorder.SpawnFailed(profile, "start")
	m.log.Error("Session failed to start", zap.String("profile", profile), zap.Error(err))
	return err
}

// RunOnce runs command in a throwaway session of the named profile. The
// session is not registered and does not count against MaxSessions.
func (m *Manager) RunOnce(ctx context.Context, profileName, command string, timeout time.Duration) (*shell.Result, error) {
	if profileName == "" {
		profileName = m.cfg.DefaultProfile
	}
	profile, err := m.resolve(profileName)
	if err != nil {
		return nil, err
	}

	cfg := shell.Config{
		Profile:      profile,
		Logger:       m.log,
		Observer:     m.cfg.Recorder,
		Timeout:      m.cfg.Timeout,
		StartTimeout: m.cfg.StartTimeout,
		CloseTimeout: m.cfg.CloseTimeout,
		Debug:        m.cfg.Debug,
	}
	var opts []shell.RunOption
	if timeout > 0 {
		opts = append(opts, shell.WithTimeout(timeout))
	}

	var (
		result *shell.Result
		runErr error
	)
	err = m.cfg.Breakers.Get(profileName).Do(func() error {
		result, runErr = shell.RunOnce(ctx, cfg, command, opts...)
		if errors.Is(runErr, shell.ErrStartup) {
			return runErr
		}
		// Only start failures count against the profile.
		return nil
	})
	if err != nil {
		return nil, m.spawnFailed(profileName, err)
	}
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry, nil
}

// List returns all sessions, oldest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	entries := make([]*Entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close closes and unregisters one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	err := entry.close()
	m.cfg.Recorder.SetSessionsActive(count)
	m.log.Info("Session closed", zap.String("session_id", id), zap.Int("active", count))
	return err
}

// CloseAll closes every session and refuses further creates.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	entries := make([]*Entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*Entry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			if err := e.close(); err != nil {
				m.log.Warn("Failed to close session", zap.String("session_id", e.ID()), zap.Error(err))
			}
		}(e)
	}
	wg.Wait()

	m.cfg.Recorder.SetSessionsActive(0)
	m.log.Info("All sessions closed", zap.Int("count", len(entries)))
}

// Breakers reports the spawn breaker state of every profile tried so far.
func (m *Manager) Breakers() map[string]string {
	states := m.cfg.Breakers.States()
	out := make(map[string]string, len(states))
	for name, st := range states {
		out[name] = st.String()
	}
	return out
}
