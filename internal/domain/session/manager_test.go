package session

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Chino66/Command-Tool-Develop/internal/infrastructure/resilience"
	"github.com/Chino66/Command-Tool-Develop/internal/shell"
)

type staticProfiles map[string]shell.Profile

func (s staticProfiles) Get(name, workDir string) (shell.Profile, bool) {
	p, ok := s[name]
	if ok && p.Dir == "" {
		p.Dir = workDir
	}
	return p, ok
}

func (s staticProfiles) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type countingRecorder struct {
	mu       sync.Mutex
	started  map[string]int
	failures map[string]int
	active   int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{started: map[string]int{}, failures: map[string]int{}}
}

func (r *countingRecorder) ObserveLine(string) {}
func (r *countingRecorder) ObserveCommand(string, string, time.Duration, int) {}

func (r *countingRecorder) SessionStarted(profile string) {
	r.mu.Lock()
	r.started[profile]++
	r.mu.Unlock()
}

func (r *countingRecorder) SpawnFailed(profile, reason string) {
	r.mu.Lock()
	r.failures[profile+"/"+reason]++
	r.mu.Unlock()
}

func (r *countingRecorder) SetSessionsActive(n int) {
	r.mu.Lock()
	r.active = n
	r.mu.Unlock()
}

func testProfiles() staticProfiles {
	broken := shell.DefaultProfile()
	broken.Name = "broken"
	broken.Shell = "/nonexistent/interpreter"

	return staticProfiles{
		"sh":     shell.DefaultProfile(),
		"broken": broken,
	}
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	if cfg.Profiles == nil {
		cfg.Profiles = testProfiles()
	}
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	m := NewManager(cfg)
	t.Cleanup(m.CloseAll)
	return m
}

func TestManagerCreateExecClose(t *testing.T) {
	rec := newCountingRecorder()
	m := newTestManager(t, Config{Recorder: rec, WorkDir: os.TempDir()})
	ctx := context.Background()

	entry, err := m.Create(ctx, CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())

	got, err := m.Get(entry.ID())
	require.NoError(t, err)
	assert.Same(t, entry, got)

	info := entry.Info()
	assert.Equal(t, "sh", info.Profile)
	assert.Equal(t, "running", info.State)
	assert.True(t, info.Ready)
	assert.NotZero(t, info.Pid)

	r, err := entry.Exec(ctx, "pwd", 0)
	require.NoError(t, err)
	require.Len(t, r.Lines, 1)

	require.NoError(t, m.Close(entry.ID()))
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, "closed", entry.Info().State)

	_, err = m.Get(entry.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Close(entry.ID()), ErrNotFound)

	rec.mu.Lock()
	assert.Equal(t, 1, rec.started["sh"])
	assert.Equal(t, 0, rec.active)
	rec.mu.Unlock()
}

func TestManagerList(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	first, err := m.Create(ctx, CreateOptions{})
	require.NoError(t, err)
	second, err := m.Create(ctx, CreateOptions{Profile: "sh", Debug: true})
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, first.ID(), infos[0].ID)
	assert.Equal(t, second.ID(), infos[1].ID)
	assert.False(t, infos[0].Debug)
	assert.True(t, infos[1].Debug)
}

func TestManagerUnknownProfile(t *testing.T) {
	m := newTestManager(t, Config{})

	_, err := m.Create(context.Background(), CreateOptions{Profile: "fish"})
	assert.ErrorIs(t, err, ErrUnknownProfile)
	assert.Equal(t, []string{"broken", "sh"}, m.Profiles())
}

func TestManagerMaxSessions(t *testing.T) {
	m := newTestManager(t, Config{MaxSessions: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Create(ctx, CreateOptions{})
		require.NoError(t, err)
	}

	_, err := m.Create(ctx, CreateOptions{})
	assert.ErrorIs(t, err, ErrTooManySessions)

	infos := m.List()
	require.NoError(t, m.Close(infos[0].ID))

	_, err = m.Create(ctx, CreateOptions{})
	assert.NoError(t, err, "closing frees a slot")
}

func TestManagerFailedStartFreesSlot(t *testing.T) {
	m := newTestManager(t, Config{MaxSessions: 1})
	ctx := context.Background()

	_, err := m.Create(ctx, CreateOptions{Profile: "broken"})
	assert.ErrorIs(t, err, shell.ErrStartup)

	_, err = m.Create(ctx, CreateOptions{})
	assert.NoError(t, err)
}

func TestManagerSpawnBreaker(t *testing.T) {
	rec := newCountingRecorder()
	m := newTestManager(t, Config{
		Recorder: rec,
		Breakers: resilience.NewGroup(resilience.Settings{Failures: 2, Cooldown: time.Hour}),
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Create(ctx, CreateOptions{Profile: "broken"})
		assert.ErrorIs(t, err, shell.ErrStartup)
	}

	_, err := m.Create(ctx, CreateOptions{Profile: "broken"})
	assert.ErrorIs(t, err, ErrProfileUnhealthy)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	_, err = m.Create(ctx, CreateOptions{Profile: "sh"})
	assert.NoError(t, err, "other profiles are unaffected")

	assert.Equal(t, "open", m.Breakers()["broken"])
	assert.Equal(t, "closed", m.Breakers()["sh"])

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 2, rec.failures["broken/start"])
	assert.Equal(t, 1, rec.failures["broken/circuit_open"])
}

func TestEntryWatch(t *testing.T) {
	m := newTestManager(t, Config{})
	entry, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	events := make(chan Event, 64)
	unwatch := entry.Watch(func(ev Event) { events <- ev })

	require.NoError(t, entry.Run("echo streamed"))

	var sawLine bool
	var result *shell.Result
	deadline := time.After(3 * time.Second)
	for result == nil {
		select {
		case ev := <-events:
			assert.Equal(t, entry.ID(), ev.SessionID)
			switch ev.Type {
			case EventLine:
				if ev.Line == "streamed" && ev.Kind == "output" {
					sawLine = true
				}
			case EventResult:
				result = ev.Result
			}
		case <-deadline:
			t.Fatal("no result event")
		}
	}
	assert.True(t, sawLine)
	assert.Equal(t, []string{"streamed"}, result.Lines)

	unwatch()
	_, err = entry.Exec(context.Background(), "echo unseen", time.Second)
	require.NoError(t, err)

	for {
		select {
		case ev := <-events:
			assert.NotEqual(t, "unseen", ev.Line)
			continue
		default:
		}
		break
	}
}

func TestEntryClosedEvent(t *testing.T) {
	m := newTestManager(t, Config{})
	entry, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	closed := make(chan struct{}, 1)
	entry.Watch(func(ev Event) {
		if ev.Type == EventClosed {
			closed <- struct{}{}
		}
	})

	require.NoError(t, m.Close(entry.ID()))
	select {
	case <-closed:
	default:
		t.Fatal("watcher not told about close")
	}
}

func TestManagerCloseAll(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	var entries []*Entry
	for i := 0; i < 3; i++ {
		e, err := m.Create(ctx, CreateOptions{})
		require.NoError(t, err)
		entries = append(entries, e)
	}

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
	for _, e := range entries {
		assert.Equal(t, shell.StateClosed, e.Session().State())
	}

	_, err := m.Create(ctx, CreateOptions{})
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManagerRunOnce(t *testing.T) {
	m := newTestManager(t, Config{MaxSessions: 1})
	ctx := context.Background()

	_, err := m.Create(ctx, CreateOptions{})
	require.NoError(t, err)

	r, err := m.RunOnce(ctx, "", "echo one-shot; false", 0)
	require.NoError(t, err, "one-shot runs do not count against the session limit")
	assert.Equal(t, []string{"one-shot"}, r.Lines)
	assert.Equal(t, 1, r.ExitCode)
	assert.Equal(t, 1, m.Count())

	_, err = m.RunOnce(ctx, "sh", "sleep 1", 50*time.Millisecond)
	assert.ErrorIs(t, err, shell.ErrTimeout)
	assert.Equal(t, "closed", m.Breakers()["sh"], "timeouts do not trip the spawn breaker")

	_, err = m.RunOnce(ctx, "fish", "echo", 0)
	assert.ErrorIs(t, err, ErrUnknownProfile)

	_, err = m.RunOnce(ctx, "broken", "echo", 0)
	assert.ErrorIs(t, err, shell.ErrStartup)
}

func TestEntryInfoAfterInterpreterExit(t *testing.T) {
	m := newTestManager(t, Config{})

	entry, err := m.Create(context.Background(), CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, entry.Run("exit 3"))
	require.Eventually(t, func() bool { return entry.Info().State == "closed" }, 2*time.Second, 10*time.Millisecond)

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, "closed", list[0].State)
	require.NoError(t, m.Close(entry.ID()))
}
