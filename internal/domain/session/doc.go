// Package session is the registry of live interpreter sessions.
//
// The Manager is constructed explicitly and passed to whoever needs it;
// there is no package-level instance. It creates sessions from named
// profiles, guards spawning with one circuit breaker per profile and
// bounds the number of concurrent sessions.
//
// Each registered session is wrapped in an Entry that fans raw lines and
// command results out to watchers, which is how the WebSocket layer streams
// a session's activity.
//
// Example Usage:
//
//	mgr := session.NewManager(session.Config{Profiles: profiles, DefaultProfile: "sh"})
//	defer mgr.CloseAll()
//
//	entry, err := mgr.Create(ctx, session.CreateOptions{})
//	result, err := entry.Exec(ctx, "ls -la", 0)
package session
