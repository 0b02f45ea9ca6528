/*
Package resilience guards interpreter spawning with circuit breakers.

A profile whose interpreter keeps failing to start (missing binary or no
ready signal) trips its breaker. While open, further
spawn attempts fail immediately with ErrCircuitOpen instead of forking a
process that is known to fail. After Cooldown one trial spawn is let
through; success closes the breaker again.

	Closed --[failures]-> Open --[cooldown]-> HalfOpen --[success]-> Closed
	                                             |
	                                         [failure]
	                                             v
	                                            Open

Breakers are grouped by key, one per shell profile:

	group := resilience.NewGroup(resilience.Settings{Failures: 3, Cooldown: 30 * time.Second})
	err := group.Get("bash").Do(func() error {
		return sess.Start(ctx)
	})
*/
package resilience
