/*
Package resilience provides a circuit breaker for calls to devices that are
expected to fail often.

The agent probes every Blackmagic device it finds on the LAN. Most failures
(timeouts, refused connections, protocol errors) are normal during black box
probing, so each device gets its own breaker from a Group and an unreachable
device is retried once per Timeout instead of on every scan.

# Usage

	probes := resilience.NewGroup(resilience.Settings{
		Timeout:     60 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	err := probes.Get(mac).Do(func() error {
		details, err = probe(ctx, ip)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// skipped this round
	}

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
