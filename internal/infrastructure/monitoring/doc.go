/*
Package monitoring provides Prometheus metrics for the hub.

# Metrics

- HTTP request count and latency per route
- Connected agents and hub<->agent message counts
- Active shell bridges and relayed shell bytes
- HyperDeck command outcomes and round trip time

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics)
	resp, err := conn.HyperDeckCommand(ctx, ip, command)
	timer.Stop(outcome(err))
*/
package monitoring
