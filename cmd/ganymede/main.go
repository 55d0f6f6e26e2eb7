// Ganymede is an admission control and resilience layer for AI agent
// platforms.
//
// It decides, per request, whether a subject may proceed: token-bucket
// rate limits, calendar quotas, cost budgets, and concurrency ceilings
// are checked in one pass, and outbound provider calls are guarded by
// per-target circuit breakers.
//
// Usage:
//
//	# Start the status/metrics server with default configuration
//	ganymede run
//
//	# Start with a custom configuration file
//	ganymede run --config /etc/ganymede/config.yaml
//
//	# Validate configuration without starting
//	ganymede validate
//
//	# Show version information
//	ganymede version
package main

func main() {
	Execute()
}
