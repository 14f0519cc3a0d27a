// Package retry provides simple exponential backoff retry logic for transient failures.
//
// # Overview
//
// This package offers a minimal retry mechanism with exponential backoff for
// transient failures in broker connections, resource initialization, and
// component startup.
//
// # Core Functions
//
//   - Do: Execute function with retry and exponential backoff
//   - DoWithResult: Execute function with retry, returns both result and error
//
// # Configuration Presets
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay (normal operations)
//   - Quick(): 10 attempts, 50ms-1s delay (component startup)
//   - Persistent(): 30 attempts, 200ms-10s delay (critical resources)
//
// # Usage Examples
//
// Connect to a broker with retries during startup:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Mark validation failures so they fail fast:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    if err := cfg.Validate(); err != nil {
//	        return retry.NonRetryable(err)
//	    }
//	    return open(cfg)
//	})
//
// Retry delays respect context cancellation, so a shutting-down component
// never sits out a full backoff window.
package retry
