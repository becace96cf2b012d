// Package retry provides the two backoff shapes used by dcafs.
//
// Linear is the capped linear schedule used by the stream reconnect
// supervisor. It never gives up; it only grows the delay up to a ceiling:
//
//	backoff := retry.Linear{Increment: 5 * time.Second, Max: 30 * time.Second}
//	backoff.Delay(0) // 5s
//	backoff.Delay(7) // 30s
//
// Do runs a bounded exponential retry loop for one-off operations such as
// establishing the NATS connection of an output:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//		return client.dial()
//	})
//
// Wrap an error with NonRetryable to stop the loop immediately.
package retry
