// Package retry is the single retry policy for calls that touch the
// rate-limited external tide service: exponential backoff with jitter,
// a bounded attempt budget, and an explicit retryable-vs-fatal failure
// classification. Exhausting the budget converts the last transient
// failure into a fatal one so no task retries forever.
package retry
