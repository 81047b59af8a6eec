// Package tide talks to the external tide-height service. The service is
// rate limited and flaky under load, so every request goes through a
// client-side limiter and the shared retry policy, with HTTP statuses
// classified into retryable and fatal failures.
package tide
