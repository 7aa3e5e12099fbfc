// Package retry provides an exponential-backoff Policy for dispatch calls.
//
// Transport failures are retried. Caller errors (unknown operation,
// missing parameters, unknown capability) fail immediately. Results that
// complete with success=false are retried only when RetryUpstream is set.
package retry
