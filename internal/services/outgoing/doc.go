// Package outgoing turns locally composed messages into envelopes, records
// them in history and pushes them through the secure channel.
//
// Every submission is recorded as Queued before the first send attempt.
// Attempts are rate limited and retried with bounded backoff; the record
// ends Sent on success or Failed with the last error once attempts run out.
package outgoing
