// Package async runs background work with panic recovery and timeouts.
//
// SafeGo fires and forgets; Group adds Wait for callers that must drain
// their work on shutdown or in tests; Batch fans a slice out to a bounded
// number of workers and collects the errors.
//
// Failures are logged through the logger carried by the context
// (observability.WithLogger), so background tasks keep the request's
// fields such as request_id.
//
// Webhook deliveries use Group; webhook retries use Batch.
package async
