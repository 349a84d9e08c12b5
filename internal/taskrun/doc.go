// Package taskrun is the boundary to the remote task execution service.
//
// A run is one execution of a named remote task. The Runner interface exposes
// the three operations the rest of the system needs: start a run, block until
// its output items are available, and abort it best-effort. Failures surface
// as *RunError values carrying the service's error kind, message, and HTTP
// status; classify.go decides which of those mean "capacity exhausted, retry
// via the queue" versus "broken request, fail now". Keep that decision here;
// the try-first executor and the drainer must never diverge on it.
package taskrun
