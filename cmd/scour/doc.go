// Command scour is the operator CLI for the scourd daemon: submit and poll
// searches, trigger queue drains, and inspect or mutate the durable queue.
// Commands prefer the daemon's HTTP API and fall back to reading the queue
// store directly when the daemon is not running.
package main
