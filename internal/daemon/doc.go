// Package daemon hosts the long-running scourd process: single-instance
// locking, the HTTP API for search submission and queue operations, and the
// externally triggered drain entry point.
package daemon
