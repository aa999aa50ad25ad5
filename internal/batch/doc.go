// Package batch turns configured task definitions into pacer tasks.
//
// Each kind (http, exec, sleep) produces a Result describing what the task
// did. Per-task timeouts belong to the task itself; the engine never cancels
// work it has dispatched.
package batch
