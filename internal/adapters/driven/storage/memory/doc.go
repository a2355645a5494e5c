// Package memory provides in-memory implementations of the driven ports.
// They back the service tests and hold nothing beyond the process.
package memory
