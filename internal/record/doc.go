// Package record holds the minimal record value model shared by the
// executor, the cache store and the compiled-in operations: a record is a
// JSON object, and streams of records travel as JSON lines.
package record
