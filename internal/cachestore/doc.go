// Package cachestore persists cached stage outputs inside a session
// directory. Each (input, stage) pair is one JSON-lines file under cache/,
// described by a ManifestEntry that the session document carries.
package cachestore
