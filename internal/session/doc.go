// Package session persists pipeline states to disk. Every session is a
// directory under a base directory holding the session document
// (session.json), a small metadata file for listings (meta.json) and the
// cached stage outputs (cache/).
package session
