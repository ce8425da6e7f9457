// Package autosave persists a session in the background: shortly after the
// pipeline structure changes, and periodically while unsaved changes exist.
package autosave
