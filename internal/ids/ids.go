// Package ids generates the identifiers used for stages, forks, inputs and
// sessions. Identifiers are ULIDs: lexically sortable by creation time, safe
// to embed in file names, and unique within a process thanks to monotonic
// entropy.
package ids

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mutex   sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a fresh identifier stamped with the current time.
func New() string {
	return NewFromTime(time.Now())
}

// NewFromTime returns a fresh identifier stamped with t.
func NewFromTime(t time.Time) string {
	mutex.Lock()
	defer mutex.Unlock()

	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Valid reports whether s parses as an identifier produced by this package.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
