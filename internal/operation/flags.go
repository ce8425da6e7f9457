package operation

import (
	"io"

	"github.com/spf13/pflag"
)

// NewFlagSet returns a flag set for parsing an operation's argument list.
// Parse errors are returned rather than printed.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}
