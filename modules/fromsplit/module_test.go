package fromsplit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

func split(t *testing.T, args []string, lines ...string) []record.Record {
	t.Helper()
	sink := operation.NewInterceptor()
	op, err := New(context.Background(), sink, args)
	require.NoError(t, err)
	require.Equal(t, operation.PatternLines, operation.Classify("fromsplit", op))
	for _, l := range lines {
		op.(operation.LineAcceptor).AcceptLine(l)
	}
	require.NoError(t, op.Finish())
	return sink.Records()
}

func TestFromSplit_Keys(t *testing.T) {
	out := split(t, []string{"-k", "user,shell", "-d", ":"}, "root:/bin/sh", "nobody:/bin/false:extra")
	assert.Equal(t, []record.Record{
		{"user": "root", "shell": "/bin/sh"},
		{"user": "nobody", "shell": "/bin/false", "2": "extra"},
	}, out)
}

func TestFromSplit_HeaderAndRegex(t *testing.T) {
	out := split(t, []string{"--header", "--regex", "-d", `\s+`}, "a b", "1   2")
	assert.Equal(t, []record.Record{{"a": "1", "b": "2"}}, out)
}

func TestFromSplit_InvalidArgs(t *testing.T) {
	_, err := New(context.Background(), operation.NewInterceptor(), []string{"-d", ""})
	assert.Error(t, err)
	_, err = New(context.Background(), operation.NewInterceptor(), []string{"--regex", "-d", "("})
	assert.Error(t, err)
}
