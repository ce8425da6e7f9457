package app

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/vk/recsexplorer/internal/config"
	"github.com/vk/recsexplorer/internal/operation"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// SetupAppTest creates a new app instance for system testing. Sessions are
// stored in a temporary directory and the app is closed when the test ends.
func SetupAppTest(t *testing.T, mutate func(*config.Config), modules ...operation.Module) (*App, *SafeBuffer) {
	t.Helper()

	cfg := config.Default()
	cfg.SessionsDir = t.TempDir()
	cfg.LogLevel = "debug"
	if mutate != nil {
		mutate(&cfg)
	}

	logBuffer := &SafeBuffer{}
	testApp := NewApp(logBuffer, &cfg, modules...)

	t.Cleanup(func() {
		_ = testApp.Close(context.Background())
		if os.Getenv("RECSX_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}
