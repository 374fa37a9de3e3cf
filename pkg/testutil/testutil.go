// Package testutil provides testing utilities for sqlstream
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
)

// TestLogger creates a test logger that writes to the test output
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext returns a context with a 30-second timeout that is cancelled
// when the test completes
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// WriteFile writes content to name inside a fresh temp dir and returns the path
func WriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Router is a core.Router that records emitted batches. When Err is set every
// Emit fails with it and nothing is recorded.
type Router struct {
	mu      sync.Mutex
	batches []core.RecordBatch
	Err     error
}

// Emit implements core.Router
func (r *Router) Emit(_ context.Context, batch core.RecordBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.batches = append(r.batches, batch)
	return nil
}

// Batches returns a copy of the recorded batches
func (r *Router) Batches() []core.RecordBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RecordBatch, len(r.batches))
	copy(out, r.batches)
	return out
}

var _ core.Router = (*Router)(nil)
