package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jross/cumin-go/internal/hoststate"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListHostResults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := Run{
		ID:            "run-1",
		Query:         "D{host1,host2}",
		ResolvedHosts: []string{"host1", "host2"},
		Commands:      []string{"uptime"},
		Mode:          "sync",
		StartedAt:     time.Now(),
		FinishedAt:    time.Now(),
		ExitCode:      0,
	}
	require.NoError(t, s.SaveRun(ctx, run))

	require.NoError(t, s.SaveHostResult(ctx, run.ID, HostResult{
		Host: "host1", CommandIndex: 0, State: hoststate.Success, ExitCode: 0,
		Duration: time.Second, Stdout: []byte("up 1 day"), Stderr: nil,
	}))
	require.NoError(t, s.SaveHostResult(ctx, run.ID, HostResult{
		Host: "host2", CommandIndex: 0, State: hoststate.Failed, ExitCode: 1,
		Duration: 2 * time.Second, Stdout: nil, Stderr: []byte("connection refused"),
	}))

	results, err := s.ListHostResults(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "host1", results[0].Host)
	assert.Equal(t, "success", results[0].State)
	assert.Equal(t, "host2", results[1].Host)
	assert.Equal(t, "failed", results[1].State)
	assert.NotEmpty(t, results[0].StdoutDigest)
}

func TestOutputRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, Run{ID: "run-2", Query: "D{host1}", ResolvedHosts: []string{"host1"}, Commands: []string{"uptime"}, Mode: "sync"}))
	require.NoError(t, s.SaveHostResult(ctx, "run-2", HostResult{
		Host: "host1", CommandIndex: 0, State: hoststate.Success, ExitCode: 0,
		Stdout: []byte("hello world"), Stderr: []byte("warn: nothing"),
	}))

	stdout, stderr, err := s.Output(ctx, "run-2", "host1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(stdout))
	assert.Equal(t, "warn: nothing", string(stderr))
}

func TestCompressorRoundTrip(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)

	data := []byte("the quick brown fox jumps over the lazy dog")
	compressed, err := c.Compress(data)
	require.NoError(t, err)

	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, decompressed)
}

func TestCompressorEmptyInput(t *testing.T) {
	c, err := NewCompressor()
	require.NoError(t, err)

	compressed, err := c.Compress(nil)
	require.NoError(t, err)
	assert.Empty(t, compressed)

	decompressed, err := c.Decompress(nil)
	require.NoError(t, err)
	assert.Empty(t, decompressed)
}
