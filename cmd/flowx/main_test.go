package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgong/flowx/internal/queue"
)

func TestRunCommand_WritesResponse(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	t.Chdir(t.TempDir())
	out := filepath.Join(t.TempDir(), "response.json")

	root := newRootCmd()
	root.SetArgs([]string{"run", "greet", "--out", out, "--plugin", "none", "--", "sh", "-c", "echo hello"})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, 1.0, resp["task_count"])

	results := resp["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "success", first["status"])
	summary := first["output_summary"].(map[string]any)
	assert.Equal(t, "hello\n", summary["truncated_output"])
}

func TestRunCommand_FailingCommandStillSucceeds(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	t.Chdir(t.TempDir())
	out := filepath.Join(t.TempDir(), "response.json")

	root := newRootCmd()
	root.SetArgs([]string{"run", "broken", "--out", out, "--", "sh", "-c", "exit 2"})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(data, &resp))

	first := resp["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "error", first["status"])
	assert.Contains(t, resp["metadata"], "optimized")
}

func TestRunCommand_UnknownPlugin(t *testing.T) {
	t.Chdir(t.TempDir())

	root := newRootCmd()
	root.SetArgs([]string{"run", "x", "--plugin", "tracing", "--", "true"})
	assert.ErrorContains(t, root.Execute(), "unknown plugin")
}

func TestHistoryRequiresRedis(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLOWX_REDIS_ENABLED", "false")

	root := newRootCmd()
	root.SetArgs([]string{"history"})
	assert.ErrorContains(t, root.Execute(), "redis.enabled")
}

func TestSubmitRequiresRedis(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLOWX_REDIS_ENABLED", "false")

	root := newRootCmd()
	root.SetArgs([]string{"submit", "later"})
	assert.ErrorContains(t, root.Execute(), "redis.enabled")
}

func TestSubmitRejectsUnknownPriority(t *testing.T) {
	t.Chdir(t.TempDir())

	root := newRootCmd()
	root.SetArgs([]string{"submit", "later", "--priority", "urgent"})
	assert.ErrorContains(t, root.Execute(), "unknown priority")
}

func TestSubmitThenRunFromQueue(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	t.Chdir(t.TempDir())
	mr := miniredis.RunT(t)
	t.Setenv("FLOWX_REDIS_ENABLED", "true")
	t.Setenv("FLOWX_REDIS_HOST", mr.Host())
	t.Setenv("FLOWX_REDIS_PORT", mr.Port())

	var ids []string
	for _, args := range [][]string{
		{"submit", "first", "--priority", "high", "--", "sh", "-c", "echo first"},
		{"submit", "second", "--", "sh", "-c", "echo second"},
	} {
		var stdout bytes.Buffer
		root := newRootCmd()
		root.SetOut(&stdout)
		root.SetArgs(args)
		require.NoError(t, root.Execute())
		ids = append(ids, strings.TrimSpace(stdout.String()))
	}
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])

	out := filepath.Join(t.TempDir(), "response.json")
	root := newRootCmd()
	root.SetArgs([]string{"run", "main", "--parallel", "--from-queue", "--plugin", "none", "--out", out, "--", "sh", "-c", "echo main"})
	require.NoError(t, root.Execute())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, 3.0, resp["task_count"])
	assert.Len(t, resp["results"], 3)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	size, err := queue.NewRedisQueue(client).Size(context.Background())
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestServeRequiresRedis(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLOWX_REDIS_ENABLED", "false")

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	assert.ErrorContains(t, root.Execute(), "redis.enabled")
}
