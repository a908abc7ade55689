//go:build unix

package process

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// alive reports whether pid still runs. Zombies awaiting a reaper count as
// dead.
func alive(pid int32) bool {
	p, err := process.NewProcess(pid)
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func TestRun_TimeoutKillsDescendants(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"terminate reaches the group", "sleep 31.7 & echo $!; wait"},
		{"kill reaches descendants ignoring terminate", "trap '' TERM; sleep 31.8 & echo $!; wait"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor(t)

			res := s.Run(context.Background(), []string{"sh", "-c", tt.script}, 300*time.Millisecond, nil)
			require.True(t, res.TimedOut)

			pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
			require.NoError(t, err, "stdout: %q", res.Stdout)

			assert.Eventually(t, func() bool { return !alive(int32(pid)) },
				2*time.Second, 20*time.Millisecond, "descendant %d survived the timeout", pid)
		})
	}
}
