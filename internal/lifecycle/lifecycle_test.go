package lifecycle

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("status commands run through /bin/sh")
	}
}

func TestCommandStatus(t *testing.T) {
	skipWithoutShell(t)

	tests := []struct {
		name    string
		command string
		started bool
	}{
		{name: "exit 0", command: "true", started: true},
		{name: "exit 3", command: "exit 3", started: false},
		{name: "pipeline", command: "echo RUNNING | grep -q RUNNING", started: true},
		{name: "missing program", command: "definitely-not-a-command-xyz", started: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCommandStatus(tt.command, zaptest.NewLogger(t))
			started, err := d.Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.started, started)
		})
	}
}

func TestCommandStatus_Timeout(t *testing.T) {
	skipWithoutShell(t)

	d := NewCommandStatus("sleep 5", nil)
	d.Timeout = 100 * time.Millisecond

	start := time.Now()
	started, err := d.Status(context.Background())
	require.Error(t, err)
	assert.False(t, started)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCommandStatus_Environment(t *testing.T) {
	skipWithoutShell(t)
	t.Setenv("NMHEALTH_TEST_SECRET", "hunter2")
	t.Setenv("HADOOP_CONF_DIR", "/etc/hadoop/conf")

	d := NewCommandStatus(`test -z "$NMHEALTH_TEST_SECRET" && test "$HADOOP_CONF_DIR" = /etc/hadoop/conf`, zaptest.NewLogger(t))
	started, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, started)

	d = NewCommandStatus(`test "$SERVICE" = resourcemanager`, nil).WithEnv(map[string]string{"SERVICE": "resourcemanager"})
	started, err = d.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, started)
}

func TestCommandStatus_BadShell(t *testing.T) {
	d := NewCommandStatus("true", nil)
	d.Shell = "/nonexistent/shell"

	_, err := d.Status(context.Background())
	require.Error(t, err)
}

func TestUnsupportedHooks(t *testing.T) {
	ctx := context.Background()
	for _, d := range []Driver{AlwaysStarted{}, NewCommandStatus("true", nil)} {
		assert.ErrorIs(t, d.Install(ctx), ErrNotSupported)
		assert.ErrorIs(t, d.Configure(ctx), ErrNotSupported)
		assert.ErrorIs(t, d.Start(ctx), ErrNotSupported)
		assert.ErrorIs(t, d.Stop(ctx), ErrNotSupported)
	}
}

func TestForCommand(t *testing.T) {
	assert.IsType(t, AlwaysStarted{}, ForCommand("  ", nil))
	assert.IsType(t, &CommandStatus{}, ForCommand("systemctl is-active hadoop-yarn-resourcemanager", nil))

	started, err := AlwaysStarted{}.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, started)
}
