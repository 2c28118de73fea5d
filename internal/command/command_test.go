package command

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommandOutput(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		args     []string
		wantErr  bool
		contains string
	}{
		{
			name:     "simple echo command",
			command:  "echo",
			args:     []string{"hello", "world"},
			contains: "hello world",
		},
		{
			name:    "command not found",
			command: "nonexistentcommand123",
			wantErr: true,
		},
		{
			name:     "command with exit code",
			command:  "sh",
			args:     []string{"-c", "exit 1"},
			wantErr:  true,
			contains: "(exit code 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := NewCommand(tt.command, tt.args...).Run()
			if tt.wantErr {
				require.Error(t, err)
				if tt.contains != "" {
					assert.Contains(t, err.Error(), tt.contains)
				}
				return
			}
			require.NoError(t, err)
			assert.Contains(t, output, tt.contains)
		})
	}
}

func TestRunCombined(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := runCombined(ctx, defaultDir, "sleep", "5")
		assert.Error(t, err)
	})

	t.Run("respects existing deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := NewCommand("sleep", "5").WithContext(ctx).WithTimeout(0).Run()
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestBuilder(t *testing.T) {
	t.Run("basic command", func(t *testing.T) {
		output, err := NewCommand("echo", "hello").Run()
		require.NoError(t, err)
		assert.Contains(t, output, "hello")
	})

	t.Run("with custom timeout", func(t *testing.T) {
		start := time.Now()
		_, err := NewCommand("sleep", "5").WithTimeout(200 * time.Millisecond).Run()
		assert.Error(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("with canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewCommand("echo", "hello").WithContext(ctx).Run()
		assert.Error(t, err)
	})

	t.Run("with dir", func(t *testing.T) {
		dir := t.TempDir()
		output, err := NewCommand("pwd").WithDir(dir).Run()
		require.NoError(t, err)

		want, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		got, err := filepath.EvalSymlinks(strings.TrimSpace(output))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("cmd is unstarted and bound to dir", func(t *testing.T) {
		dir := t.TempDir()
		cmd := NewCommand("sh", "-c", "echo ok > marker").WithDir(dir).Cmd()
		assert.Nil(t, cmd.Process)
		assert.Equal(t, dir, cmd.Dir)

		require.NoError(t, cmd.Run())
		_, err := os.Stat(filepath.Join(dir, "marker"))
		assert.NoError(t, err)
	})
}

func TestErrorMessages(t *testing.T) {
	t.Run("includes command and args in error", func(t *testing.T) {
		_, err := NewCommand("sh", "-c", "exit 42").Run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sh -c exit 42")
		assert.Contains(t, err.Error(), "exit code 42")
	})

	t.Run("includes output in error", func(t *testing.T) {
		_, err := NewCommand("sh", "-c", "echo 'error output' && exit 1").Run()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error output")
	})
}
