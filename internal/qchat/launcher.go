package qchat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/qrelay/internal/command"
)

const (
	// DefaultCommand is the agent executable.
	DefaultCommand = "q"

	// QuitDirective ends an interactive q chat session.
	QuitDirective = "/quit"

	// defaultMaxStderrBytes caps how much of the error stream is kept.
	defaultMaxStderrBytes = 64 * 1024
)

// DefaultArgs starts an interactive chat session.
var DefaultArgs = []string{"chat"}

// Config holds configuration for launching the agent.
type Config struct {
	// Command is the executable to run.
	Command string

	// Args are the command-line arguments.
	Args []string

	// Dir is the working directory of the process.
	Dir string

	// TempDir holds the short-lived input files. Empty means os.TempDir().
	TempDir string

	// MaxStderrBytes caps the retained error output.
	MaxStderrBytes int
}

// CommandLauncher launches the agent as a local subprocess.
type CommandLauncher struct {
	config Config
	logger *slog.Logger
}

// NewCommandLauncher creates a launcher, filling in defaults.
func NewCommandLauncher(cfg Config, logger *slog.Logger) *CommandLauncher {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Args == nil {
		cfg.Args = DefaultArgs
	}
	if cfg.MaxStderrBytes <= 0 {
		cfg.MaxStderrBytes = defaultMaxStderrBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandLauncher{
		config: cfg,
		logger: logger.With(slog.String("component", "qchat.launcher")),
	}
}

// Input appends the quit directive to prompt so the session ends by itself
// once the answer has been printed.
func Input(prompt string) string {
	return strings.TrimRight(prompt, "\n") + "\n" + QuitDirective + "\n"
}

// Launch writes input to a private temp file, starts the process with that
// file as its standard input and returns immediately. The temp file is
// removed before Launch returns, whatever the outcome; the started process
// keeps its own handle to it.
func (l *CommandLauncher) Launch(ctx context.Context, input string) (Process, error) {
	inputFile, err := os.CreateTemp(l.config.TempDir, "qchat-input-*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create input file: %w", err)
	}
	defer func() {
		_ = inputFile.Close()
		if rmErr := os.Remove(inputFile.Name()); rmErr != nil {
			l.logger.WarnContext(ctx, "failed to remove input file",
				slog.String("path", inputFile.Name()),
				slog.Any("error", rmErr))
		}
	}()

	if _, err := inputFile.WriteString(input); err != nil {
		return nil, fmt.Errorf("failed to write input file: %w", err)
	}
	if _, err := inputFile.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to rewind input file: %w", err)
	}

	cmd := command.NewCommand(l.config.Command, l.config.Args...).
		WithContext(ctx).
		WithDir(l.config.Dir).
		Cmd()
	cmd.Stdin = inputFile

	proc, err := startProcess(cmd, l.config.MaxStderrBytes)
	if err != nil {
		return nil, err
	}

	l.logger.DebugContext(ctx, "q chat started",
		slog.Int("pid", proc.pid()),
		slog.Int("input_bytes", len(input)))
	return proc, nil
}
