// Package lifecycle holds the service lifecycle hooks that sit next to the
// health alert. The evaluator never uses them; the scheduler asks Status to
// decide whether a target is worth evaluating.
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"nmhealth-go/internal/secureenv"
)

// ErrNotSupported is returned by hooks a driver does not implement.
var ErrNotSupported = errors.New("lifecycle operation not supported")

// DefaultStatusTimeout bounds a status command.
const DefaultStatusTimeout = 10 * time.Second

// Driver manages the monitored service.
type Driver interface {
	Install(ctx context.Context) error
	Configure(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Status reports whether the service is started.
	Status(ctx context.Context) (bool, error)
}

// AlwaysStarted is the driver used when a target has no status command.
type AlwaysStarted struct{}

func (AlwaysStarted) Install(context.Context) error        { return ErrNotSupported }
func (AlwaysStarted) Configure(context.Context) error      { return ErrNotSupported }
func (AlwaysStarted) Start(context.Context) error          { return ErrNotSupported }
func (AlwaysStarted) Stop(context.Context) error           { return ErrNotSupported }
func (AlwaysStarted) Status(context.Context) (bool, error) { return true, nil }

// CommandStatus reports status by running a shell command: exit 0 means
// started, any other exit code means stopped.
type CommandStatus struct {
	Command string
	// Shell defaults to /bin/sh.
	Shell   string
	Timeout time.Duration
	// Env is the command's whole environment, built by secureenv.
	Env    []string
	logger *zap.Logger
}

// NewCommandStatus creates a driver around command.
func NewCommandStatus(command string, logger *zap.Logger) *CommandStatus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandStatus{
		Command: command,
		Shell:   "/bin/sh",
		Timeout: DefaultStatusTimeout,
		Env:     secureenv.NewManager(nil).BuildSecureEnvironment(),
		logger:  logger.Named("lifecycle"),
	}
}

// WithEnv rebuilds the environment with vars added to the allowed
// variables of the daemon.
func (c *CommandStatus) WithEnv(vars map[string]string) *CommandStatus {
	config := secureenv.DefaultEnvConfig()
	for k, v := range vars {
		config.CustomVars[k] = v
	}
	c.Env = secureenv.NewManager(config).BuildSecureEnvironment()
	return c
}

// ForCommand returns AlwaysStarted for an empty command.
func ForCommand(command string, logger *zap.Logger) Driver {
	if strings.TrimSpace(command) == "" {
		return AlwaysStarted{}
	}
	return NewCommandStatus(command, logger)
}

func (c *CommandStatus) Install(context.Context) error   { return ErrNotSupported }
func (c *CommandStatus) Configure(context.Context) error { return ErrNotSupported }
func (c *CommandStatus) Start(context.Context) error     { return ErrNotSupported }
func (c *CommandStatus) Stop(context.Context) error      { return ErrNotSupported }

// Status runs the command. A non-zero exit is a stopped service, not an
// error; failing to run the command at all is.
func (c *CommandStatus) Status(ctx context.Context) (bool, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := c.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, shell, "-c", c.Command)
	cmd.Stderr = &stderr
	cmd.Env = c.Env
	// Children of the shell may hold stderr open after it is killed.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, fmt.Errorf("status command: %w", ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		c.logger.Debug("Status command reports service stopped",
			zap.String("command", c.Command),
			zap.Int("exit_code", exitErr.ExitCode()),
			zap.String("stderr", strings.TrimSpace(stderr.String())))
		return false, nil
	}
	return false, fmt.Errorf("status command: %w", err)
}

var (
	_ Driver = AlwaysStarted{}
	_ Driver = (*CommandStatus)(nil)
)
