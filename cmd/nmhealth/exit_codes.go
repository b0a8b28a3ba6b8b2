package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	bolterrors "go.etcd.io/bbolt/errors"

	"nmhealth-go/internal/contracts"
)

// Exit codes. The check command exits with the alert state's code
// (0 OK, 1 WARNING, 2 CRITICAL, 3 UNKNOWN); the others use these.
const (
	ExitCodeSuccess         = 0
	ExitCodeGeneralError    = 1
	ExitCodePortConflict    = 2 // listen address in use
	ExitCodeDBLocked        = 3 // history file held by another process
	ExitCodeConfigError     = 4
	ExitCodePermissionError = 5
)

// exitError carries an explicit exit code out of a command. reported means
// the command already printed the error.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// stateExit ends the check command with the state's exit code.
func stateExit(state contracts.AlertState) error {
	if state.ExitCode() == ExitCodeSuccess {
		return nil
	}
	return &exitError{code: state.ExitCode()}
}

// configError marks err as a configuration problem.
func configError(err error) error {
	return &exitError{code: ExitCodeConfigError, err: err}
}

// classifyError picks an exit code for an error that carries none.
func classifyError(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, syscall.EADDRINUSE):
		return ExitCodePortConflict
	case errors.Is(err, bolterrors.ErrTimeout):
		return ExitCodeDBLocked
	case errors.Is(err, os.ErrPermission):
		return ExitCodePermissionError
	default:
		return ExitCodeGeneralError
	}
}

// exitCodeDescription is appended to classified errors on stderr.
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodePortConflict:
		return "Port conflict - address already in use"
	case ExitCodeDBLocked:
		return "Database locked by another process"
	case ExitCodeConfigError:
		return "Configuration error"
	case ExitCodePermissionError:
		return "Permission denied"
	default:
		return "Unknown error"
	}
}
