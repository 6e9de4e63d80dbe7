package sshutil

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"golang.org/x/crypto/ssh"
)

// Result holds the captured output of a remote command.
// Stdout and Stderr are trimmed of surrounding whitespace.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs a single shell command on a gateway.
type Runner interface {
	Execute(ctx context.Context, spec ConnectionSpec, command string) (*Result, error)
}

// DialFunc opens an authenticated connection; replaced in tests.
type DialFunc func(ctx context.Context, spec ConnectionSpec) (*Client, error)

// Executor runs one command per SSH connection. It keeps no state between
// calls: every Execute dials, runs, and closes.
type Executor struct {
	log  logger.Logger
	dial DialFunc
}

// NewExecutor creates an Executor that logs through log.
func NewExecutor(log logger.Logger) *Executor {
	if log == nil {
		log = logger.Noop()
	}
	return &Executor{log: log, dial: Dial}
}

// Execute opens a new session to spec, runs command in the user's default
// shell, and closes the connection before returning.
//
// A command that runs but exits non-zero is not an error; the exit code is
// reported in Result. Non-empty stderr is logged as a warning.
func (e *Executor) Execute(ctx context.Context, spec ConnectionSpec, command string) (*Result, error) {
	client, err := e.dial(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConnection,
			"Failed to create SSH session",
			"Connection may have been closed. Try again.")
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	e.log.Debug("running on %s: %s", client.Address, command)

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		// Closing the connection unblocks Run.
		client.Close()
		<-done
		return nil, errors.WrapWithCode(ctx.Err(), errors.ErrExec,
			fmt.Sprintf("Command cancelled: %s", command),
			"")
	}

	result := &Result{}
	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			return nil, errors.WrapWithCode(runErr, errors.ErrExec,
				fmt.Sprintf("Failed to execute command: %s", command),
				"Check if the command exists on the gateway.")
		}
	}

	result.Stdout = strings.TrimSpace(stdoutBuf.String())
	result.Stderr = strings.TrimSpace(stderrBuf.String())

	if result.Stderr != "" {
		e.log.Warn("command produced error output: %s", result.Stderr)
	}
	if result.ExitCode != 0 {
		e.log.Warn("command exited with status %d: %s", result.ExitCode, command)
	}

	return result, nil
}
