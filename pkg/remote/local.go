package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ExitNotStarted is reported when the local program could not be started
const ExitNotStarted = 127

// LocalExecutor runs commands on this host. Storage nodes use it for
// formatting and mounting their own disks.
type LocalExecutor struct{}

// NewLocalExecutor creates a local executor
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

// IsLocalHost reports whether host names this machine
func IsLocalHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Execute runs cmd locally. The credential is ignored.
func (e *LocalExecutor) Execute(ctx context.Context, host string, _ Credential, cmd Command, timeout time.Duration) (Result, error) {
	if err := Validate(host, cmd, timeout); err != nil {
		return Result{Host: host}, err
	}
	if !IsLocalHost(host) {
		return Result{Host: host}, fmt.Errorf("%w: local executor cannot reach %s", ErrInvalidInput, host)
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(execCtx, cmd.Program, cmd.Args...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	err := c.Run()
	res := Result{
		Host:     host,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = ExitTimeout
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = ExitNotStarted
		res.Stderr = append(res.Stderr, []byte(err.Error())...)
	}
	return res, nil
}
