package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

const (
	// ExitTimeout is reported when the command did not finish in time
	ExitTimeout = -1

	// ExitTransport is reported when the host could not be reached or
	// refused the credential, matching the exit status of ssh(1)
	ExitTransport = 255
)

// ErrInvalidInput is returned for malformed local input only; remote-side
// failures are always reported through Result
var ErrInvalidInput = errors.New("invalid remote exec input")

// Credential is the shared fleet login used on every host
type Credential struct {
	User     string
	Password string
}

// Command is a program plus its argument list. Arguments are never
// interpolated into a shell string by callers.
type Command struct {
	Program string
	Args    []string
	Stdin   []byte
}

// NewCommand builds a command from a program and its arguments
func NewCommand(program string, args ...string) Command {
	return Command{Program: program, Args: args}
}

// WithStdin returns a copy of c that feeds data on standard input
func (c Command) WithStdin(data []byte) Command {
	c.Stdin = data
	return c
}

// String renders the command as a quoted shell line
func (c Command) String() string {
	return shellquote.Join(append([]string{c.Program}, c.Args...)...)
}

// Result is the outcome of one command on one host
type Result struct {
	Host     string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// OK reports whether the command exited with status 0
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// TimedOut reports whether the command was abandoned at its deadline
func (r Result) TimedOut() bool {
	return r.ExitCode == ExitTimeout
}

// Reason summarizes a failed result for reports and logs
func (r Result) Reason() string {
	if r.OK() {
		return ""
	}
	msg := strings.TrimSpace(string(r.Stderr))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	switch {
	case r.TimedOut():
		return fmt.Sprintf("timed out after %s", r.Duration.Round(time.Second))
	case msg == "":
		return fmt.Sprintf("exit status %d", r.ExitCode)
	default:
		return fmt.Sprintf("exit status %d: %s", r.ExitCode, msg)
	}
}

// Executor runs a command on a named host under the shared credential
type Executor interface {
	Execute(ctx context.Context, host string, cred Credential, cmd Command, timeout time.Duration) (Result, error)
}

// Validate checks the local inputs shared by every executor
func Validate(host string, cmd Command, timeout time.Duration) error {
	if strings.TrimSpace(host) == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidInput)
	}
	if strings.TrimSpace(cmd.Program) == "" {
		return fmt.Errorf("%w: empty program", ErrInvalidInput)
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidInput, timeout)
	}
	return nil
}
