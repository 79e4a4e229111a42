package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/swiftfleet/pkg/log"
	"golang.org/x/crypto/ssh"
)

// DefaultSSHPort is used when the host carries no explicit port
const DefaultSSHPort = 22

// SSHExecutor runs commands on fleet hosts over SSH with password auth
type SSHExecutor struct {
	// Port overrides DefaultSSHPort for hosts given without a port
	Port int

	// HostKeyCallback verifies host keys. Fleet hosts are reinstalled
	// often, so the default accepts any key.
	HostKeyCallback ssh.HostKeyCallback

	dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// NewSSHExecutor creates an SSH executor with default settings
func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{
		Port:            DefaultSSHPort,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		dial:            ssh.Dial,
	}
}

// Execute runs cmd on host. It only returns an error for malformed input.
func (e *SSHExecutor) Execute(ctx context.Context, host string, cred Credential, cmd Command, timeout time.Duration) (Result, error) {
	if err := Validate(host, cmd, timeout); err != nil {
		return Result{Host: host}, err
	}
	if cred.User == "" {
		return Result{Host: host}, errors.Join(ErrInvalidInput, errors.New("empty ssh user"))
	}

	logger := log.WithNode(host)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	guard := &connGuard{}
	done := make(chan Result, 1)
	go func() {
		done <- e.run(e.address(host), cred, cmd, timeout, guard)
	}()

	select {
	case res := <-done:
		res.Host = host
		res.Duration = time.Since(start)
		logger.Debug().
			Str("command", cmd.String()).
			Int("exit_code", res.ExitCode).
			Dur("duration", res.Duration).
			Msg("Remote command finished")
		return res, nil
	case <-ctx.Done():
		guard.close()
		logger.Warn().
			Str("command", cmd.String()).
			Dur("timeout", timeout).
			Msg("Remote command timed out")
		return Result{
			Host:     host,
			ExitCode: ExitTimeout,
			Stderr:   []byte(ctx.Err().Error()),
			Duration: time.Since(start),
		}, nil
	}
}

func (e *SSHExecutor) run(addr string, cred Credential, cmd Command, timeout time.Duration, guard *connGuard) Result {
	hostKeyCallback := e.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	config := &ssh.ClientConfig{
		User: cred.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(cred.Password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cred.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dial := e.dial
	if dial == nil {
		dial = ssh.Dial
	}
	client, err := dial("tcp", addr, config)
	if err != nil {
		return transportFailure(err)
	}
	if !guard.set(client) {
		return Result{ExitCode: ExitTimeout}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return transportFailure(err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Stdin != nil {
		session.Stdin = bytes.NewReader(cmd.Stdin)
	}

	err = session.Run(cmd.String())
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case errors.As(err, &missingErr):
		res.ExitCode = ExitTransport
		res.Stderr = append(res.Stderr, []byte(err.Error())...)
	default:
		res.ExitCode = ExitTransport
		res.Stderr = append(res.Stderr, []byte(err.Error())...)
	}
	return res
}

func (e *SSHExecutor) address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	port := e.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func transportFailure(err error) Result {
	return Result{ExitCode: ExitTransport, Stderr: []byte(err.Error())}
}

// connGuard closes the connection of a command abandoned at its deadline
type connGuard struct {
	mu     sync.Mutex
	conn   io.Closer
	closed bool
}

// set registers c; it returns false (and closes c) if the deadline already passed
func (g *connGuard) set(c io.Closer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		c.Close()
		return false
	}
	g.conn = c
	return true
}

func (g *connGuard) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.conn != nil {
		g.conn.Close()
	}
}
