// Package remotetest provides an in-memory fleet for exercising code that
// drives hosts through remote.Executor.
package remotetest

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/swiftfleet/pkg/archive"
	"github.com/cuemby/swiftfleet/pkg/remote"
)

// Call is one command observed by the fake
type Call struct {
	Host    string
	Command remote.Command
}

// Handler can answer a command before the built-in emulation; returning
// handled=false falls through
type Handler func(host string, cmd remote.Command) (res remote.Result, handled bool)

// FakeExecutor emulates a fleet of hosts with in-memory filesystems. It
// understands mkdir -p, test -f, chown, tar -xzf - -C DIR and
// tar -czf - -C DIR . which is what metadata propagation uses.
type FakeExecutor struct {
	mu          sync.Mutex
	files       map[string]map[string][]byte // host -> path -> content
	unreachable map[string]bool
	handlers    []Handler
	calls       []Call
}

// NewFakeExecutor creates an empty fake fleet
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		files:       make(map[string]map[string][]byte),
		unreachable: make(map[string]bool),
	}
}

// SetUnreachable makes every command to host fail at the transport level
func (f *FakeExecutor) SetUnreachable(hosts ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range hosts {
		f.unreachable[h] = true
	}
}

// Handle registers a handler consulted before the built-in emulation
func (f *FakeExecutor) Handle(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// PutFile places a file on a host
func (f *FakeExecutor) PutFile(host, p string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hostFiles(host)[path.Clean(p)] = data
}

// File returns a file stored on a host
func (f *FakeExecutor) File(host, p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[host][path.Clean(p)]
	return data, ok
}

// Files lists the paths stored on a host under dir
func (f *FakeExecutor) Files(host, dir string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := path.Clean(dir) + "/"
	var out []string
	for p := range f.files[host] {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Calls returns every command observed so far
func (f *FakeExecutor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the commands observed for one host
func (f *FakeExecutor) CallsTo(host string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Host == host {
			out = append(out, c)
		}
	}
	return out
}

// Hosts returns the distinct hosts contacted, in first-contact order
func (f *FakeExecutor) Hosts() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range f.Calls() {
		if !seen[c.Host] {
			seen[c.Host] = true
			out = append(out, c.Host)
		}
	}
	return out
}

// Execute implements remote.Executor
func (f *FakeExecutor) Execute(ctx context.Context, host string, cred remote.Credential, cmd remote.Command, timeout time.Duration) (remote.Result, error) {
	if err := remote.Validate(host, cmd, timeout); err != nil {
		return remote.Result{Host: host}, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Host: host, Command: cmd})
	unreachable := f.unreachable[host]
	handlers := append([]Handler(nil), f.handlers...)
	f.mu.Unlock()

	if unreachable {
		return remote.Result{Host: host, ExitCode: remote.ExitTransport, Stderr: []byte("ssh: connect to host " + host + ": No route to host")}, nil
	}
	for _, h := range handlers {
		if res, ok := h(host, cmd); ok {
			res.Host = host
			return res, nil
		}
	}

	res := f.emulate(host, cmd)
	res.Host = host
	return res, nil
}

func (f *FakeExecutor) emulate(host string, cmd remote.Command) remote.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	args := cmd.Args
	switch cmd.Program {
	case "mkdir", "chown", "true":
		return remote.Result{}
	case "test":
		if len(args) == 2 && args[0] == "-f" {
			if _, ok := f.files[host][path.Clean(args[1])]; ok {
				return remote.Result{}
			}
			return remote.Result{ExitCode: 1}
		}
	case "tar":
		if len(args) >= 4 && args[0] == "-xzf" && args[1] == "-" && args[2] == "-C" {
			files, err := archive.UnpackFiles(cmd.Stdin)
			if err != nil {
				return remote.Result{ExitCode: 2, Stderr: []byte(err.Error())}
			}
			for name, data := range files {
				f.hostFiles(host)[path.Join(args[3], name)] = data
			}
			return remote.Result{}
		}
		if len(args) >= 4 && args[0] == "-czf" && args[1] == "-" && args[2] == "-C" {
			prefix := path.Clean(args[3]) + "/"
			files := make(map[string][]byte)
			for p, data := range f.files[host] {
				if strings.HasPrefix(p, prefix) {
					files[strings.TrimPrefix(p, prefix)] = data
				}
			}
			if len(files) == 0 {
				return remote.Result{ExitCode: 2, Stderr: []byte("tar: " + args[3] + ": Cannot open: No such file or directory")}
			}
			data, _, err := archive.PackFiles(files)
			if err != nil {
				return remote.Result{ExitCode: 2, Stderr: []byte(err.Error())}
			}
			return remote.Result{Stdout: data}
		}
	}
	// Unknown commands succeed, like an agent that is installed and healthy
	return remote.Result{}
}

func (f *FakeExecutor) hostFiles(host string) map[string][]byte {
	m, ok := f.files[host]
	if !ok {
		m = make(map[string][]byte)
		f.files[host] = m
	}
	return m
}
