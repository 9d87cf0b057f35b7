// Package local implements a concrete, testable Transport that runs each
// host's command as a local subprocess. It stands in for the real SSH-like
// fan-out library, which §1 treats as an external collaborator: the host
// name is injected as an environment variable so a test command can branch
// per host without any actual remote connection.
package local

import (
	"bytes"
	"context"
	"os/exec"
	"sync"

	"github.com/jross/cumin-go/internal/command"
	"github.com/jross/cumin-go/internal/transport"
)

// HostEnvVar is the environment variable a dispatched command can read to
// learn which host it is notionally running on.
const HostEnvVar = "CUMIN_HOST"

// Shell is the interpreter invoked for every command, mirroring a typical
// SSH exec of a shell command string.
var Shell = []string{"/bin/sh", "-c"}

// Transport is the local-subprocess Transport implementation. Dispatch is
// non-blocking: each call spawns its own goroutine. Listener delivery is
// serialized process-wide through deliverMu, satisfying the "callback
// delivery is serialized" contract (§5) even though the transport itself
// runs many hosts concurrently.
type Transport struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	outputs   map[string][]byte
}

// New returns an empty local Transport.
func New() *Transport {
	return &Transport{outputs: make(map[string][]byte)}
}

// Dispatch runs cmd on host in its own goroutine, returning immediately.
// ctx bounds the whole call (the run's global deadline); cmd.Timeout, if
// set, additionally bounds this single host's execution.
func (t *Transport) Dispatch(ctx context.Context, cmd command.Command, host string, listener transport.EventListener) {
	go t.runOne(ctx, cmd, host, listener)
}

func (t *Transport) emit(fn func()) {
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	fn()
}

func (t *Transport) runOne(ctx context.Context, cmd command.Command, host string, listener transport.EventListener) {
	t.emit(func() { listener.OnPickup(host) })

	hostCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		hostCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, Shell[1:]...), cmd.Text)
	c := exec.CommandContext(hostCtx, Shell[0], args...)
	c.Env = []string{"PATH=/usr/bin:/bin", HostEnvVar + "=" + host}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if hostCtx.Err() != nil {
		t.emit(func() { listener.OnTimeout([]string{host}) })
		return
	}

	combined := append(append([]byte{}, stdout.Bytes()...), stderr.Bytes()...)
	t.mu.Lock()
	t.outputs[host] = combined
	t.mu.Unlock()

	if stdout.Len() > 0 {
		t.emit(func() { listener.OnStdout(host, stdout.Bytes()) })
	}
	if stderr.Len() > 0 {
		t.emit(func() { listener.OnStderr(host, stderr.Bytes()) })
	}

	rc := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			t.emit(func() { listener.OnError(host, err.Error()) })
			return
		}
	}
	t.emit(func() { listener.OnExit(host, rc) })
}

// IterOutputs groups every host's captured output by exact byte equality
// across the run so far.
func (t *Transport) IterOutputs() []transport.OutputGroup {
	t.mu.Lock()
	defer t.mu.Unlock()

	byOutput := make(map[string][]string)
	var order []string
	for host, out := range t.outputs {
		key := string(out)
		if _, ok := byOutput[key]; !ok {
			order = append(order, key)
		}
		byOutput[key] = append(byOutput[key], host)
	}

	var groups []transport.OutputGroup
	for _, key := range order {
		groups = append(groups, transport.OutputGroup{Hosts: byOutput[key], Output: []byte(key)})
	}
	return groups
}
