package handler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jross/cumin-go/internal/command"
	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/target"
	"github.com/jross/cumin-go/internal/transport"
)

// scriptedTransport is a fake Transport driven by per-(host, command text)
// outcomes, dispatched synchronously on the calling goroutine so tests stay
// deterministic. timeoutHosts short-circuits to OnTimeout instead.
type scriptedTransport struct {
	mu           sync.Mutex
	exitCodes    map[string]map[string]int // host -> command text -> exit code
	timeoutHosts map[string]bool
	outputs      map[string][]byte
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		exitCodes:    map[string]map[string]int{},
		timeoutHosts: map[string]bool{},
		outputs:      map[string][]byte{},
	}
}

func (s *scriptedTransport) failOn(host, cmdText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitCodes[host] == nil {
		s.exitCodes[host] = map[string]int{}
	}
	s.exitCodes[host][cmdText] = 1
}

func (s *scriptedTransport) timeoutOn(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutHosts[host] = true
}

func (s *scriptedTransport) Dispatch(ctx context.Context, cmd command.Command, host string, listener transport.EventListener) {
	s.mu.Lock()
	timeout := s.timeoutHosts[host]
	rc := s.exitCodes[host][cmd.Text]
	s.mu.Unlock()

	if timeout {
		listener.OnTimeout([]string{host})
		return
	}
	listener.OnExit(host, rc)
}

func (s *scriptedTransport) IterOutputs() []transport.OutputGroup { return nil }

// goroutineTransport dispatches every host on its own goroutine, mirroring
// local.Transport's concurrency shape, so a test run under -race exercises
// the same controller-goroutine-vs-delivery-goroutine overlap the real
// transport produces.
type goroutineTransport struct {
	mu        sync.Mutex
	failHosts map[string]bool
}

func newGoroutineTransport() *goroutineTransport {
	return &goroutineTransport{failHosts: map[string]bool{}}
}

func (g *goroutineTransport) failOn(host string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failHosts[host] = true
}

func (g *goroutineTransport) Dispatch(ctx context.Context, cmd command.Command, host string, listener transport.EventListener) {
	go func() {
		g.mu.Lock()
		fail := g.failHosts[host]
		g.mu.Unlock()
		if fail {
			listener.OnExit(host, 1)
			return
		}
		listener.OnExit(host, 0)
	}()
}

func (g *goroutineTransport) IterOutputs() []transport.OutputGroup { return nil }

func buildTarget(hosts ...string) target.Target {
	return target.New(hostset.New(hosts...), 0, 0)
}

// S4 — Sync threshold pass: 5 hosts, commands [ok, ok], threshold 1.0.
func TestSyncThresholdPass(t *testing.T) {
	tr := newScriptedTransport()
	tgt := buildTarget("host1", "host2", "host3", "host4", "host5")
	cmds := []command.Command{command.New("ok1", 0, nil), command.New("ok2", 0, nil)}

	res, err := NewSync().Run(context.Background(), tgt, cmds, tr, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Success)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 0, ExitCode(res, 1.0))
}

// S5 — Sync threshold fail: command 1 fails on 3/5 hosts (ratio 0.4 < 0.5);
// command 2 must never be dispatched.
func TestSyncThresholdFail(t *testing.T) {
	tr := newScriptedTransport()
	tr.failOn("host1", "cmd1")
	tr.failOn("host2", "cmd1")
	tr.failOn("host3", "cmd1")
	tgt := buildTarget("host1", "host2", "host3", "host4", "host5")
	cmds := []command.Command{command.New("cmd1", 0, nil), command.New("cmd2", 0, nil)}

	res, err := NewSync().Run(context.Background(), tgt, cmds, tr, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 0, res.LastCommandIndex, "command 2 must never have been attempted")
	assert.Equal(t, 2, ExitCode(res, 0.5))
}

// S6 — Async per-host short-circuit: host2 fails command 1, others pass
// every command; host2 never receives command 2.
func TestAsyncPerHostShortCircuit(t *testing.T) {
	tr := newScriptedTransport()
	tr.failOn("host2", "cmd1")
	tgt := buildTarget("host1", "host2", "host3", "host4", "host5")
	cmds := []command.Command{command.New("cmd1", 0, nil), command.New("cmd2", 0, nil)}

	res, err := NewAsync().Run(context.Background(), tgt, cmds, tr, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"host2"}, res.FailedNodes["cmd1"])
}

// S7 — Per-command timeout: all hosts land in timeout.
func TestSyncAllHostsTimeout(t *testing.T) {
	tr := newScriptedTransport()
	hosts := []string{"host1", "host2", "host3", "host4", "host5"}
	for _, h := range hosts {
		tr.timeoutOn(h)
	}
	tgt := buildTarget(hosts...)
	cmds := []command.Command{command.New("sleep 2", 0, nil)}

	res, err := NewSync().Run(context.Background(), tgt, cmds, tr, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Timeout)
	assert.Equal(t, 0, res.Success)
	assert.Equal(t, 2, ExitCode(res, 1.0))
}

// TestSyncBatchedAdmissionConcurrentDelivery drives a batch window smaller
// than the host set across a goroutine-per-host transport, so the
// controller goroutine seeding the initial window overlaps delivery
// goroutines completing and refilling it — the scenario that once raced on
// hoststate.Table and the wave counters.
func TestSyncBatchedAdmissionConcurrentDelivery(t *testing.T) {
	hosts := make([]string, 20)
	for i := range hosts {
		hosts[i] = string(rune('a'+i%26)) + "host"
	}
	tr := newGoroutineTransport()
	tgt := target.New(hostset.New(hosts...), 3, 0)
	cmds := []command.Command{command.New("ok", 0, nil)}

	res, err := NewSync().Run(context.Background(), tgt, cmds, tr, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Success)
	assert.Equal(t, 0, res.Failed)
}

// TestAsyncBatchedAdmissionConcurrentDelivery is the async-handler analog
// of TestSyncBatchedAdmissionConcurrentDelivery: a batch window smaller
// than the host set, admitted and refilled across goroutine-per-host
// delivery, with one host failing partway through its pipeline.
func TestAsyncBatchedAdmissionConcurrentDelivery(t *testing.T) {
	hosts := make([]string, 20)
	for i := range hosts {
		hosts[i] = string(rune('a'+i%26)) + "host"
	}
	tr := newGoroutineTransport()
	tr.failOn(hosts[5])
	tgt := target.New(hostset.New(hosts...), 4, 0)
	cmds := []command.Command{command.New("ok", 0, nil), command.New("ok2", 0, nil)}

	res, err := NewAsync().Run(context.Background(), tgt, cmds, tr, 0)
	require.NoError(t, err)
	assert.Equal(t, 19, res.Success)
	assert.Equal(t, 1, res.Failed)
}
