// Package transport defines the abstract worker/transport contract the
// execution engine drives (§4.9): the interface a real remote fan-out
// library (out of scope per §1) would implement, plus the event
// notifications a handler receives as hosts progress.
package transport

import (
	"context"

	"github.com/jross/cumin-go/internal/command"
)

// EventListener receives the lifecycle notifications a Transport emits
// while executing a command against one host at a time. A Transport
// serializes callback delivery against itself, but a listener may still
// be invoked concurrently with its owner's own controller goroutine (for
// example, while that goroutine is still seeding the initial admission
// window), so a stateful listener implementation must guard any state it
// shares between the two (§5).
type EventListener interface {
	OnPickup(host string)
	OnStdout(host string, chunk []byte)
	OnStderr(host string, chunk []byte)
	OnExit(host string, rc int)
	// OnTimeout reports the hosts whose command did not complete before
	// its deadline; they transition to the terminal Timeout state.
	OnTimeout(hosts []string)
	OnError(host string, msg string)
}

// OutputGroup pairs a set of hosts with the single byte-identical output
// buffer they all produced, per the reporter's de-duplication (§4.12).
type OutputGroup struct {
	Hosts  []string
	Output []byte
}

// Transport is the contract every remote fan-out backend satisfies.
// Dispatch queues cmd against a single host and returns immediately; the
// transport notifies listener as that host's execution progresses. ctx
// bounds the call (the run's global deadline); cmd.Timeout, if set,
// additionally bounds this one host.
type Transport interface {
	Dispatch(ctx context.Context, cmd command.Command, host string, listener EventListener)

	// IterOutputs groups every host's captured stdout+stderr by exact
	// byte equality across the whole run so far (§4.12).
	IterOutputs() []OutputGroup
}
