// Package handler implements the two scheduling algorithms that drive a
// command sequence across a target's hosts: the synchronous barrier
// handler (§4.10) and the asynchronous per-host pipeline handler (§4.11).
package handler

import (
	"context"

	"github.com/jross/cumin-go/internal/command"
	"github.com/jross/cumin-go/internal/target"
	"github.com/jross/cumin-go/internal/transport"
)

// Mode selects which scheduling algorithm drives a run.
type Mode string

const (
	Sync  Mode = "sync"
	Async Mode = "async"
)

// Result summarizes a completed run's per-host outcomes, used by the
// runner to compute an exit code and by the reporter to render summaries.
type Result struct {
	Total            int
	Success          int
	Failed           int
	Timeout          int
	FailedNodes      map[string][]string // command text -> hosts that failed it
	LastCommandIndex int                 // index of the last command attempted (sync: the aborting command, if any)
}

// Ratio returns Success/Total, or 1 when Total is zero (nothing to do).
func (r Result) Ratio() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Success) / float64(r.Total)
}

// ExitCode maps a Result and the configured success threshold to the
// process exit code described in §6: 0 full success, 1 threshold met but
// not every host succeeded, 2 otherwise.
func ExitCode(r Result, threshold float64) int {
	ratio := r.Ratio()
	switch {
	case ratio >= 1.0:
		return 0
	case ratio >= threshold:
		return 1
	default:
		return 2
	}
}

// Handler is the contract both scheduling algorithms implement.
type Handler interface {
	Run(ctx context.Context, tgt target.Target, commands []command.Command, tr transport.Transport, threshold float64) (Result, error)
}
