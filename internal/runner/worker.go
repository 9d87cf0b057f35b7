// Package runner implements the Worker (§4.9): the top-level object that
// ties a resolved Target, a command sequence, a Handler and a Transport
// together into a single Execute() call.
package runner

import (
	"context"
	"time"

	"github.com/jross/cumin-go/internal/command"
	"github.com/jross/cumin-go/internal/handler"
	"github.com/jross/cumin-go/internal/runerrors"
	"github.com/jross/cumin-go/internal/target"
	"github.com/jross/cumin-go/internal/transport"
)

// Worker drives one command sequence against one resolved Target.
type Worker struct {
	Target           target.Target
	Commands         []command.Command
	Handler          handler.Handler
	Transport        transport.Transport
	SuccessThreshold float64
	GlobalTimeout    time.Duration // zero means unlimited

	result handler.Result
	ran    bool
}

// New validates its arguments per §4.9's pre-checks and builds a Worker.
// A nil handler defaults to handler.NewSync() when exactly one command is
// supplied; it is an error for any other command count.
func New(tgt target.Target, commands []command.Command, h handler.Handler, tr transport.Transport, threshold float64, globalTimeout time.Duration) (*Worker, error) {
	if len(commands) == 0 {
		return nil, runerrors.ErrEmptyCommands
	}
	if h == nil {
		if len(commands) > 1 {
			return nil, runerrors.ErrMissingHandler
		}
		h = handler.NewSync()
	}
	if threshold < 0 || threshold > 1 {
		return nil, runerrors.ErrInvalidThreshold
	}
	return &Worker{
		Target:           tgt,
		Commands:         commands,
		Handler:          h,
		Transport:        tr,
		SuccessThreshold: threshold,
		GlobalTimeout:    globalTimeout,
	}, nil
}

// Execute runs the command sequence to completion and returns the process
// exit code described in §6 (0 full success, 1 threshold met, 2 otherwise).
func (w *Worker) Execute(ctx context.Context) (int, error) {
	runCtx := ctx
	if w.GlobalTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.GlobalTimeout)
		defer cancel()
	}

	result, err := w.Handler.Run(runCtx, w.Target, w.Commands, w.Transport, w.SuccessThreshold)
	if err != nil {
		return runerrors.ExitCode(err), err
	}
	w.result = result
	w.ran = true
	return handler.ExitCode(result, w.SuccessThreshold), nil
}

// Result returns the last Execute call's Result. Its zero value before the
// first call has Total == 0.
func (w *Worker) Result() handler.Result {
	return w.result
}

// GetResults returns every host's captured output grouped by exact byte
// equality, per §4.9/§4.12.
func (w *Worker) GetResults() []transport.OutputGroup {
	return w.Transport.IterOutputs()
}
