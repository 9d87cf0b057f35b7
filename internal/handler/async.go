package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jross/cumin-go/internal/command"
	"github.com/jross/cumin-go/internal/hoststate"
	"github.com/jross/cumin-go/internal/obs"
	"github.com/jross/cumin-go/internal/target"
	"github.com/jross/cumin-go/internal/transport"
)

// AsyncHandler is the per-host pipeline handler (§4.11): each host runs its
// own command sequence independently and fails fast on its own first
// failure, instead of waiting for the rest of the host set.
type AsyncHandler struct{}

// NewAsync returns an AsyncHandler.
func NewAsync() *AsyncHandler { return &AsyncHandler{} }

func (h *AsyncHandler) Run(ctx context.Context, tgt target.Target, commands []command.Command, tr transport.Transport, threshold float64) (Result, error) {
	table := hoststate.NewTable(tgt.Hosts.Slice())
	result := Result{Total: tgt.Hosts.Len(), FailedNodes: map[string][]string{}}
	if len(commands) == 0 || result.Total == 0 {
		return result, nil
	}

	sorted := tgt.Hosts.Slice()
	firstBatch := tgt.FirstBatch.Slice()

	var limiter *rate.Limiter
	if tgt.BatchSleep > 0 {
		limiter = rate.NewLimiter(rate.Every(tgt.BatchSleep), 1)
	}

	mgr := &pipelineManager{
		ctx:      ctx,
		tr:       tr,
		commands: commands,
		table:    table,
		pending:  append([]string{}, sorted[len(firstBatch):]...),
		limiter:  limiter,
		done:     make(chan struct{}),
		failures: make(map[string][]string),
	}
	mgr.total = len(sorted)

	// The seeding loop counts as one started pipeline, so done cannot
	// close before every host of the first batch has been started.
	mgr.mu.Lock()
	mgr.started++
	mgr.mu.Unlock()
	for _, host := range firstBatch {
		mgr.start(host)
	}
	mgr.mu.Lock()
	mgr.started--
	shouldClose := mgr.started == mgr.finished && len(mgr.pending) == 0 && !mgr.closed
	mgr.closed = mgr.closed || shouldClose
	mgr.mu.Unlock()
	if shouldClose {
		close(mgr.done)
	}

	<-mgr.done

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	for cmdText, hosts := range mgr.failures {
		result.FailedNodes[cmdText] = hosts
	}
	for _, st := range table.Snapshot() {
		switch st {
		case hoststate.Success:
			result.Success++
		case hoststate.Failed:
			result.Failed++
		case hoststate.Timeout:
			result.Timeout++
		}
	}
	return result, nil
}

// pipelineManager admits up to a window of independent per-host pipelines
// and refills the window by one whenever a pipeline reaches a terminal
// state, mirroring the sync handler's wave admission but per host instead
// of per wave (§4.11). Its Dispatch callbacks arrive on a distinct
// transport goroutine per host (§5), concurrently with the controller
// goroutine that seeds the initial admission window, so mu guards every
// counter and slice below. mu is never held across a start/Dispatch call,
// since a transport may invoke its listener's callbacks synchronously from
// within Dispatch itself.
type pipelineManager struct {
	ctx      context.Context
	tr       transport.Transport
	commands []command.Command
	table    *hoststate.Table
	limiter  *rate.Limiter

	mu       sync.Mutex
	pending  []string
	total    int
	finished int
	started  int
	failures map[string][]string
	done     chan struct{}
	closed   bool
	spans    map[string]trace.Span
}

func (mgr *pipelineManager) start(host string) {
	_ = mgr.table.Transition(host, hoststate.Scheduled)
	_ = mgr.table.Transition(host, hoststate.Running)
	mgr.mu.Lock()
	mgr.started++
	mgr.mu.Unlock()
	p := &pipeline{mgr: mgr, host: host, idx: 0}
	mgr.dispatch(mgr.commands[0], host, p)
}

// dispatch opens a dispatch span for host's next command and hands the
// traced context to the transport, replacing any prior span recorded for
// host (one pipeline step's span ends where the next one's begins).
func (mgr *pipelineManager) dispatch(cmd command.Command, host string, p *pipeline) {
	dctx, span := obs.StartDispatchSpan(mgr.ctx, host, cmd.Text)
	mgr.mu.Lock()
	if mgr.spans == nil {
		mgr.spans = make(map[string]trace.Span)
	}
	mgr.spans[host] = span
	mgr.mu.Unlock()
	mgr.tr.Dispatch(dctx, cmd, host, p)
}

// endSpan closes host's current dispatch span, if one is outstanding,
// recording err (nil on success).
func (mgr *pipelineManager) endSpan(host string, err error) {
	mgr.mu.Lock()
	span, ok := mgr.spans[host]
	if ok {
		delete(mgr.spans, host)
	}
	mgr.mu.Unlock()
	if !ok {
		return
	}
	ctx := trace.ContextWithSpan(mgr.ctx, span)
	if err != nil {
		obs.RecordError(ctx, err)
	} else {
		obs.SetSpanSuccess(ctx)
	}
	span.End()
}

// pipeline drives one host's sequential command chain. Its methods are
// invoked serially by the transport (§5).
type pipeline struct {
	mgr  *pipelineManager
	host string
	idx  int
}

func (p *pipeline) OnPickup(host string)    {}
func (p *pipeline) OnStdout(string, []byte) {}
func (p *pipeline) OnStderr(string, []byte) {}

func (p *pipeline) OnExit(host string, rc int) {
	cmd := p.mgr.commands[p.idx]
	if cmd.IsOK(rc) {
		p.mgr.endSpan(host, nil)
		if p.idx == len(p.mgr.commands)-1 {
			_ = p.mgr.table.Transition(host, hoststate.Success)
			p.mgr.finish()
			return
		}
		p.idx++
		p.mgr.dispatch(p.mgr.commands[p.idx], host, p)
		return
	}
	p.mgr.endSpan(host, fmt.Errorf("exit code %d", rc))
	_ = p.mgr.table.Transition(host, hoststate.Failed)
	p.mgr.recordFailure(cmd.Text, host)
	p.mgr.finish()
}

func (p *pipeline) OnTimeout(hosts []string) {
	for _, host := range hosts {
		p.mgr.endSpan(host, context.DeadlineExceeded)
		_ = p.mgr.table.Transition(host, hoststate.Timeout)
	}
	p.mgr.finish()
}

func (p *pipeline) OnError(host string, msg string) {
	cmd := p.mgr.commands[p.idx]
	p.mgr.endSpan(host, errors.New(msg))
	_ = p.mgr.table.Transition(host, hoststate.Failed)
	p.mgr.recordFailure(cmd.Text, host)
	p.mgr.finish()
}

func (mgr *pipelineManager) recordFailure(cmdText, host string) {
	mgr.mu.Lock()
	mgr.failures[cmdText] = append(mgr.failures[cmdText], host)
	mgr.mu.Unlock()
}

// finish accounts for one pipeline reaching a terminal state and admits the
// next pending host, if any, to refill the window. mu is never held
// across start's Dispatch call, so a transport that invokes its listener
// synchronously can safely re-enter here.
func (mgr *pipelineManager) finish() {
	mgr.mu.Lock()
	mgr.finished++

	var next string
	startNext := false
	if len(mgr.pending) > 0 {
		next = mgr.pending[0]
		mgr.pending = mgr.pending[1:]
		startNext = true
	}
	mgr.mu.Unlock()

	if startNext {
		if mgr.limiter != nil {
			_ = mgr.limiter.Wait(mgr.ctx)
		}
		mgr.start(next)
	}

	mgr.mu.Lock()
	inFlight := mgr.started - mgr.finished
	shouldClose := inFlight == 0 && len(mgr.pending) == 0 && !mgr.closed
	if shouldClose {
		mgr.closed = true
	}
	mgr.mu.Unlock()

	if shouldClose {
		close(mgr.done)
	}
}
