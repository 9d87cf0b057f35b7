package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jross/cumin-go/internal/command"
	"github.com/jross/cumin-go/internal/hoststate"
	"github.com/jross/cumin-go/internal/obs"
	"github.com/jross/cumin-go/internal/target"
	"github.com/jross/cumin-go/internal/transport"
)

// SyncHandler is the barrier-across-hosts handler (§4.10): at any moment at
// most one command from the sequence is in flight across the whole host
// set, and a wave only proceeds to the next command if its success ratio
// met the configured threshold.
type SyncHandler struct{}

// NewSync returns a SyncHandler.
func NewSync() *SyncHandler { return &SyncHandler{} }

func (h *SyncHandler) Run(ctx context.Context, tgt target.Target, commands []command.Command, tr transport.Transport, threshold float64) (Result, error) {
	table := hoststate.NewTable(tgt.Hosts.Slice())
	result := Result{Total: tgt.Hosts.Len(), FailedNodes: map[string][]string{}}

	eligible := tgt.Hosts.Slice()
	for cmdIdx, cmd := range commands {
		if len(eligible) == 0 {
			break
		}
		result.LastCommandIndex = cmdIdx
		for _, host := range eligible {
			if table.State(host) == hoststate.Success {
				if err := table.Transition(host, hoststate.Pending); err != nil {
					return result, err
				}
			}
		}

		wr, err := h.runWave(ctx, cmd, eligible, tgt, threshold, table, tr)
		if err != nil {
			return result, err
		}
		if len(wr.failedHosts) > 0 {
			result.FailedNodes[cmd.Text] = wr.failedHosts
		}

		ratio := float64(wr.successCount) / float64(len(eligible))
		eligible = wr.successHosts
		if ratio < threshold {
			break
		}
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

type waveResult struct {
	successCount int
	successHosts []string
	failedHosts  []string
}

// runWave dispatches cmd across hosts, admitting at most tgt.BatchSize
// concurrently and refilling the window by one every time a host finishes,
// paced by tgt.BatchSleep, until every eligible host has reached a terminal
// state or the wave aborts further enlistment on a threshold breach.
func (h *SyncHandler) runWave(ctx context.Context, cmd command.Command, eligible []string, tgt target.Target, threshold float64, table *hoststate.Table, tr transport.Transport) (waveResult, error) {
	// eligible shrinks to the prior wave's survivors after the first
	// command, so tgt.FirstBatch (computed once over the full host set)
	// only ever matches this window on the very first wave; recompute it
	// fresh every time instead of reading the field.
	sorted := append([]string{}, eligible...)
	sort.Strings(sorted)
	if len(sorted) == 0 {
		return waveResult{}, nil
	}

	batchSize := tgt.BatchSize
	if batchSize > len(sorted) {
		batchSize = len(sorted)
	}
	if batchSize < 1 {
		batchSize = 1
	}

	var limiter *rate.Limiter
	if tgt.BatchSleep > 0 {
		limiter = rate.NewLimiter(rate.Every(tgt.BatchSleep), 1)
	}

	wl := &waveListener{
		ctx:       ctx,
		tr:        tr,
		cmd:       cmd,
		table:     table,
		pending:   append([]string{}, sorted[batchSize:]...),
		totalWave: len(sorted),
		threshold: threshold,
		limiter:   limiter,
		done:      make(chan struct{}),
	}

	// The seeding loop holds one admitted slot, so done cannot close
	// before every host of the first window has been admitted.
	wl.mu.Lock()
	wl.admittedCount++
	wl.mu.Unlock()
	for _, host := range sorted[:batchSize] {
		wl.admit(host)
	}
	wl.mu.Lock()
	wl.admittedCount--
	shouldClose := wl.admittedCount == wl.finishedCount && (len(wl.pending) == 0 || wl.aborted) && !wl.closed
	wl.closed = wl.closed || shouldClose
	wl.mu.Unlock()
	if shouldClose {
		close(wl.done)
	}

	<-wl.done
	return waveResult{
		successCount: wl.successCount,
		successHosts: wl.successHosts,
		failedHosts:  wl.failedHosts,
	}, nil
}

// waveListener implements transport.EventListener for exactly one wave. Its
// Dispatch callbacks arrive on a distinct transport goroutine per host
// (§5), concurrently with the controller goroutine that seeds the initial
// admission window, so mu guards every field below except the
// already-immutable ctx/tr/cmd/table/limiter. Nothing holds mu across a
// Dispatch call, since a transport may invoke its listener's callbacks
// synchronously from within Dispatch itself.
type waveListener struct {
	ctx   context.Context
	tr    transport.Transport
	cmd   command.Command
	table *hoststate.Table

	pending   []string
	totalWave int
	threshold float64
	limiter   *rate.Limiter

	mu            sync.Mutex
	admittedCount int
	finishedCount int
	successCount  int
	successHosts  []string
	failedHosts   []string
	aborted       bool
	done          chan struct{}
	closed        bool
	spans         map[string]trace.Span
}

func (wl *waveListener) admit(host string) {
	_ = wl.table.Transition(host, hoststate.Scheduled)
	_ = wl.table.Transition(host, hoststate.Running)

	dctx, span := obs.StartDispatchSpan(wl.ctx, host, wl.cmd.Text)
	wl.mu.Lock()
	wl.admittedCount++
	if wl.spans == nil {
		wl.spans = make(map[string]trace.Span)
	}
	wl.spans[host] = span
	wl.mu.Unlock()

	wl.tr.Dispatch(dctx, wl.cmd, host, wl)
}

// endSpan closes host's dispatch span, if one is outstanding, recording
// err (nil on success).
func (wl *waveListener) endSpan(host string, err error) {
	wl.mu.Lock()
	span, ok := wl.spans[host]
	if ok {
		delete(wl.spans, host)
	}
	wl.mu.Unlock()
	if !ok {
		return
	}
	ctx := trace.ContextWithSpan(wl.ctx, span)
	if err != nil {
		obs.RecordError(ctx, err)
	} else {
		obs.SetSpanSuccess(ctx)
	}
	span.End()
}

func (wl *waveListener) OnPickup(host string)    {}
func (wl *waveListener) OnStdout(string, []byte) {}
func (wl *waveListener) OnStderr(string, []byte) {}

func (wl *waveListener) OnError(host string, msg string) {
	wl.endSpan(host, errors.New(msg))
	wl.record(host, false)
}

func (wl *waveListener) OnExit(host string, rc int) {
	ok := wl.cmd.IsOK(rc)
	var err error
	if !ok {
		err = fmt.Errorf("exit code %d", rc)
	}
	wl.endSpan(host, err)
	wl.record(host, ok)
}

func (wl *waveListener) OnTimeout(hosts []string) {
	for _, host := range hosts {
		wl.endSpan(host, context.DeadlineExceeded)
		_ = wl.table.Transition(host, hoststate.Timeout)
		wl.finishedOne()
	}
}

func (wl *waveListener) record(host string, ok bool) {
	if ok {
		_ = wl.table.Transition(host, hoststate.Success)
	} else {
		_ = wl.table.Transition(host, hoststate.Failed)
	}

	wl.mu.Lock()
	if ok {
		wl.successCount++
		wl.successHosts = append(wl.successHosts, host)
	} else {
		wl.failedHosts = append(wl.failedHosts, host)
	}
	wl.mu.Unlock()

	wl.finishedOne()
}

// finishedOne accounts for one more admitted host reaching a terminal
// state, admits the next pending host if the running success ratio still
// meets threshold, and closes done once nothing remains in flight or to
// admit. mu is never held across admit's Dispatch call, so a transport
// that invokes its listener synchronously can safely re-enter here.
func (wl *waveListener) finishedOne() {
	wl.mu.Lock()
	wl.finishedCount++

	var next string
	admitNext := false
	if len(wl.pending) > 0 && !wl.aborted {
		ratio := float64(wl.successCount) / float64(wl.finishedCount)
		if ratio < wl.threshold {
			wl.aborted = true
		} else {
			next = wl.pending[0]
			wl.pending = wl.pending[1:]
			admitNext = true
		}
	}
	wl.mu.Unlock()

	if admitNext {
		if wl.limiter != nil {
			_ = wl.limiter.Wait(wl.ctx)
		}
		wl.admit(next)
	}

	wl.mu.Lock()
	inFlight := wl.admittedCount - wl.finishedCount
	shouldClose := inFlight == 0 && (len(wl.pending) == 0 || wl.aborted) && !wl.closed
	if shouldClose {
		wl.closed = true
	}
	wl.mu.Unlock()

	if shouldClose {
		close(wl.done)
	}
}
