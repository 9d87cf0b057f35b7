// Copyright 2025 James Ross
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jross/cumin-go/internal/audit"
	"github.com/jross/cumin-go/internal/backend"
	"github.com/jross/cumin-go/internal/backend/cloudvm"
	"github.com/jross/cumin-go/internal/backend/direct"
	"github.com/jross/cumin-go/internal/backend/knownhosts"
	"github.com/jross/cumin-go/internal/backend/puppetdb"
	"github.com/jross/cumin-go/internal/command"
	"github.com/jross/cumin-go/internal/config"
	"github.com/jross/cumin-go/internal/eventpublish"
	"github.com/jross/cumin-go/internal/explorer"
	"github.com/jross/cumin-go/internal/handler"
	"github.com/jross/cumin-go/internal/hoststate"
	"github.com/jross/cumin-go/internal/obs"
	"github.com/jross/cumin-go/internal/query"
	"github.com/jross/cumin-go/internal/report"
	"github.com/jross/cumin-go/internal/runerrors"
	"github.com/jross/cumin-go/internal/runner"
	"github.com/jross/cumin-go/internal/target"
	"github.com/jross/cumin-go/internal/transport/local"
)

var version = "dev"

// prefixByName maps each built-in backend's registered name to its
// single-letter prefix, for resolving --backend/default_backend by name
// (§6's config and CLI override both speak backend names, not prefixes).
var prefixByName = map[string]byte{
	direct.Name:     direct.Prefix,
	knownhosts.Name: knownhosts.Prefix,
	puppetdb.Name:   puppetdb.Prefix,
	cloudvm.Name:    cloudvm.Prefix,
}

func main() {
	var configPath string
	var globalTimeoutSec int
	var perCommandTimeoutSec int
	var mode string
	var thresholdPct int
	var batchSpec string
	var sleepSec float64
	var ignoreExitCodes bool
	var outputFormat string
	var interactive bool
	var force bool
	var dryRun bool
	var backendOverride string
	var transportOverride string
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "c", "/etc/cumin/cumin.yaml", "Configuration file path")
	fs.IntVar(&globalTimeoutSec, "global-timeout", 0, "Global deadline in whole seconds; 0 = unlimited")
	fs.IntVar(&perCommandTimeoutSec, "t", 0, "Per-command timeout in whole seconds; 0 = none")
	fs.StringVar(&mode, "m", "", "Execution mode: sync|async (required for multi-command runs)")
	fs.IntVar(&thresholdPct, "p", 100, "Success threshold as a percentage (0..100)")
	fs.StringVar(&batchSpec, "b", "", "Batch size: absolute N or ratio N%")
	fs.Float64Var(&sleepSec, "s", 0, "Inter-host sleep in (fractional) seconds")
	fs.BoolVar(&ignoreExitCodes, "x", false, "Treat all exit codes as success")
	fs.StringVar(&outputFormat, "o", "", "Emit machine-readable output: txt|json (single-command only)")
	fs.BoolVar(&interactive, "i", false, "Drop into an interactive explorer after execution (single-command only)")
	fs.BoolVar(&force, "force", false, "Skip confirmation")
	fs.BoolVar(&dryRun, "dry-run", false, "Resolve hosts only")
	fs.StringVar(&backendOverride, "backend", "", "Override the configured default backend")
	fs.StringVar(&transportOverride, "transport", "", "Override the configured transport")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	args := fs.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cumin [flags] QUERY [COMMAND ...]")
		os.Exit(3)
	}
	queryText := args[0]
	commandTexts := args[1:]

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(3)
	}
	if transportOverride != "" {
		cfg.Transport = transportOverride
	}
	if backendOverride != "" {
		cfg.DefaultBackend = backendOverride
	}

	logger := obs.NewFileLogger(cfg.Observability.LogLevel, cfg.LogFile, 100, 5, true)
	defer logger.Sync()

	if u, uerr := user.Current(); uerr == nil {
		invoker := u.Username
		if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
			invoker = sudoUser
		}
		logger.Info("starting run", zap.String("invoking_user", invoker), zap.Bool("euid_root", os.Geteuid() == 0))
	}

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = obs.TracerShutdown(context.Background(), tp) }()
	}

	runID := uuid.NewString()

	var store *audit.Store
	if cfg.Audit.Enabled {
		store, err = audit.Open(cfg.Audit.DBPath)
		if err != nil {
			logger.Warn("audit store unavailable, continuing without persistence", obs.Err(err))
			store = nil
		} else {
			defer store.Close()
		}
	}

	var publisher *eventpublish.Publisher
	if cfg.Events.Enabled {
		publisher, err = eventpublish.Connect(cfg.Events.URL, cfg.Events.Subject, logger)
		if err != nil {
			logger.Warn("event publisher unavailable", obs.Err(err))
			publisher = nil
		}
	}
	defer publisher.Close()

	if cfg.Observability.AdminHTTPEnabled {
		srv := obs.StartHTTPServer(cfg, nil, store)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	reg := backend.NewRegistry()
	mustRegister(logger, reg, direct.Register)
	mustRegister(logger, reg, knownhosts.Register)
	mustRegister(logger, reg, puppetdb.Register)
	if _, ok := cfg.Backends[cloudvm.Name]; ok {
		mustRegister(logger, reg, cloudvm.Register)
	}

	backends := map[byte]backend.Backend{}
	for name, prefix := range prefixByName {
		if !reg.Has(prefix) {
			continue
		}
		sub := cfg.Backends[name]
		b, berr := reg.Construct(prefix, sub)
		if berr != nil {
			logger.Debug("backend not constructed", zap.String("backend", name), obs.Err(berr))
			continue
		}
		backends[prefix] = b
	}

	var defaultPrefix byte
	if cfg.DefaultBackend != "" {
		if p, ok := prefixByName[cfg.DefaultBackend]; ok {
			defaultPrefix = p
		}
	}
	engine := query.NewEngine(backends, defaultPrefix, cfg.Aliases)

	ctx, queryCancel := context.WithCancel(context.Background())
	defer queryCancel()
	qctx, span := obs.StartQuerySpan(ctx, queryText)
	hosts, err := engine.Resolve(queryText)
	if err != nil {
		obs.RecordError(qctx, err)
		span.End()
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		obs.QueryErrors.WithLabelValues(string(rune(defaultPrefix))).Inc()
		os.Exit(runerrors.ExitCode(err))
	}
	obs.SetSpanSuccess(qctx)
	span.End()
	obs.QueriesResolved.WithLabelValues(string(rune(defaultPrefix))).Inc()

	if dryRun {
		for _, h := range hosts.Slice() {
			fmt.Println(h)
		}
		return
	}

	if len(commandTexts) == 0 {
		fmt.Fprintln(os.Stderr, "no command given; nothing to dispatch")
		return
	}

	threshold := float64(thresholdPct) / 100.0
	if fs.Lookup("p").Value.String() == fs.Lookup("p").DefValue {
		threshold = cfg.SuccessThreshold
	}

	batchSize, batchRatio, hasRatio := parseBatchSpec(batchSpec)
	var tgt target.Target
	if hasRatio {
		tgt = target.NewRatio(hosts, batchRatio, time.Duration(sleepSec*float64(time.Second)))
	} else {
		tgt = target.New(hosts, batchSize, time.Duration(sleepSec*float64(time.Second)))
	}

	var okCodes []int
	if ignoreExitCodes {
		okCodes = []int{}
	}
	perCmdTimeout := time.Duration(perCommandTimeoutSec) * time.Second
	commands := make([]command.Command, 0, len(commandTexts))
	for _, text := range commandTexts {
		commands = append(commands, command.New(text, perCmdTimeout, okCodes))
	}

	var h handler.Handler
	switch handler.Mode(mode) {
	case handler.Sync:
		h = handler.NewSync()
	case handler.Async:
		h = handler.NewAsync()
	case "":
		if len(commands) > 1 {
			fmt.Fprintln(os.Stderr, "-m sync|async is required for multi-command runs")
			os.Exit(3)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: must be sync or async\n", mode)
		os.Exit(3)
	}

	tr := local.New()
	globalTimeout := time.Duration(globalTimeoutSec) * time.Second
	w, err := runner.New(tgt, commands, h, tr, threshold, globalTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build worker: %v\n", err)
		os.Exit(runerrors.ExitCode(err))
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	publisher.Publish(eventpublish.Event{Kind: eventpublish.RunStarted, RunID: runID, Command: strings.Join(commandTexts, "; "), Total: tgt.Hosts.Len(), Timestamp: runStartTime()})

	startedAt := runStartTime()
	exitCode, runErr := w.Execute(sigCtx)
	finishedAt := runStartTime()
	if runErr != nil && exitCode == runerrors.ExitCode(nil) {
		exitCode = 2
	}
	if sigCtx.Err() != nil {
		exitCode = runerrors.ExitCode(runerrors.ErrUserAbort)
	}

	result := w.Result()
	obs.HostsDispatched.Add(float64(result.Total))
	obs.HostsSucceeded.Add(float64(result.Success))
	obs.HostsFailed.Add(float64(result.Failed))
	obs.HostsTimedOut.Add(float64(result.Timeout))
	obs.RunsCompleted.WithLabelValues(strconv.Itoa(exitCode)).Inc()

	publisher.Publish(eventpublish.Event{
		Kind: eventpublish.RunFinished, RunID: runID, Command: strings.Join(commandTexts, "; "),
		Total: result.Total, Success: result.Success, Failed: result.Failed, Timeout: result.Timeout,
		Timestamp: finishedAt,
	})

	reporter := report.New(os.Stdout)
	switch outputFormat {
	case "json":
		_ = json.NewEncoder(os.Stdout).Encode(result)
	default:
		reporter.RenderOutputs(tr.IterOutputs())
		reporter.RenderSummary(result, len(commands) > 1)
	}

	if store != nil {
		_ = store.SaveRun(context.Background(), audit.Run{
			ID: runID, Query: queryText, ResolvedHosts: hosts.Slice(), Commands: commandTexts,
			Mode: mode, StartedAt: startedAt, FinishedAt: finishedAt, ExitCode: exitCode,
		})
		saveHostResults(context.Background(), store, runID, tr, result)
	}

	if interactive && len(commands) == 1 && store != nil {
		footer := fmt.Sprintf("%d/%d succeeded, %d failed, %d timed out", result.Success, result.Total, result.Failed, result.Timeout)
		if err := explorer.Run(context.Background(), store, runID, footer); err != nil {
			logger.Warn("explorer exited with error", obs.Err(err))
		}
	}

	os.Exit(exitCode)
}

func mustRegister(logger *zap.Logger, reg *backend.Registry, register func(*backend.Registry) error) {
	if err := register(reg); err != nil {
		logger.Fatal("failed to register backend", obs.Err(err))
	}
}

// parseBatchSpec parses "-b N" or "-b N%" per §6. An empty spec means "no
// batching" (size == 0, handled by target.New as the whole host set).
func parseBatchSpec(spec string) (size int, ratio float64, isRatio bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0, false
	}
	if strings.HasSuffix(spec, "%") {
		n, _ := strconv.Atoi(strings.TrimSuffix(spec, "%"))
		return 0, float64(n) / 100.0, true
	}
	n, _ := strconv.Atoi(spec)
	return n, 0, false
}

func runStartTime() time.Time { return time.Now() }

// saveHostResults persists each host's final state and captured output,
// matching what the reporter just rendered (§4.13).
func saveHostResults(ctx context.Context, store *audit.Store, runID string, tr *local.Transport, result handler.Result) {
	groups := tr.IterOutputs()
	byHost := map[string][]byte{}
	for _, g := range groups {
		for _, h := range g.Hosts {
			byHost[h] = g.Output
		}
	}
	for host, out := range byHost {
		state := hoststate.Success
		for _, hs := range result.FailedNodes {
			for _, fh := range hs {
				if fh == host {
					state = hoststate.Failed
				}
			}
		}
		_ = store.SaveHostResult(ctx, runID, audit.HostResult{
			Host: host, State: state, Stdout: out,
		})
	}
}
