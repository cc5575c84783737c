// Pyjion CLI - runs a bytecode module with every function call routed
// through the JIT runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/pyjion/backend"
	"github.com/chazu/pyjion/config"
	"github.com/chazu/pyjion/host"
	"github.com/chazu/pyjion/jit"
	"github.com/chazu/pyjion/journal"
	"github.com/chazu/pyjion/pkg/bytecode"
	"github.com/chazu/pyjion/server"
)

// Exit statuses.
const (
	exitOK      = 0
	exitError   = 1
	exitBackend = 2
)

var log = commonlog.GetLogger("pyjion.cli")

type options struct {
	backend   string
	level     int
	threshold int
	noPGC     bool
	graph     bool
	debug     bool
	trace     bool
	profile   bool
	info      bool
	dis       string
	journal   string
	serve     string
	config    string
	entry     string
	verbosity int
}

func main() {
	os.Exit(run())
}

func run() int {
	var opts options
	bindFlags(flag.CommandLine, &opts)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pyjion [options] script.pjasm [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Assembles the script and calls its main function with the JIT enabled.\n")
		fmt.Fprintf(os.Stderr, "Arguments are literals: 42, 2.5, \"text\", (1, 2), None.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s, %s, %s, %s, %s, %s, %s\n",
			config.EnvBackend, config.EnvLevel, config.EnvPGC, config.EnvGraph,
			config.EnvDebug, config.EnvThreshold, config.EnvJournal)
		fmt.Fprintf(os.Stderr, "  Command-line flags take precedence over the environment,\n")
		fmt.Fprintf(os.Stderr, "  which takes precedence over the configuration file.\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pyjion fib.pjasm 25                 # Run main(25)\n")
		fmt.Fprintf(os.Stderr, "  pyjion --info --dis fib fib.pjasm   # Show what the JIT did\n")
		fmt.Fprintf(os.Stderr, "  pyjion -o 2 --graph --dis fib fib.pjasm\n")
		fmt.Fprintf(os.Stderr, "  pyjion --serve :4567 lib.pjasm      # Load and serve the control API\n")
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		return exitError
	}
	script := flag.Arg(0)
	args, err := parseArgs(flag.Args()[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	cfg, err := loadConfig(&opts, script, flag.Visit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	be, err := backend.Lookup(cfg.JIT.Backend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitBackend
	}
	jitCfg, err := cfg.Runtime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	rtOpts := []jit.Option{jit.WithDefaults(jitCfg)}

	if jitCfg.Tracing {
		rtOpts = append(rtOpts, jit.WithTracer(host.NewTracer(os.Stderr)))
	}
	var profiler *host.Profiler
	if jitCfg.Profiling {
		profiler = host.NewProfiler()
		rtOpts = append(rtOpts, jit.WithProfiler(profiler))
	}

	var jnl *journal.Journal
	if cfg.Journal.Path != "" {
		jnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
		defer jnl.Close()
		rtOpts = append(rtOpts, jit.WithListener(jnl))
		log.Infof("journal session %s in %s", jnl.Session(), cfg.Journal.Path)
	}

	var metricsReg *prometheus.Registry
	if cfg.Server.Addr != "" {
		metricsReg = prometheus.NewRegistry()
		metricsReg.MustRegister(collectors.NewGoCollector())
		rtOpts = append(rtOpts, jit.WithListener(jit.NewMetrics(metricsReg)))
	}

	rt, err := jit.New(be, rtOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, jit.ErrBackendUnavailable) {
			return exitBackend
		}
		return exitError
	}

	src, err := os.ReadFile(script)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	h := host.New(rt, os.Stdout)
	name := strings.TrimSuffix(filepath.Base(script), filepath.Ext(script))
	if err := h.LoadSource(name, string(src)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Enable()
	defer rt.Disable()

	status := exitOK
	if _, ok := h.Unit(opts.entry); ok {
		result, err := h.Call(ctx, opts.entry, args...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			status = exitError
		} else if result != nil {
			fmt.Println(bytecode.Repr(result))
		}
	} else if cfg.Server.Addr == "" {
		fmt.Fprintf(os.Stderr, "Error: %s has no function named %q\n", script, opts.entry)
		return exitError
	}

	if opts.info {
		printInfo(os.Stdout, rt.Units(), rt.Stats())
	}
	if opts.dis != "" {
		if err := printListing(os.Stdout, rt, h, opts.dis); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			status = exitError
		}
	}
	if profiler != nil {
		printProfile(os.Stderr, profiler.Entries())
	}
	if jnl != nil && cfg.Log.Verbosity > 0 {
		if summary, err := jnl.Summary(ctx); err == nil {
			printJournalSummary(os.Stderr, summary)
		}
	}

	if cfg.Server.Addr != "" {
		srv := server.New(h, server.WithHandler("/metrics",
			promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{})))
		go func() {
			<-ctx.Done()
			srv.Stop()
		}()
		if err := srv.ListenAndServe(cfg.Server.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			return exitError
		}
	}
	return status
}

func bindFlags(fs *flag.FlagSet, opts *options) {
	fs.StringVar(&opts.backend, "backend", "", "Code generator to compile with (default \"reference\")")
	fs.IntVar(&opts.level, "opt-level", 1, "Optimization level, 0-2")
	fs.IntVar(&opts.level, "o", 1, "Shorthand for --opt-level")
	fs.IntVar(&opts.threshold, "threshold", 0, "Warm-up calls before a function is compiled")
	fs.BoolVar(&opts.noPGC, "no-pgc", false, "Disable profile-guided compilation")
	fs.BoolVar(&opts.graph, "graph", false, "Keep control-flow graphs of compiled functions")
	fs.BoolVar(&opts.debug, "debug", false, "Keep line tables in compiled functions")
	fs.BoolVar(&opts.trace, "trace", false, "Trace frame entry, exit and lines to stderr")
	fs.BoolVar(&opts.profile, "profile", false, "Print a call profile after the run")
	fs.BoolVar(&opts.info, "info", false, "Print per-function JIT info after the run")
	fs.StringVar(&opts.dis, "dis", "", "Print the compiled listing of a function after the run")
	fs.StringVar(&opts.journal, "journal", "", "Record compile transitions in this SQLite file")
	fs.StringVar(&opts.serve, "serve", "", "Serve the control API on this address after the run")
	fs.StringVar(&opts.config, "config", "", "Configuration file (default: nearest "+config.FileName+")")
	fs.StringVar(&opts.entry, "m", "main", "Function to run")
	fs.IntVar(&opts.verbosity, "v", 0, "Log verbosity (0 notices, 1 info, 2 debug)")
}

// loadConfig layers the configuration file, the environment and the
// command-line flags that were set explicitly, in that order.
func loadConfig(opts *options, script string, visit func(func(*flag.Flag))) (*config.File, error) {
	var cfg *config.File
	var err error
	if opts.config != "" {
		cfg, err = config.Load(opts.config)
	} else {
		cfg, err = config.FindAndLoad(filepath.Dir(script))
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.JIT.Backend = opts.backend
		case "o", "opt-level":
			cfg.JIT.Level = opts.level
		case "threshold":
			cfg.JIT.Threshold = opts.threshold
		case "no-pgc":
			cfg.JIT.PGC = !opts.noPGC
		case "graph":
			cfg.JIT.Graph = opts.graph
		case "debug":
			cfg.JIT.Debug = opts.debug
		case "trace":
			cfg.JIT.Tracing = opts.trace
		case "profile":
			cfg.JIT.Profiling = opts.profile
		case "journal":
			cfg.Journal.Path = opts.journal
		case "serve":
			cfg.Server.Addr = opts.serve
		case "v":
			cfg.Log.Verbosity = opts.verbosity
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseArgs turns command-line arguments into values. Anything that is
// not a literal is passed as a string.
func parseArgs(raw []string) ([]bytecode.Value, error) {
	args := make([]bytecode.Value, 0, len(raw))
	for _, s := range raw {
		v, err := bytecode.ParseLiteral(s)
		if err != nil {
			if strings.ContainsAny(s, "()\"'") {
				return nil, fmt.Errorf("bad argument %q: %w", s, err)
			}
			v = s
		}
		args = append(args, v)
	}
	return args, nil
}
