// Package main is the entry point for debugmate, which launches a program
// under a debug adapter, stops at a breakpoint and streams the contents of
// image, matrix and vector variables as render frames.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/dshills/debugmate/internal/config"
	"github.com/dshills/debugmate/internal/debug"
	"github.com/dshills/debugmate/internal/debug/adapters"
	"github.com/dshills/debugmate/internal/debug/dap"
	"github.com/dshills/debugmate/internal/pipeline"
	"github.com/dshills/debugmate/internal/render"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Options holds the command line.
type Options struct {
	ConfigPath  string
	Adapter     string
	AdapterPath string
	Program     string
	ProgramArgs []string
	Cwd         string
	ProcessID   int
	LaunchJSON  string
	LaunchName  string
	Breakpoints []string
	Variables   []string
	Frame       int
	Output      string
	LogLevel    string
	Force       bool
	Timeout     time.Duration
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	logger := cfg.Logging.NewLogger()

	out, closeOut, err := openOutput(opts.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeOut()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	failed, err := visualize(ctx, opts, cfg, render.NewStreamHost(out), logger)
	if err != nil {
		logger.Error("debugmate failed", "error", err)
		return 1
	}
	if failed > 0 {
		return 2
	}
	return 0
}

func parseFlags() Options {
	var opts Options
	var showVersion bool

	flag.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (toml or yaml)")
	flag.StringVarP(&opts.Adapter, "adapter", "a", "gdb", "Debug adapter (gdb, lldb, codelldb, vsdbg)")
	flag.StringVar(&opts.AdapterPath, "adapter-path", "", "Path to the debug adapter executable")
	flag.StringVarP(&opts.Program, "program", "p", "", "Program to launch")
	flag.StringVar(&opts.Cwd, "cwd", "", "Working directory of the program")
	flag.IntVar(&opts.ProcessID, "attach", 0, "Attach to a running process instead of launching")
	flag.StringVar(&opts.LaunchJSON, "launch-json", "", "Take the adapter configuration from a launch.json")
	flag.StringVar(&opts.LaunchName, "launch-name", "", "Configuration name in launch.json (default: first)")
	flag.StringArrayVarP(&opts.Breakpoints, "break", "b", nil, "Breakpoint as file:line (repeatable)")
	flag.StringArrayVarP(&opts.Variables, "var", "V", nil, "Variable to visualize (repeatable)")
	flag.IntVarP(&opts.Frame, "frame", "f", 0, "Stack frame to evaluate variables in, 0 for the top")
	flag.StringVarP(&opts.Output, "out", "o", "-", "Frame output file, - for stdout")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.Force, "force", false, "Bypass the freshness cache")
	flag.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "Overall time limit, 0 for none")
	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "debugmate - stream debugger variables as images and plots\n\n")
		fmt.Fprintf(os.Stderr, "Usage: debugmate [options] [-- program args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  debugmate -p ./app -b main.cpp:42 -V img -o frames.bin\n")
		fmt.Fprintf(os.Stderr, "  debugmate --launch-json .vscode/launch.json -b blur.cpp:17 -V kernel -V out -o - | viewer\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("debugmate %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}
	if len(opts.Variables) == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one --var is required\n")
		flag.Usage()
		os.Exit(1)
	}
	if len(opts.Breakpoints) == 0 && opts.ProcessID == 0 {
		fmt.Fprintf(os.Stderr, "Error: at least one --break is required when launching\n")
		os.Exit(1)
	}

	opts.ProgramArgs = flag.Args()
	return opts
}

// openOutput opens the frame destination. Frames are binary, so a terminal
// is refused.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return nil, nil, errors.New("refusing to write binary frames to a terminal; redirect stdout or use --out")
		}
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// parseBreakpoints groups file:line specs by file.
func parseBreakpoints(specs []string) (map[string][]int, error) {
	out := make(map[string][]int)
	for _, s := range specs {
		i := strings.LastIndex(s, ":")
		if i <= 0 {
			return nil, fmt.Errorf("invalid breakpoint %q: expected file:line", s)
		}
		line, err := strconv.Atoi(s[i+1:])
		if err != nil || line <= 0 {
			return nil, fmt.Errorf("invalid breakpoint %q: bad line number", s)
		}
		out[s[:i]] = append(out[s[:i]], line)
	}
	return out, nil
}

// startArgs builds the adapter and the launch or attach arguments, either
// from a launch.json configuration or from the command line.
func startArgs(opts Options) (adapters.Adapter, string, any, error) {
	registry := adapters.NewRegistry()

	if opts.LaunchJSON != "" {
		f, err := adapters.LoadLaunchFile(opts.LaunchJSON)
		if err != nil {
			return nil, "", nil, err
		}
		raw, err := f.Configuration(opts.LaunchName)
		if err != nil {
			return nil, "", nil, err
		}
		var patch adapters.LaunchPatch
		if opts.Program != "" {
			patch.Program = &opts.Program
		}
		if len(opts.ProgramArgs) > 0 {
			patch.Args = opts.ProgramArgs
		}
		patched, err := adapters.PatchLaunchArgs(raw, patch)
		if err != nil {
			return nil, "", nil, err
		}
		ac, err := adapters.ConfigFromLaunch(patched)
		if err != nil {
			return nil, "", nil, err
		}
		if opts.AdapterPath != "" {
			ac.AdapterPath = opts.AdapterPath
		}
		a, err := registry.Create(ac)
		if err != nil {
			return nil, "", nil, err
		}
		request := ac.Request
		if request == "" {
			request = "launch"
		}
		return a, request, json.RawMessage(patched), nil
	}

	t, err := adapters.ParseAdapterType(opts.Adapter)
	if err != nil {
		return nil, "", nil, err
	}
	ac := adapters.Config{
		Type:        t,
		Name:        "debugmate",
		Request:     "launch",
		Program:     opts.Program,
		Args:        opts.ProgramArgs,
		Cwd:         opts.Cwd,
		ProcessID:   opts.ProcessID,
		AdapterPath: opts.AdapterPath,
	}
	if opts.ProcessID > 0 {
		ac.Request = "attach"
	}
	a, err := registry.Create(ac)
	if err != nil {
		return nil, "", nil, err
	}

	var args map[string]interface{}
	if ac.Request == "attach" {
		args, err = a.GetAttachArgs()
	} else {
		args, err = a.GetLaunchArgs()
	}
	if err != nil {
		return nil, "", nil, err
	}
	return a, ac.Request, args, nil
}

// visualize runs one debug session and returns how many variables could not
// be shown.
func visualize(ctx context.Context, opts Options, cfg *config.Config, host render.Host, logger *slog.Logger) (int, error) {
	breakpoints, err := parseBreakpoints(opts.Breakpoints)
	if err != nil {
		return 0, err
	}
	a, request, args, err := startArgs(opts)
	if err != nil {
		return 0, err
	}

	transport, cmd, err := adapters.Connect(ctx, a)
	if err != nil {
		return 0, fmt.Errorf("connect %s: %w", a.Name(), err)
	}
	session := debug.NewSession(dap.NewClient(transport), a.DAPType(),
		debug.WithCommand(cmd), debug.WithSessionLogger(logger))
	defer func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := session.Disconnect(dctx, request == "launch"); err != nil {
			logger.Debug("disconnect failed", "error", err)
		}
		_ = session.Close()
	}()

	log := logger.With("session", session.ID(), "adapter", a.Name())
	v := pipeline.New(session,
		pipeline.WithConfig(cfg),
		pipeline.WithHost(host),
		pipeline.WithLogger(logger),
		pipeline.WithProgress(func(variable string, done, total int) {
			log.Debug("read progress", "variable", variable, "done", done, "total", total)
		}))
	defer v.Close()
	v.Attach(session, debug.SessionHandlers{
		OnOutput: func(category, output string) {
			log.Debug("debuggee output", "category", category, "output", strings.TrimRight(output, "\n"))
		},
	})

	sc := debug.DefaultSessionConfig()
	sc.AdapterID = a.DAPType()
	if err := session.Initialize(ctx, sc); err != nil {
		return 0, err
	}
	err = session.Start(ctx, request, args, func(ctx context.Context) error {
		for file, lines := range breakpoints {
			bps, err := session.SetBreakpoints(ctx, file, lines)
			if err != nil {
				return fmt.Errorf("set breakpoints in %s: %w", file, err)
			}
			for _, bp := range bps {
				if !bp.Verified {
					log.Warn("breakpoint not verified", "file", file, "line", bp.Line, "message", bp.Message)
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Info("debuggee started", "request", request, "backend", session.Backend())

	if request == "attach" && len(breakpoints) == 0 {
		if err := session.Pause(ctx, 0); err != nil {
			return 0, fmt.Errorf("pause: %w", err)
		}
	}
	state, err := session.WaitForState(ctx, debug.StateStopped, debug.StateTerminated, debug.StateDisconnected)
	if err != nil {
		return 0, fmt.Errorf("waiting for a stop: %w", err)
	}
	if state != debug.StateStopped {
		return 0, fmt.Errorf("debuggee %s before reaching a breakpoint", state)
	}

	frames := debug.NewFrameTracker(session)
	if err := v.RefreshFrames(ctx, frames, session.CurrentThread()); err != nil {
		return 0, err
	}
	if opts.Frame > 0 {
		if err := v.SelectFrame(frames, opts.Frame); err != nil {
			return 0, err
		}
	}
	_, frame := frames.Current()
	log.Info("stopped", "reason", session.StopReason(), "location", frame.FormatLocation(), "function", frame.Name)

	inspector := debug.NewVariableInspector(session)
	failed := 0
	for _, name := range opts.Variables {
		dv, err := inspector.FindVariable(ctx, frame.ID, name)
		if err != nil {
			log.Warn("variable lookup failed", "variable", name, "error", err)
			failed++
			continue
		}

		h := debug.Handle(session.ID(), frame.ID, *dv)
		res, err := v.Visualize(ctx, pipeline.Request{Handle: h, Reveal: true, Force: opts.Force})
		if err != nil {
			if errors.Is(err, pipeline.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			failed++
			continue
		}
		log.Info("variable shown", "variable", name, "shape", res.Shape, "panel", res.Panel.ID, "address", res.Address)
	}
	return failed, nil
}
