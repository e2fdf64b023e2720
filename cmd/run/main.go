package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/loader"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file (flags override it)")
		flags   config
	)
	flag.StringVar(&flags.File, "file", "", "Script file to run")
	flag.StringVar(&flags.Module, "module", "", "ES module file to run; imports resolve relative to it")
	flag.StringVar(&flags.Eval, "e", "", "Script source to evaluate")
	flag.DurationVar(&flags.Timeout, "timeout", 0, "Terminate evaluation after this long (0 disables)")
	flag.Uint64Var(&flags.MaxHeapMB, "max-heap", 0, "Heap limit in MiB (0 uses the default)")
	flag.StringVar(&flags.ModuleRoot, "module-root", loader.DefaultRoot, "Directory bare module specifiers resolve under")
	flag.StringVar(&flags.Require, "require", "", "Semver constraint the runtime version must satisfy")
	flag.BoolVar(&flags.Verbose, "v", false, "Debug logging")
	flag.BoolVar(&flags.Interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := config{ModuleRoot: loader.DefaultRoot}
	if *cfgPath != "" {
		var err error
		if cfg, err = loadConfig(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.merge(flags, set)
	if flag.NArg() > 0 && cfg.File == "" && cfg.Module == "" && cfg.Eval == "" {
		cfg.File = flag.Arg(0)
	}

	if err := cfg.validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Usage: run [-file script.js | -module main.js | -e source] [-timeout 5s] [-max-heap MiB]")
		fmt.Fprintln(os.Stderr, "       run -i  (interactive mode)")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	c := zap.NewProductionConfig()
	c.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	c.Encoding = "console"
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return c.Build()
}

func versionString() string {
	return "v" + engine.Version().String()
}

func run(cfg config, out, errOut io.Writer) error {
	if cfg.Require != "" {
		ok, err := engine.CheckVersion(cfg.Require)
		if err != nil {
			return fmt.Errorf("require: %w", err)
		}
		if !ok {
			return fmt.Errorf("runtime %s does not satisfy %q", versionString(), cfg.Require)
		}
	}

	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if err := engine.Initialize(engine.Config{Logger: log.Named("engine")}); err != nil {
		return err
	}
	defer engine.Dispose()

	if cfg.Interactive {
		return runInteractive(cfg, log)
	}

	sess, err := newSession(cfg, log.Named("vm"), out, errOut)
	if err != nil {
		return err
	}
	defer sess.Close()

	start := time.Now()
	var res result
	switch {
	case cfg.Eval != "":
		res = sess.eval(cfg.Eval, "<eval>")
	case cfg.File != "":
		src, err := os.ReadFile(cfg.File)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		res = sess.eval(string(src), cfg.File)
	default:
		res = sess.runModule(cfg.Module, cfg.ModuleRoot)
	}
	log.Debug("evaluation finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Any("stats", sess.iso.Stats()))

	if res.err != nil {
		if res.stack != "" {
			fmt.Fprintln(errOut, res.stack)
		}
		return res.err
	}
	fmt.Fprintln(out, res.text)
	return nil
}
