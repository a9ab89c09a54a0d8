package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sdrstream/pkg/regs"
)

// Process exit codes.
const (
	exitOK         = 0
	exitMapFailure = 1
	exitUsage      = 2
	exitFailure    = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sdrstream", flag.ContinueOnError)
	fs.SetOutput(stderr)

	destIP := fs.String("d", "127.0.0.1", "Destination IP address")
	port := fs.Int("p", 25344, "Destination UDP port")
	adcHz := fs.Int64("f", 0, "Simulated ADC frequency (Hz)")
	tunerHz := fs.Int64("t", 0, "Tuner frequency (Hz)")
	configFile := fs.String("c", "", "YAML configuration file")
	isSim := fs.Bool("sim", false, "Simulate the radio and FIFO peripherals")
	streamDev := fs.String("stream-dev", "", "Read samples from a streaming device or named pipe instead of the FIFO registers")
	monitorAddr := fs.String("monitor", "", "Serve the WebSocket frame monitor on this address (e.g. :8080)")
	recordDir := fs.String("record", "", "Directory for Parquet recordings")
	logFile := fs.String("log-file", "", "Write logs to a rotating file instead of stderr")
	bench := fs.String("bench", "", "Run a register benchmark (timer or fifo) and exit")
	benchN := fs.Int("bench-n", 2048, "Number of reads for -bench")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage of %s:\n", fs.Name())
		fmt.Fprintln(stderr, "  Interactive: sdrstream [-d ip] [-p port] [-f hz] [-t hz]")
		fmt.Fprintln(stderr, "  Simulated:   sdrstream -sim [options]")
		fmt.Fprintln(stderr, "  Benchmark:   sdrstream -bench timer|fifo [-bench-n n]")
		fmt.Fprintln(stderr, "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return exitUsage
	}

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}

	// Flags given explicitly win over the file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			cfg.Stream.DestIP = *destIP
		case "p":
			cfg.Stream.DestPort = *port
		case "f":
			cfg.Radio.ADCHz = *adcHz
		case "t":
			cfg.Radio.TunerHz = *tunerHz
		case "sim":
			cfg.Hardware.Sim = *isSim
		case "stream-dev":
			cfg.Hardware.StreamDevice = *streamDev
		case "monitor":
			cfg.Monitor.Addr = *monitorAddr
		case "record":
			cfg.Record.Dir = *recordDir
		case "log-file":
			cfg.Log.File = *logFile
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}
	switch *bench {
	case "", "timer", "fifo":
	default:
		fmt.Fprintf(stderr, "-bench %q: want timer or fifo\n", *bench)
		return exitUsage
	}
	if *benchN <= 0 {
		fmt.Fprintln(stderr, "-bench-n must be positive")
		return exitUsage
	}

	logger, logCloser, err := newLogger(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "logging: %v\n", err)
		return exitUsage
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := OpenApp(ctx, cfg)
	if err != nil {
		var mapErr *regs.MapError
		if errors.As(err, &mapErr) {
			fmt.Fprintf(stderr, "Could not map registers: %v\n", err)
			return exitMapFailure
		}
		fmt.Fprintf(stderr, "Startup failed: %v\n", err)
		return exitFailure
	}
	defer app.Close()

	if *bench != "" {
		if err := runBench(ctx, app, *bench, *benchN, stdout); err != nil {
			fmt.Fprintf(stderr, "bench: %v\n", err)
			return exitFailure
		}
		return exitOK
	}

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Startup failed: %v\n", err)
		return exitFailure
	}
	slog.Info("main: streaming",
		"session", app.Session(),
		"destination", app.Stream.Destination().String(),
		"sim", cfg.Hardware.Sim,
	)
	return NewSession(app, stdin, stdout).Run(ctx)
}
