package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	framecount "github.com/Bwavrita/Compare-frame-read"
	"github.com/Bwavrita/Compare-frame-read/internal/ffmpeg"
	"github.com/Bwavrita/Compare-frame-read/internal/gstreamer"
	"github.com/Bwavrita/Compare-frame-read/internal/rtspprobe"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "v0.1.0"

// BackendFactory builds a decoding backend
type BackendFactory func(debug bool) framecount.Backend

// DescribeFunc lists the tracks of an RTSP stream
type DescribeFunc func(ctx context.Context, address string, timeout time.Duration) ([]rtspprobe.Track, error)

// app holds the process dependencies so tests can swap them
type app struct {
	stdout io.Writer
	stderr io.Writer

	backends   map[string]BackendFactory
	describe   DescribeFunc
	retryDelay time.Duration
	now        func() time.Time

	green  *color.Color
	yellow *color.Color
	red    *color.Color
}

func newApp(stdout, stderr io.Writer) *app {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		backends: map[string]BackendFactory{
			ffmpeg.Name:    func(debug bool) framecount.Backend { return ffmpeg.New(debug) },
			gstreamer.Name: func(debug bool) framecount.Backend { return gstreamer.New(debug) },
		},
		describe:   rtspprobe.Describe,
		retryDelay: time.Second,
		now:        time.Now,
		green:      color.New(color.FgGreen),
		yellow:     color.New(color.FgYellow),
		red:        color.New(color.FgRed, color.Bold),
	}

	// Colour only when writing to the real terminal
	if f, ok := stdout.(*os.File); !ok || f != os.Stdout {
		for _, c := range []*color.Color{a.green, a.yellow, a.red} {
			c.DisableColor()
		}
	}
	return a
}

// setupLogging installs the process logger on stderr
func (a *app) setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// exitError carries the process exit code out of a cobra RunE
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(format string, args ...any) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

// run executes the command line and returns the exit code
func run(args []string, a *app) int {
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code == exitUsage && ee.err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", ee.err)
		}
		return ee.code
	}

	// cobra argument and flag errors
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	fmt.Fprintf(a.stderr, "Run '%s --help' for usage.\n", cmd.CommandPath())
	return exitUsage
}
