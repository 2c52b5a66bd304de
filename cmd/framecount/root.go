package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	framecount "github.com/Bwavrita/Compare-frame-read"
	"github.com/Bwavrita/Compare-frame-read/internal/config"
	"github.com/Bwavrita/Compare-frame-read/internal/metrics"
	"github.com/Bwavrita/Compare-frame-read/internal/report"
	"github.com/Bwavrita/Compare-frame-read/internal/retry"
)

// sharedOptions are the persistent flags every subcommand understands
type sharedOptions struct {
	ConfigPath string
	URL        string
	Username   string
	Password   string
	Debug      bool
}

// countOptions are the flags of the root count command
type countOptions struct {
	Backend        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Convert        string
	Retries        int
	Stats          bool
	PushGateway    string
	MQTTBroker     string
	MQTTTopic      string
	ReportFormat   string
}

func newRootCommand(a *app) *cobra.Command {
	shared := &sharedOptions{}
	opts := &countOptions{}

	cmd := &cobra.Command{
		Use:   "framecount [flags] <frames>",
		Short: "Decode frames from a network camera and report the elapsed time",
		Long: `framecount opens a camera stream (RTSP forced over TCP), selects the first
video track, decodes the requested number of frames and prints how long it took.

The camera address comes from --url, FRAMECOUNT_CAMERA_URL or camera.url in the
--config file. Credentials are read from --username/--password,
FRAMECOUNT_CAMERA_USERNAME/FRAMECOUNT_CAMERA_PASSWORD or the config file.`,
		Example: `  framecount --url rtsp://10.0.0.5:554/stream1 100
  framecount --url rtsp://10.0.0.5/stream1 --username admin --backend gstreamer 250
  framecount --config camera.yaml --convert rgb24 --stats 500`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCount(cmd, shared, opts, args[0])
		},
	}

	pflags := cmd.PersistentFlags()
	pflags.StringVarP(&shared.ConfigPath, "config", "c", "", "YAML configuration file")
	pflags.StringVar(&shared.URL, "url", "", "Camera stream URL (rtsp://host:port/path)")
	pflags.StringVar(&shared.Username, "username", "", "Camera username")
	pflags.StringVar(&shared.Password, "password", "", "Camera password (prefer FRAMECOUNT_CAMERA_PASSWORD)")
	pflags.BoolVar(&shared.Debug, "debug", false, "Enable debug logging")

	flags := cmd.Flags()
	flags.StringVar(&opts.Backend, "backend", "ffmpeg", "Decoding backend: ffmpeg, gstreamer")
	flags.DurationVar(&opts.ConnectTimeout, "connect-timeout", 10*time.Second, "Open and probe timeout (0 = none)")
	flags.DurationVar(&opts.ReadTimeout, "read-timeout", 5*time.Second, "Per-packet read timeout (0 = none)")
	flags.StringVar(&opts.Convert, "convert", "", "Convert counted frames to this pixel format (rgb24)")
	flags.IntVar(&opts.Retries, "retries", 0, "Retry a count that failed to connect this many times")
	flags.BoolVar(&opts.Stats, "stats", false, "Print decode-rate statistics")
	flags.StringVar(&opts.PushGateway, "push-gateway", "", "Prometheus Pushgateway URL")
	flags.StringVar(&opts.MQTTBroker, "mqtt-broker", "", "MQTT broker receiving the run summary (host:port)")
	flags.StringVar(&opts.MQTTTopic, "mqtt-topic", "framecount/runs", "MQTT topic of the run summary")
	flags.StringVar(&opts.ReportFormat, "report-format", "json", "Run summary payload: json, msgpack")

	_ = cmd.RegisterFlagCompletionFunc("backend", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return config.Backends, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("report-format", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return config.ReportFormats, cobra.ShellCompDirectiveNoFileComp
	})

	cmd.AddCommand(newDescribeCommand(a, shared))
	cmd.AddCommand(newVersionCommand(a))

	return cmd
}

// loadConfig merges file, environment and the shared flags that were set
func loadConfig(cmd *cobra.Command, shared *sharedOptions) (*config.Config, error) {
	cfg, err := config.Load(shared.ConfigPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Camera.URL = shared.URL
	}
	if flags.Changed("username") {
		cfg.Camera.Username = shared.Username
	}
	if flags.Changed("password") {
		cfg.Camera.Password = shared.Password
	}
	if flags.Changed("debug") {
		cfg.Debug = shared.Debug
	}
	return cfg, nil
}

// applyCountFlags overlays the count flags that were set explicitly
func applyCountFlags(cmd *cobra.Command, cfg *config.Config, opts *countOptions) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = opts.Backend
	}
	if flags.Changed("connect-timeout") {
		cfg.ConnectTimeout = opts.ConnectTimeout
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout = opts.ReadTimeout
	}
	if flags.Changed("convert") {
		cfg.Convert = opts.Convert
	}
	if flags.Changed("retries") {
		cfg.Retries = opts.Retries
	}
	if flags.Changed("stats") {
		cfg.Stats = opts.Stats
	}
	if flags.Changed("push-gateway") {
		cfg.Metrics.PushGateway = opts.PushGateway
	}
	if flags.Changed("mqtt-broker") {
		cfg.Report.Broker = opts.MQTTBroker
	}
	if flags.Changed("mqtt-topic") {
		cfg.Report.Topic = opts.MQTTTopic
	}
	if flags.Changed("report-format") {
		cfg.Report.Format = opts.ReportFormat
	}
}

func (a *app) runCount(cmd *cobra.Command, shared *sharedOptions, opts *countOptions, arg string) error {
	frames, err := strconv.Atoi(arg)
	if err != nil {
		return usageError("invalid frame count %q: must be an integer", arg)
	}

	cfg, err := loadConfig(cmd, shared)
	if err != nil {
		return usageError("%v", err)
	}
	applyCountFlags(cmd, cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return usageError("invalid configuration: %v", err)
	}

	a.setupLogging(cfg.Debug)

	address, err := cfg.Address()
	if err != nil {
		return usageError("%v", err)
	}
	factory, ok := a.backends[cfg.Backend]
	if !ok {
		return usageError("backend %q not available in this build", cfg.Backend)
	}
	backend := factory(cfg.Debug)

	counter, err := framecount.NewCounter(framecount.Config{
		Backend:        backend,
		Convert:        framecount.PixelFormat(cfg.Convert),
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		Debug:          cfg.Debug,
	})
	if err != nil {
		return usageError("%v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res *framecount.Result
	state := &retry.State{}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Retries
	retryCfg.RetryDelay = a.retryDelay

	err = retry.Run(ctx, func(ctx context.Context) error {
		var countErr error
		res, countErr = counter.Count(ctx, address, frames)
		return countErr
	}, retryCfg, framecount.Retryable, state)

	a.publish(cfg, res, err, state)
	a.printResult(res, err, frames, cfg.Stats)

	if framecount.OutcomeOf(res, err) == framecount.OutcomeFailure {
		return &exitError{code: exitFailure}
	}
	return nil
}

// publish sends metrics and the run summary; failures only warn
func (a *app) publish(cfg *config.Config, res *framecount.Result, err error, state *retry.State) {
	runID := ""
	if res != nil {
		runID = res.RunID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.Metrics.PushGateway != "" {
		rec := metrics.New()
		rec.Observe(cfg.Backend, res, err)
		rec.ObserveRetries(cfg.Backend, state.Retries.Load())
		if perr := rec.Push(ctx, cfg.Metrics.PushGateway, cfg.Metrics.Job, runID); perr != nil {
			slog.Warn("framecount: metrics push failed", "error", perr)
		}
	}

	if cfg.Report.Broker != "" {
		pub := report.NewPublisher(report.Config{
			Broker:   cfg.Report.Broker,
			Topic:    cfg.Report.Topic,
			QoS:      cfg.Report.QoS,
			Format:   cfg.Report.Format,
			Username: cfg.Report.Username,
			Password: cfg.Report.Password,
		})
		if cerr := pub.Connect(ctx); cerr != nil {
			slog.Warn("framecount: report not published", "error", cerr)
			return
		}
		defer pub.Disconnect()
		if perr := pub.Publish(report.NewSummary(res, err, a.now())); perr != nil {
			slog.Warn("framecount: report not published", "error", perr)
		}
	}
}

func (a *app) printResult(res *framecount.Result, err error, target int, stats bool) {
	if loopRan(res, err) {
		fmt.Fprintf(a.stdout, "Elapsed time: %.2f seconds.\n", res.Elapsed.Seconds())
	}

	switch framecount.OutcomeOf(res, err) {
	case framecount.OutcomeSuccess:
		a.green.Fprintf(a.stdout, "Processed %d frames successfully.\n", res.FramesDecoded)
	case framecount.OutcomePartial:
		a.yellow.Fprintf(a.stdout, "Processed %d of %d requested frames (stream ended early).\n", res.FramesDecoded, target)
	default:
		a.red.Fprintf(a.stdout, "Error processing frames: %s\n", failureCause(res, err))
	}

	if stats && res != nil && res.FramesDecoded > 0 {
		a.printStats(res)
	}
}

// loopRan reports whether the count got past setup. Setup failures have no
// decode time worth printing.
func loopRan(res *framecount.Result, err error) bool {
	if res == nil {
		return false
	}
	return err == nil || res.Stop != framecount.StopNotStarted || res.FramesDecoded > 0
}

// failureCause explains a failed count, which may carry no error when the
// stream ended before the first frame
func failureCause(res *framecount.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res == nil {
		return "no result"
	}
	if res.ReadErr != nil {
		return fmt.Sprintf("no frames decoded (%s: %v)", res.Stop, res.ReadErr)
	}
	return fmt.Sprintf("no frames decoded (%s)", res.Stop)
}

func (a *app) printStats(res *framecount.Result) {
	w := a.stdout
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "╭─────────────────────────────────────────────────────────╮\n")
	fmt.Fprintf(w, "│ Run %s\n", res.RunID)
	fmt.Fprintf(w, "├─────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(w, "│ Backend:            %s\n", res.Backend)
	fmt.Fprintf(w, "│ Track:              #%d %s %s\n", res.Track.Index, res.Track.Codec, res.Track.Resolution())
	fmt.Fprintf(w, "│ Stop:               %s\n", res.Stop)
	fmt.Fprintf(w, "│ Packets:            %d read, %d skipped, %d rejected\n",
		res.PacketsRead, res.PacketsSkipped, res.PacketsRejected)
	fmt.Fprintf(w, "│ FPS Mean:           %6.2f fps\n", res.Rate.FPSMean)
	fmt.Fprintf(w, "│ FPS StdDev:         %6.2f fps\n", res.Rate.FPSStdDev)
	fmt.Fprintf(w, "│ FPS Range:          %6.1f - %.1f fps\n", res.Rate.FPSMin, res.Rate.FPSMax)
	fmt.Fprintf(w, "│ Jitter Mean:        %6.3f s\n", res.Rate.JitterMean)
	fmt.Fprintf(w, "│ Jitter Max:         %6.3f s\n", res.Rate.JitterMax)
	fmt.Fprintf(w, "│ Stable:             %6v\n", res.Rate.IsStable)
	fmt.Fprintf(w, "╰─────────────────────────────────────────────────────────╯\n")
}
