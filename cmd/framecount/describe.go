package main

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bwavrita/Compare-frame-read/internal/rtspprobe"
)

func newDescribeCommand(a *app, shared *sharedOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "describe",
		Short: "List the tracks an RTSP camera announces",
		Long: `describe sends an RTSP DESCRIBE over TCP and prints every announced track,
marking with * the video track a count would decode. H.264 and H.265
resolution and frame rate come from the parameter sets in the SDP.`,
		Example:       `  framecount describe --url rtsp://10.0.0.5:554/stream1 --username admin`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, shared)
			if err != nil {
				return usageError("%v", err)
			}
			if cfg.Camera.URL == "" {
				return usageError("camera URL is required (flag --url or FRAMECOUNT_CAMERA_URL)")
			}
			address, err := cfg.Address()
			if err != nil {
				return usageError("%v", err)
			}
			if u, _ := url.Parse(address); u == nil || (u.Scheme != "rtsp" && u.Scheme != "rtsps") {
				return usageError("describe needs an rtsp:// or rtsps:// URL")
			}

			a.setupLogging(cfg.Debug)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			tracks, err := a.describe(ctx, address, timeout)
			if err != nil {
				a.red.Fprintf(a.stdout, "Error describing stream: %v\n", err)
				return &exitError{code: exitFailure}
			}
			if err := rtspprobe.Write(a.stdout, tracks); err != nil {
				return &exitError{code: exitFailure, err: err}
			}

			if !hasSelected(tracks) {
				a.yellow.Fprintln(a.stdout, "No video track: a count against this stream would fail.")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Network timeout")

	return cmd
}

func hasSelected(tracks []rtspprobe.Track) bool {
	for _, t := range tracks {
		if t.Selected {
			return true
		}
	}
	return false
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "framecount %s\n", version)
		},
	}
}
