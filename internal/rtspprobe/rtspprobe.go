// Package rtspprobe describes an RTSP stream without decoding it.
//
// It sends DESCRIBE over TCP with gortsplib, lists every media format in
// session order and marks the track a frame count would select (the first
// video media). H.264 and H.265 parameter sets carried in the SDP are parsed
// for resolution and frame rate.
package rtspprobe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// Track is one media format announced by the server
type Track struct {
	Index       int // media index in the session description
	Media       string
	Codec       string
	PayloadType uint8
	ClockRate   int
	Width       int
	Height      int
	FPS         float64
	// Selected marks the track a frame count decodes
	Selected bool
}

// Resolution returns "WxH" or "-" when the parameter sets were not announced
func (t Track) Resolution() string {
	if t.Width <= 0 || t.Height <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// Describe connects to address over TCP and returns its tracks
//
// timeout bounds each network operation (0 = gortsplib default).
func Describe(ctx context.Context, address string, timeout time.Duration) ([]Track, error) {
	u, err := base.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("rtspprobe: invalid address: %w", err)
	}

	transport := gortsplib.TransportTCP
	c := gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	if err := c.Start(u.Scheme, u.Host); err != nil {
		return nil, fmt.Errorf("rtspprobe: connect: %w", err)
	}
	defer c.Close()

	// Describe has no context; closing the client aborts it
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	desc, _, err := c.Describe(u)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("rtspprobe: describe: %w", ctx.Err())
		}
		return nil, fmt.Errorf("rtspprobe: describe: %w", err)
	}

	tracks := Summarize(desc)
	slog.Debug("rtspprobe: stream described", "medias", len(desc.Medias), "tracks", len(tracks))
	return tracks, nil
}

// Summarize flattens a session description into tracks
func Summarize(desc *description.Session) []Track {
	if desc == nil {
		return nil
	}

	var tracks []Track
	selected := false

	for i, media := range desc.Medias {
		for _, forma := range media.Formats {
			t := Track{
				Index:       i,
				Media:       string(media.Type),
				Codec:       codecName(forma.Codec()),
				PayloadType: forma.PayloadType(),
				ClockRate:   forma.ClockRate(),
			}
			fillVideoParams(&t, forma)

			if !selected && media.Type == description.MediaTypeVideo {
				t.Selected = true
				selected = true
			}
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// codecName maps gortsplib codec names onto the names the decoders report
func codecName(codec string) string {
	name := strings.ToLower(codec)
	if name == "h265" {
		return "hevc"
	}
	return name
}

// fillVideoParams parses SPS data announced in the SDP
func fillVideoParams(t *Track, forma format.Format) {
	switch f := forma.(type) {
	case *format.H264:
		sps, _ := f.SafeParams()
		if len(sps) == 0 {
			return
		}
		var p h264.SPS
		if err := p.Unmarshal(sps); err != nil {
			slog.Debug("rtspprobe: unparseable H264 SPS", "error", err)
			return
		}
		t.Width, t.Height, t.FPS = p.Width(), p.Height(), p.FPS()

	case *format.H265:
		_, sps, _ := f.SafeParams()
		if len(sps) == 0 {
			return
		}
		var p h265.SPS
		if err := p.Unmarshal(sps); err != nil {
			slog.Debug("rtspprobe: unparseable H265 SPS", "error", err)
			return
		}
		t.Width, t.Height, t.FPS = p.Width(), p.Height(), p.FPS()
	}
}

// Write prints tracks as an aligned table
func Write(w io.Writer, tracks []Track) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tMEDIA\tCODEC\tPT\tCLOCK\tRESOLUTION\tFPS\tSELECTED")
	for _, t := range tracks {
		fps := "-"
		if t.FPS > 0 {
			fps = fmt.Sprintf("%.2f", t.FPS)
		}
		mark := ""
		if t.Selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			t.Index, t.Media, t.Codec, t.PayloadType, t.ClockRate, t.Resolution(), fps, mark)
	}
	return tw.Flush()
}
