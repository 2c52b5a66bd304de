package gstreamer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	framecount "github.com/Bwavrita/Compare-frame-read"
)

// codecElements names the GStreamer elements handling one RTP encoding
type codecElements struct {
	codec   string // framecount codec name
	depay   string
	parse   string
	decoder string
	caps    string // elementary stream caps between parser and decoder
}

// codecTable maps RTP encoding-name (upper case, as in SDP) to elements
var codecTable = map[string]codecElements{
	"H264": {
		codec:   "h264",
		depay:   "rtph264depay",
		parse:   "h264parse",
		decoder: "avdec_h264",
		caps:    "video/x-h264,stream-format=byte-stream,alignment=au",
	},
	"H265": {
		codec:   "hevc",
		depay:   "rtph265depay",
		parse:   "h265parse",
		decoder: "avdec_h265",
		caps:    "video/x-h265,stream-format=byte-stream,alignment=au",
	},
	"JPEG": {
		codec:   "mjpeg",
		depay:   "rtpjpegdepay",
		parse:   "jpegparse",
		decoder: "jpegdec",
		caps:    "image/jpeg",
	},
}

// lookupCodec returns the elements for an RTP encoding name
func lookupCodec(encoding string) (codecElements, bool) {
	enc := strings.ToUpper(encoding)
	switch enc {
	case "HEVC":
		enc = "H265"
	case "MJPEG":
		enc = "JPEG"
	}
	ce, ok := codecTable[enc]
	return ce, ok
}

// sourceConfig contains configuration for the rtspsrc demux pipeline
type sourceConfig struct {
	Location   string
	Protocols  int    // GstRTSPLowerTrans flags (4 = TCP)
	TCPTimeout uint64 // microseconds, 0 = element default
	Latency    int    // jitterbuffer latency in ms
	Debug      bool   // dump RTSP messages
}

// lowerTransport maps the framecount transport to GstRTSPLowerTrans flags
func lowerTransport(t framecount.Transport) int {
	if t == framecount.TransportUDP {
		return 1
	}
	return 4
}

// sourceElements holds references to the demux pipeline elements
type sourceElements struct {
	Pipeline *gst.Pipeline
	RTSPSrc  *gst.Element
}

// createSourcePipeline creates the demux half of the pipeline
//
// Pipeline structure (video branch built on pad-added):
//
//	rtspsrc ─┬─ rtpXdepay → Xparse → capsfilter → appsink   (first video pad)
//	         └─ fakesink                                      (every other pad)
//
// The pipeline is configured but NOT started (state remains NULL).
func createSourcePipeline(cfg sourceConfig) (*sourceElements, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	rtspsrc, err := gst.NewElement("rtspsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create rtspsrc: %w", err)
	}
	rtspsrc.SetProperty("location", cfg.Location)
	rtspsrc.SetProperty("protocols", cfg.Protocols)
	rtspsrc.SetProperty("latency", cfg.Latency)
	rtspsrc.SetProperty("ntp-sync", false)
	if cfg.TCPTimeout > 0 {
		rtspsrc.SetProperty("tcp-timeout", cfg.TCPTimeout)
	}
	if cfg.Debug {
		rtspsrc.SetProperty("debug", true)
	}

	if err := pipeline.Add(rtspsrc); err != nil {
		return nil, fmt.Errorf("failed to add rtspsrc: %w", err)
	}

	return &sourceElements{Pipeline: pipeline, RTSPSrc: rtspsrc}, nil
}

// trackFromCaps builds a Track from an rtspsrc pad's application/x-rtp caps
func trackFromCaps(index int, caps *gst.Caps) framecount.Track {
	track := framecount.Track{Index: index}
	if caps == nil || caps.GetSize() == 0 {
		return track
	}

	st := caps.GetStructureAt(0)
	if v, err := st.GetValue("media"); err == nil {
		if media, ok := v.(string); ok {
			switch media {
			case "video":
				track.Media = framecount.MediaVideo
			case "audio":
				track.Media = framecount.MediaAudio
			case "application":
				track.Media = framecount.MediaData
			}
		}
	}
	if v, err := st.GetValue("encoding-name"); err == nil {
		if enc, ok := v.(string); ok {
			track.Codec = strings.ToLower(enc)
			if ce, ok := lookupCodec(enc); ok {
				track.Codec = ce.codec
			}
		}
	}
	return track
}

// linkVideoBranch builds depay → parse → capsfilter → appsink for srcPad
func linkVideoBranch(pipeline *gst.Pipeline, srcPad *gst.Pad, ce codecElements, sink *app.Sink) error {
	depay, err := gst.NewElement(ce.depay)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", ce.depay, err)
	}
	parse, err := gst.NewElement(ce.parse)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", ce.parse, err)
	}
	if ce.parse != "jpegparse" {
		// Repeat SPS/PPS with every IDR so the decoder can join mid-stream
		parse.SetProperty("config-interval", -1)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(ce.caps))

	if err := pipeline.AddMany(depay, parse, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("failed to add video branch: %w", err)
	}
	if err := gst.ElementLinkMany(depay, parse, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("failed to link video branch: %w", err)
	}

	for _, e := range []*gst.Element{sink.Element, capsfilter, parse, depay} {
		e.SyncStateWithParent()
	}

	sinkPad := depay.GetStaticPad("sink")
	if sinkPad == nil {
		return fmt.Errorf("failed to get sink pad from %s", ce.depay)
	}
	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		return fmt.Errorf("failed to link %s to %s: %v", srcPad.GetName(), ce.depay, ret)
	}
	return nil
}

// linkFakeSink terminates a pad we do not decode
func linkFakeSink(pipeline *gst.Pipeline, srcPad *gst.Pad) {
	fakesink, err := gst.NewElement("fakesink")
	if err != nil {
		slog.Warn("gstreamer: failed to create fakesink", "pad", srcPad.GetName(), "error", err)
		return
	}
	fakesink.SetProperty("sync", false)
	if err := pipeline.Add(fakesink); err != nil {
		slog.Warn("gstreamer: failed to add fakesink", "pad", srcPad.GetName(), "error", err)
		return
	}
	fakesink.SyncStateWithParent()

	if ret := srcPad.Link(fakesink.GetStaticPad("sink")); ret != gst.PadLinkOK {
		slog.Warn("gstreamer: failed to link pad to fakesink", "pad", srcPad.GetName(), "ret", ret)
	}
}

// newPacketSink creates the appsink receiving depayloaded access units
var newPacketSink = func() (*app.Sink, error) {
	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 64)
	sink.SetProperty("drop", false)
	return sink, nil
}

// destroyPipeline sets the pipeline to NULL, releasing all element resources
var destroyPipeline = func(pipeline *gst.Pipeline) error {
	if pipeline == nil {
		return nil
	}
	if err := pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}
