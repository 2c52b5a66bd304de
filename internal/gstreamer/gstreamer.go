// Package gstreamer implements the framecount backend contract with
// GStreamer through go-gst.
//
// A count uses two pipelines. The source pipeline connects with rtspsrc over
// TCP and hands depayloaded access units of the first video track to an
// appsink. The decoder pipeline receives them through an appsrc:
//
//	appsrc → Xparse → avdec_X → appsink
//
// Pixel conversion, when requested, is a third pipeline
// (appsrc → videoconvert → RGB caps → appsink) fed with decoded frames.
//
// Tracks other than the first video track are linked to fakesink inside
// the source pipeline, so their packets never surface through ReadPacket.
package gstreamer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	framecount "github.com/Bwavrita/Compare-frame-read"
	"github.com/Bwavrita/Compare-frame-read/internal/libguard"
)

// Name is the backend name used in results and CLI flags
const Name = "gstreamer"

// GStreamer cannot be re-initialized after gst_deinit, so the guard only
// initializes once and never tears down.
var (
	initOnce sync.Once
	initErr  error

	guard = libguard.New(Name, initLibrary, nil)
)

func initLibrary() error {
	initOnce.Do(func() {
		gst.Init(nil)

		// Verify GStreamer is working (core plugins installed)
		elem, err := gst.NewElement("fakesrc")
		if err != nil {
			initErr = fmt.Errorf("GStreamer not available or not properly installed: %w", err)
			return
		}
		elem.SetState(gst.StateNull)
	})
	return initErr
}

// Available reports whether GStreamer and the rtspsrc plugin can be used
func Available() error {
	if err := initLibrary(); err != nil {
		return err
	}
	elem, err := gst.NewElement("rtspsrc")
	if err != nil {
		return fmt.Errorf("rtspsrc not available (install gst-plugins-good): %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}

// Backend is the GStreamer implementation of framecount.Backend
type Backend struct {
	debug bool
}

// New creates a GStreamer backend
func New(debug bool) *Backend {
	return &Backend{debug: debug}
}

// Name implements framecount.Backend
func (b *Backend) Name() string { return Name }

// Acquire implements framecount.Backend
func (b *Backend) Acquire() (func(), error) {
	return guard.Acquire()
}

// connectTimeoutDefault bounds the wait for rtspsrc to expose its pads when
// the caller set no connect timeout
const connectTimeoutDefault = 20 * time.Second

// Open implements framecount.Backend
//
// Starts the source pipeline and blocks until rtspsrc has announced all of
// its pads (RTSP DESCRIBE/SETUP/PLAY done), a bus error arrives, ctx is done
// or the connect timeout expires.
func (b *Backend) Open(ctx context.Context, address string, opts framecount.OpenOptions) (framecount.Demuxer, error) {
	cfg := sourceConfig{
		Location:   address,
		Protocols:  lowerTransport(opts.Transport),
		TCPTimeout: uint64(opts.ReadTimeout.Microseconds()),
		Latency:    200,
		Debug:      b.debug || opts.Debug,
	}

	elements, err := createSourcePipeline(cfg)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: %w", err)
	}

	sink, err := newPacketSink()
	if err != nil {
		_ = destroyPipeline(elements.Pipeline)
		return nil, fmt.Errorf("gstreamer: %w", err)
	}

	d := &demuxer{
		elements:    elements,
		sink:        sink,
		readTimeout: opts.ReadTimeout,
		packets:     make(chan []byte, 64),
		eos:         make(chan struct{}),
		errs:        make(chan error, 1),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		videoIndex:  -1,
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onNewSample,
		EOSFunc: func(*app.Sink) {
			d.eosOnce.Do(func() { close(d.eos) })
		},
	})

	elements.RTSPSrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
		d.onPadAdded(srcPad)
	})
	elements.RTSPSrc.Connect("no-more-pads", func(self *gst.Element) {
		d.readyOnce.Do(func() { close(d.ready) })
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		_ = destroyPipeline(elements.Pipeline)
		return nil, fmt.Errorf("gstreamer: failed to start pipeline: %w", err)
	}

	d.wg.Add(1)
	go d.monitor()

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = connectTimeoutDefault
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.ready:
		slog.Debug("gstreamer: source connected",
			"tracks", len(d.Tracks()),
			"transport", opts.Transport.String(),
		)
		return d, nil
	case err := <-d.errs:
		d.Close()
		return nil, fmt.Errorf("gstreamer: connect: %w", err)
	case <-timer.C:
		d.Close()
		return nil, fmt.Errorf("gstreamer: connect: timed out after %v", timeout)
	case <-ctx.Done():
		d.Close()
		return nil, fmt.Errorf("gstreamer: connect: %w", ctx.Err())
	}
}

type demuxer struct {
	elements    *sourceElements
	sink        *app.Sink
	readTimeout time.Duration

	mu         sync.Mutex
	tracks     []framecount.Track
	videoIndex int
	video      codecElements

	packets   chan []byte
	eos       chan struct{}
	eosOnce   sync.Once
	errs      chan error
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// onPadAdded records a track for every rtspsrc pad and links the first
// decodable video pad to the packet appsink
func (d *demuxer) onPadAdded(srcPad *gst.Pad) {
	d.mu.Lock()
	defer d.mu.Unlock()

	track := trackFromCaps(len(d.tracks), srcPad.GetCurrentCaps())
	d.tracks = append(d.tracks, track)

	slog.Debug("gstreamer: pad-added signal received",
		"pad", srcPad.GetName(),
		"media", track.Media.String(),
		"codec", track.Codec,
	)

	if track.Media != framecount.MediaVideo || d.videoIndex >= 0 {
		linkFakeSink(d.elements.Pipeline, srcPad)
		return
	}

	// The first video track is the one the counter selects, decodable or not
	d.videoIndex = track.Index

	ce, ok := lookupCodec(track.Codec)
	if !ok {
		slog.Warn("gstreamer: unsupported video encoding", "codec", track.Codec)
		linkFakeSink(d.elements.Pipeline, srcPad)
		return
	}
	if err := linkVideoBranch(d.elements.Pipeline, srcPad, ce, d.sink); err != nil {
		slog.Error("gstreamer: failed to link video branch", "codec", track.Codec, "error", err)
		linkFakeSink(d.elements.Pipeline, srcPad)
		return
	}
	d.video = ce
}

// onNewSample copies the access unit out of the appsink (GStreamer reuses the buffer)
func (d *demuxer) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	au := make([]byte, len(data))
	copy(au, data)
	buffer.Unmap()

	if len(au) == 0 {
		return gst.FlowOK
	}

	select {
	case d.packets <- au:
		return gst.FlowOK
	case <-d.done:
		return gst.FlowFlushing
	}
}

// Tracks returns the tracks announced so far
func (d *demuxer) Tracks() []framecount.Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]framecount.Track(nil), d.tracks...)
}

func (d *demuxer) Probe(ctx context.Context) ([]framecount.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Tracks(), nil
}

func (d *demuxer) OpenDecoder(track framecount.Track) (framecount.Decoder, error) {
	d.mu.Lock()
	videoIndex, ce := d.videoIndex, d.video
	d.mu.Unlock()

	if track.Index != videoIndex {
		return nil, framecount.NewStageError(framecount.KindDecoderConfig,
			fmt.Errorf("gstreamer: track %d is not routed to the decoder (video track is %d)", track.Index, videoIndex))
	}
	if ce.decoder == "" {
		return nil, framecount.NewStageError(framecount.KindDecoderNotFound,
			fmt.Errorf("gstreamer: no decoder for encoding %s", track.Codec))
	}
	return newDecoder(ce)
}

func (d *demuxer) ReadPacket(ctx context.Context) (framecount.Packet, error) {
	var timeout <-chan time.Time
	if d.readTimeout > 0 {
		timer := time.NewTimer(d.readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case au := <-d.packets:
		return &packet{stream: d.videoIndex, data: au}, nil
	case <-d.eos:
		// Drain what the appsink delivered before EOS
		select {
		case au := <-d.packets:
			return &packet{stream: d.videoIndex, data: au}, nil
		default:
			return nil, io.EOF
		}
	case err := <-d.errs:
		return nil, fmt.Errorf("gstreamer: read: %w", err)
	case <-timeout:
		return nil, fmt.Errorf("gstreamer: no packet within %v: %w", d.readTimeout, framecount.ErrReadTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *demuxer) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
		err = destroyPipeline(d.elements.Pipeline)
	})
	if err != nil {
		return fmt.Errorf("gstreamer: %w", err)
	}
	return nil
}

type packet struct {
	stream int
	data   []byte
}

func (p *packet) StreamIndex() int { return p.stream }
func (p *packet) Size() int        { return len(p.data) }
func (p *packet) Release()         { p.data = nil }
