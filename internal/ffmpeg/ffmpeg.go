// Package ffmpeg implements the framecount backend contract on top of the
// FFmpeg libraries through go-astiav.
//
// Pipeline per count:
//
//	AllocFormatContext → OpenInput(rtsp_transport=tcp) → FindStreamInfo
//	    → FindDecoder → AllocCodecContext → ToCodecContext → Open
//	    → loop { ReadFrame → SendPacket → ReceiveFrame* }
//
// Blocking calls are bounded by an IO interrupter, fired either when the
// context of the call in progress is done or when the per-read timeout
// expires. The interrupter is resumed once the call returns, so a context
// that only bounded the connect never affects later reads.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/asticode/go-astiav"

	framecount "github.com/Bwavrita/Compare-frame-read"
	"github.com/Bwavrita/Compare-frame-read/internal/libguard"
)

// Name is the backend name used in results and CLI flags
const Name = "ffmpeg"

var (
	// verbose is read by initLibrary; set before the first Acquire
	verbose atomic.Bool

	guard = libguard.New(Name, initLibrary, deinitLibrary)
)

// initLibrary configures the process-wide FFmpeg state.
//
// Network initialization is done lazily by libavformat itself since FFmpeg 4,
// so the global state left to manage is logging.
func initLibrary() error {
	level := astiav.LogLevelError
	if verbose.Load() {
		level = astiav.LogLevelDebug
	}
	astiav.SetLogLevel(level)
	astiav.SetLogCallback(func(_ astiav.Classer, l astiav.LogLevel, _, msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		switch {
		case l <= astiav.LogLevelError:
			slog.Debug("ffmpeg: library error", "message", msg)
		case l <= astiav.LogLevelWarning:
			slog.Debug("ffmpeg: library warning", "message", msg)
		default:
			slog.Debug("ffmpeg: library", "message", msg)
		}
	})
	return nil
}

func deinitLibrary() {
	astiav.ResetLogCallback()
	astiav.SetLogLevel(astiav.LogLevelInfo)
}

// Backend is the FFmpeg implementation of framecount.Backend
type Backend struct {
	debug bool
}

// New creates an FFmpeg backend
func New(debug bool) *Backend {
	return &Backend{debug: debug}
}

// Name implements framecount.Backend
func (b *Backend) Name() string { return Name }

// Acquire implements framecount.Backend
func (b *Backend) Acquire() (func(), error) {
	if b.debug {
		verbose.Store(true)
	}
	return guard.Acquire()
}

// Open implements framecount.Backend
func (b *Backend) Open(ctx context.Context, address string, opts framecount.OpenOptions) (framecount.Demuxer, error) {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return nil, errors.New("ffmpeg: failed to allocate format context")
	}

	ii := astiav.NewIOInterrupter()
	fc.SetIOInterrupter(ii)

	d := &demuxer{
		fc:          fc,
		ii:          ii,
		readTimeout: opts.ReadTimeout,
	}

	dict := inputOptions(opts)
	defer dict.Free()

	unbind := d.bind(ctx)
	err := fc.OpenInput(address, nil, dict)
	unbind()

	if err != nil {
		fc.Free()
		ii.Free()
		return nil, fmt.Errorf("ffmpeg: open input: %w", d.cause(ctx, err))
	}
	d.opened = true

	slog.Debug("ffmpeg: input opened",
		"transport", opts.Transport.String(),
		"connect_timeout", opts.ConnectTimeout,
		"read_timeout", opts.ReadTimeout,
	)

	return d, nil
}

// inputOptions builds the demuxer dictionary for opts
func inputOptions(opts framecount.OpenOptions) *astiav.Dictionary {
	dict := astiav.NewDictionary()

	_ = dict.Set("rtsp_transport", opts.Transport.String(), 0)

	// RTSP socket I/O timeout in microseconds (covers connect and reads)
	timeout := opts.ReadTimeout
	if opts.ConnectTimeout > timeout {
		timeout = opts.ConnectTimeout
	}
	if timeout > 0 {
		_ = dict.Set("timeout", strconv.FormatInt(timeout.Microseconds(), 10), 0)
	}

	return dict
}

type demuxer struct {
	fc          *astiav.FormatContext
	ii          *astiav.IOInterrupter
	pkt         *astiav.Packet
	readTimeout time.Duration
	opened      bool

	timedOut atomic.Bool
	closed   bool
}

// bind interrupts the blocking call in progress once ctx is done.
//
// The returned func must be called when the call returns. It waits for a
// racing interrupt to land and resumes the interrupter after it, leaving
// the demuxer usable with another context.
func (d *demuxer) bind(ctx context.Context) (unbind func()) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		d.ii.Interrupt()
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
			d.ii.Resume()
		}
	}
}

// interruptAfter interrupts the blocking call in progress once timeout
// elapses and marks the demuxer as timed out. Same contract as bind.
func (d *demuxer) interruptAfter(timeout time.Duration) (stop func()) {
	d.timedOut.Store(false)
	fired := make(chan struct{})
	t := time.AfterFunc(timeout, func() {
		d.timedOut.Store(true)
		d.ii.Interrupt()
		close(fired)
	})
	return func() {
		if !t.Stop() {
			<-fired
			d.ii.Resume()
		}
	}
}

// cause maps an interrupted call to the reason it was interrupted
func (d *demuxer) cause(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w (%v)", ctx.Err(), err)
	}
	if d.timedOut.Load() {
		return fmt.Errorf("%w (%v)", framecount.ErrReadTimeout, err)
	}
	return err
}

func (d *demuxer) Probe(ctx context.Context) ([]framecount.Track, error) {
	unbind := d.bind(ctx)
	err := d.fc.FindStreamInfo(nil)
	unbind()

	if err != nil {
		return nil, fmt.Errorf("ffmpeg: find stream info: %w", d.cause(ctx, err))
	}

	streams := d.fc.Streams()
	tracks := make([]framecount.Track, 0, len(streams))
	for _, s := range streams {
		par := s.CodecParameters()
		tracks = append(tracks, framecount.Track{
			Index:  s.Index(),
			Media:  mediaType(par.MediaType()),
			Codec:  par.CodecID().Name(),
			Width:  par.Width(),
			Height: par.Height(),
		})
	}
	return tracks, nil
}

func mediaType(t astiav.MediaType) framecount.MediaType {
	switch t {
	case astiav.MediaTypeVideo:
		return framecount.MediaVideo
	case astiav.MediaTypeAudio:
		return framecount.MediaAudio
	case astiav.MediaTypeData, astiav.MediaTypeSubtitle:
		return framecount.MediaData
	default:
		return framecount.MediaUnknown
	}
}

func (d *demuxer) OpenDecoder(track framecount.Track) (framecount.Decoder, error) {
	var stream *astiav.Stream
	for _, s := range d.fc.Streams() {
		if s.Index() == track.Index {
			stream = s
			break
		}
	}
	if stream == nil {
		return nil, framecount.NewStageError(framecount.KindDecoderConfig,
			fmt.Errorf("ffmpeg: stream %d not found", track.Index))
	}

	par := stream.CodecParameters()
	codec := astiav.FindDecoder(par.CodecID())
	if codec == nil {
		return nil, framecount.NewStageError(framecount.KindDecoderNotFound,
			fmt.Errorf("ffmpeg: no decoder for codec %s", par.CodecID().Name()))
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, framecount.NewStageError(framecount.KindDecoderConfig,
			fmt.Errorf("ffmpeg: failed to allocate codec context for %s", codec.Name()))
	}

	if err := par.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, framecount.NewStageError(framecount.KindDecoderConfig,
			fmt.Errorf("ffmpeg: codec parameters to context: %w", err))
	}

	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, framecount.NewStageError(framecount.KindDecoderOpen,
			fmt.Errorf("ffmpeg: open decoder %s: %w", codec.Name(), err))
	}

	slog.Debug("ffmpeg: decoder opened",
		"codec", codec.Name(),
		"stream", track.Index,
		"resolution", fmt.Sprintf("%dx%d", cc.Width(), cc.Height()),
	)

	return &decoder{cc: cc}, nil
}

func (d *demuxer) ReadPacket(ctx context.Context) (framecount.Packet, error) {
	if d.pkt == nil {
		d.pkt = astiav.AllocPacket()
		if d.pkt == nil {
			return nil, errors.New("ffmpeg: failed to allocate packet")
		}
	}

	stopTimer := func() {}
	if d.readTimeout > 0 {
		stopTimer = d.interruptAfter(d.readTimeout)
	}
	unbind := d.bind(ctx)

	err := d.fc.ReadFrame(d.pkt)

	unbind()
	stopTimer()

	if err != nil {
		if errors.Is(err, astiav.ErrEof) || errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ffmpeg: read frame: %w", d.cause(ctx, err))
	}

	return &packet{pkt: d.pkt}, nil
}

func (d *demuxer) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	if d.pkt != nil {
		d.pkt.Free()
	}
	if d.opened {
		d.fc.CloseInput()
	}
	d.fc.Free()
	d.ii.Free()
	return nil
}

type packet struct {
	pkt *astiav.Packet
}

func (p *packet) StreamIndex() int { return p.pkt.StreamIndex() }
func (p *packet) Size() int        { return p.pkt.Size() }
func (p *packet) Release()         { p.pkt.Unref() }

type decoder struct {
	cc *astiav.CodecContext
}

func (d *decoder) SendPacket(pkt framecount.Packet) error {
	p, ok := pkt.(*packet)
	if !ok {
		return fmt.Errorf("ffmpeg: foreign packet %T", pkt)
	}
	if err := d.cc.SendPacket(p.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return fmt.Errorf("ffmpeg: send packet: %w", err)
	}
	return nil
}

func (d *decoder) ReceiveFrame(buf framecount.FrameBuffer) error {
	f, ok := buf.(*frame)
	if !ok {
		return fmt.Errorf("ffmpeg: foreign frame buffer %T", buf)
	}

	err := d.cc.ReceiveFrame(f.f)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, astiav.ErrEagain):
		return framecount.ErrNeedInput
	case errors.Is(err, astiav.ErrEof):
		return io.EOF
	default:
		return fmt.Errorf("ffmpeg: receive frame: %w", err)
	}
}

func (d *decoder) NewFrameBuffer() (framecount.FrameBuffer, error) {
	f := astiav.AllocFrame()
	if f == nil {
		return nil, errors.New("ffmpeg: failed to allocate frame")
	}
	return &frame{f: f}, nil
}

func (d *decoder) NewConverter(dst framecount.PixelFormat) (framecount.Converter, error) {
	if dst != framecount.PixelFormatRGB24 {
		return nil, fmt.Errorf("ffmpeg: unsupported pixel format %q", dst)
	}
	return newScaler(astiav.PixelFormatRgb24), nil
}

func (d *decoder) Close() error {
	d.cc.Free()
	return nil
}

type frame struct {
	f *astiav.Frame
}

func (f *frame) Width() int          { return f.f.Width() }
func (f *frame) Height() int         { return f.f.Height() }
func (f *frame) PixelFormat() string { return f.f.PixelFormat().String() }
func (f *frame) Close() error {
	f.f.Free()
	return nil
}
