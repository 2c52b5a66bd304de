package gstreamer

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	framecount "github.com/Bwavrita/Compare-frame-read"
)

// convertTimeout bounds the wait for one frame to come out of videoconvert
const convertTimeout = 2 * time.Second

// rawFrame is a decoded frame copied out of an appsink sample
type rawFrame struct {
	data   []byte
	width  int
	height int
	format string
	caps   string
}

// appPipeline is an appsrc → ... → appsink pipeline with a bus monitor.
// Samples reaching the appsink are copied into out.
type appPipeline struct {
	role     string
	pipeline *gst.Pipeline
	src      *app.Source
	sink     *app.Sink

	out       chan rawFrame
	errs      chan error
	eos       chan struct{}
	eosOnce   sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// newAppPipeline links appsrc, middle and appsink and starts the pipeline.
// srcCaps may be empty when caps are only known once data arrives.
func newAppPipeline(role, srcCaps string, middle ...*gst.Element) (*appPipeline, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsrc: %w", err)
	}
	if srcCaps != "" {
		src.SetCaps(gst.NewCapsFromString(srcCaps))
	}
	src.SetFormat(gst.FormatTime)
	src.SetProperty("is-live", true)
	src.SetProperty("do-timestamp", true)

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)

	chain := append([]*gst.Element{src.Element}, middle...)
	chain = append(chain, sink.Element)

	if err := pipeline.AddMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to add %s elements: %w", role, err)
	}
	if err := gst.ElementLinkMany(chain...); err != nil {
		return nil, fmt.Errorf("failed to link %s elements: %w", role, err)
	}

	p := &appPipeline{
		role:     role,
		pipeline: pipeline,
		src:      src,
		sink:     sink,
		out:      make(chan rawFrame, 64),
		errs:     make(chan error, 1),
		eos:      make(chan struct{}),
		done:     make(chan struct{}),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: p.onNewSample,
		EOSFunc: func(*app.Sink) {
			p.eosOnce.Do(func() { close(p.eos) })
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = destroyPipeline(pipeline)
		return nil, fmt.Errorf("failed to start %s pipeline: %w", role, err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		watchBus(role, pipeline, p.done,
			func() { p.eosOnce.Do(func() { close(p.eos) }) },
			func(err error) {
				select {
				case p.errs <- err:
				default:
				}
			},
		)
	}()

	return p, nil
}

func (p *appPipeline) onNewSample(sink *app.Sink) gst.FlowReturn {
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
	fr := rawFrame{data: make([]byte, len(data))}
	copy(fr.data, data)
	buffer.Unmap()

	if caps := sample.GetCaps(); caps != nil {
		fr.caps = caps.String()
		fr.width, fr.height, fr.format = videoInfo(caps)
	}

	select {
	case p.out <- fr:
		return gst.FlowOK
	case <-p.done:
		return gst.FlowFlushing
	}
}

// push hands one buffer to the appsrc
func (p *appPipeline) push(data []byte) error {
	if ret := p.src.PushBuffer(gst.NewBufferFromBytes(data)); ret != gst.FlowOK {
		return fmt.Errorf("push buffer: %v", ret)
	}
	return nil
}

func (p *appPipeline) close() error {
	var err error
	p.closeOnce.Do(func() {
		p.src.EndStream()
		close(p.done)
		p.wg.Wait()
		err = destroyPipeline(p.pipeline)
	})
	return err
}

// videoInfo reads width, height and format from raw video caps
func videoInfo(caps *gst.Caps) (width, height int, format string) {
	if caps.GetSize() == 0 {
		return 0, 0, ""
	}
	st := caps.GetStructureAt(0)
	if v, err := st.GetValue("width"); err == nil {
		width, _ = v.(int)
	}
	if v, err := st.GetValue("height"); err == nil {
		height, _ = v.(int)
	}
	if v, err := st.GetValue("format"); err == nil {
		format, _ = v.(string)
	}
	return width, height, format
}

// decoder runs appsrc → Xparse → avdec_X → appsink.
//
// Decoding is asynchronous: SendPacket only queues the access unit and
// ReceiveFrame returns ErrNeedInput while no decoded frame is waiting.
type decoder struct {
	codec string
	p     *appPipeline
}

func newDecoder(ce codecElements) (framecount.Decoder, error) {
	parse, err := gst.NewElement(ce.parse)
	if err != nil {
		return nil, framecount.NewStageError(framecount.KindDecoderNotFound,
			fmt.Errorf("gstreamer: %s not available: %w", ce.parse, err))
	}
	dec, err := gst.NewElement(ce.decoder)
	if err != nil {
		return nil, framecount.NewStageError(framecount.KindDecoderNotFound,
			fmt.Errorf("gstreamer: %s not available (install gst-libav): %w", ce.decoder, err))
	}

	p, err := newAppPipeline("decoder", ce.caps, parse, dec)
	if err != nil {
		return nil, framecount.NewStageError(framecount.KindDecoderOpen,
			fmt.Errorf("gstreamer: open decoder %s: %w", ce.decoder, err))
	}

	slog.Debug("gstreamer: decoder opened", "codec", ce.codec, "element", ce.decoder)

	return &decoder{codec: ce.codec, p: p}, nil
}

func (d *decoder) SendPacket(pkt framecount.Packet) error {
	p, ok := pkt.(*packet)
	if !ok {
		return fmt.Errorf("gstreamer: foreign packet %T", pkt)
	}
	if len(p.data) == 0 {
		return fmt.Errorf("gstreamer: empty packet")
	}
	if err := d.p.push(p.data); err != nil {
		return fmt.Errorf("gstreamer: send packet: %w", err)
	}
	return nil
}

func (d *decoder) ReceiveFrame(buf framecount.FrameBuffer) error {
	f, ok := buf.(*frame)
	if !ok {
		return fmt.Errorf("gstreamer: foreign frame buffer %T", buf)
	}

	// Frames already decoded win over errors and EOS
	select {
	case fr := <-d.p.out:
		f.raw = fr
		return nil
	default:
	}

	select {
	case err := <-d.p.errs:
		return fmt.Errorf("gstreamer: decode: %w", err)
	case <-d.p.eos:
		return io.EOF
	default:
		return framecount.ErrNeedInput
	}
}

func (d *decoder) NewFrameBuffer() (framecount.FrameBuffer, error) {
	return &frame{}, nil
}

func (d *decoder) NewConverter(dst framecount.PixelFormat) (framecount.Converter, error) {
	if dst != framecount.PixelFormatRGB24 {
		return nil, fmt.Errorf("gstreamer: unsupported pixel format %q", dst)
	}
	return newConverter()
}

func (d *decoder) Close() error {
	if err := d.p.close(); err != nil {
		return fmt.Errorf("gstreamer: close decoder: %w", err)
	}
	return nil
}

type frame struct {
	raw rawFrame
}

func (f *frame) Width() int          { return f.raw.width }
func (f *frame) Height() int         { return f.raw.height }
func (f *frame) PixelFormat() string { return f.raw.format }
func (f *frame) Close() error {
	f.raw = rawFrame{}
	return nil
}

// converter runs appsrc → videoconvert → capsfilter(RGB) → appsink.
// Input caps follow the frames, so a resolution change re-negotiates.
type converter struct {
	p    *appPipeline
	caps string
}

func newConverter() (*converter, error) {
	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: videoconvert not available: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGB"))

	p, err := newAppPipeline("converter", "", convert, capsfilter)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: %w", err)
	}
	return &converter{p: p}, nil
}

func (c *converter) Convert(buf framecount.FrameBuffer) (int, error) {
	f, ok := buf.(*frame)
	if !ok {
		return 0, fmt.Errorf("gstreamer: foreign frame buffer %T", buf)
	}
	if len(f.raw.data) == 0 || f.raw.caps == "" {
		return 0, fmt.Errorf("gstreamer: frame holds no image")
	}

	if f.raw.caps != c.caps {
		c.p.src.SetCaps(gst.NewCapsFromString(f.raw.caps))
		c.caps = f.raw.caps
	}
	if err := c.p.push(f.raw.data); err != nil {
		return 0, fmt.Errorf("gstreamer: convert: %w", err)
	}

	timer := time.NewTimer(convertTimeout)
	defer timer.Stop()

	select {
	case out := <-c.p.out:
		return len(out.data), nil
	case err := <-c.p.errs:
		return 0, fmt.Errorf("gstreamer: convert: %w", err)
	case <-timer.C:
		return 0, fmt.Errorf("gstreamer: convert: no output within %v", convertTimeout)
	}
}

func (c *converter) Close() error {
	if err := c.p.close(); err != nil {
		return fmt.Errorf("gstreamer: close converter: %w", err)
	}
	return nil
}
