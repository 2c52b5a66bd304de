// Package fakeav is a scripted, resource-tracking implementation of the
// framecount backend contract.
//
// A Script describes what the "camera" serves: the probed tracks, the packet
// sequence (with the number of frames each video packet decodes to) and the
// failures to inject at each stage. The Backend records every handle it hands
// out so tests can assert that all acquire/release pairs balance:
//
//	be := fakeav.New(fakeav.Script{
//	    Tracks:  fakeav.CameraTracks(),
//	    Packets: fakeav.VideoPackets(0, 10, 1),
//	})
//	n, err := framecount.CountFrames(ctx, be, "rtsp://cam/stream", 5)
//	// be.Outstanding() == 0, be.Submitted() == 5
package fakeav

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	framecount "github.com/Bwavrita/Compare-frame-read"
	"github.com/Bwavrita/Compare-frame-read/internal/libguard"
)

// Resource names used by the tracker
const (
	ResourceDemuxer   = "demuxer"
	ResourceDecoder   = "decoder"
	ResourceFrame     = "frame"
	ResourceConverter = "converter"
	ResourcePacket    = "packet"
	ResourceLibrary   = "library"
)

// Packet is one scripted container packet
type Packet struct {
	// Stream is the track index the packet belongs to
	Stream int
	// Size is the payload size in bytes
	Size int
	// Frames is how many frames the decoder yields after this packet is submitted
	Frames int
	// Reject makes the decoder refuse the packet
	Reject bool
	// Corrupt makes the decoder report a decode error when draining this packet
	Corrupt bool
}

// Script drives the fake backend
type Script struct {
	Tracks  []framecount.Track
	Packets []Packet

	// Width and Height of decoded frames (default 640x480)
	Width  int
	Height int

	// Injected failures, one per stage (nil = success)
	InitErr       error
	OpenErr       error
	ProbeErr      error
	DecoderErr    error
	FrameAllocErr error
	ConverterErr  error
	ConvertErr    error

	// ReadErr is returned once the packets are exhausted (nil = io.EOF)
	ReadErr error
	// ReadDelay is slept before every packet read
	ReadDelay time.Duration
	// BlockOpen makes Open wait until its context is done
	BlockOpen bool
}

// Backend is the fake framecount.Backend
type Backend struct {
	script Script
	guard  *libguard.Guard

	mu             sync.Mutex
	live           map[string]int
	allocated      map[string]int
	doubleReleases int
	submitted      []int
	lastOpts       framecount.OpenOptions
	lastAddress    string
}

// New creates a fake backend serving script
func New(script Script) *Backend {
	if script.Width == 0 {
		script.Width = 640
	}
	if script.Height == 0 {
		script.Height = 480
	}

	b := &Backend{
		script:    script,
		live:      make(map[string]int),
		allocated: make(map[string]int),
	}
	b.guard = libguard.New("fakeav",
		func() error {
			if script.InitErr != nil {
				return script.InitErr
			}
			b.acquire(ResourceLibrary)
			return nil
		},
		func() { b.release(ResourceLibrary) },
	)
	return b
}

// CameraTracks returns a typical IP camera layout: H.264 video then G.711 audio
func CameraTracks() []framecount.Track {
	return []framecount.Track{
		{Index: 0, Media: framecount.MediaVideo, Codec: "h264", Width: 1920, Height: 1080},
		{Index: 1, Media: framecount.MediaAudio, Codec: "pcm_mulaw"},
	}
}

// VideoPackets returns n packets on stream, each decoding to framesPer frames
func VideoPackets(stream, n, framesPer int) []Packet {
	packets := make([]Packet, n)
	for i := range packets {
		packets[i] = Packet{Stream: stream, Size: 1400, Frames: framesPer}
	}
	return packets
}

// Interleave merges a and b alternately, appending the remainder of the longer one
func Interleave(a, b []Packet) []Packet {
	out := make([]Packet, 0, len(a)+len(b))
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}

// Name implements framecount.Backend
func (b *Backend) Name() string { return "fake" }

// Acquire implements framecount.Backend
func (b *Backend) Acquire() (func(), error) {
	return b.guard.Acquire()
}

// Open implements framecount.Backend
func (b *Backend) Open(ctx context.Context, address string, opts framecount.OpenOptions) (framecount.Demuxer, error) {
	b.mu.Lock()
	b.lastOpts = opts
	b.lastAddress = address
	b.mu.Unlock()

	if b.script.BlockOpen {
		<-ctx.Done()
		return nil, fmt.Errorf("fakeav: connection attempt aborted: %w", ctx.Err())
	}
	if b.script.OpenErr != nil {
		return nil, b.script.OpenErr
	}

	b.acquire(ResourceDemuxer)
	return &demuxer{b: b}, nil
}

// Outstanding returns the number of handles (all kinds) not yet released
func (b *Backend) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, n := range b.live {
		total += n
	}
	return total
}

// Allocated returns how many handles of the given resource were ever created
func (b *Backend) Allocated(resource string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated[resource]
}

// DoubleReleases returns how many times an already released handle was released again
func (b *Backend) DoubleReleases() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.doubleReleases
}

// Submitted returns how many packets reached the decoder
func (b *Backend) Submitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.submitted)
}

// SubmittedStreams returns the stream index of every packet that reached the decoder
func (b *Backend) SubmittedStreams() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.submitted...)
}

// LastOpenOptions returns the options passed to the most recent Open
func (b *Backend) LastOpenOptions() framecount.OpenOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastOpts
}

// LastAddress returns the address passed to the most recent Open
func (b *Backend) LastAddress() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAddress
}

// LibraryRefs returns the outstanding library references
func (b *Backend) LibraryRefs() int {
	return b.guard.Refs()
}

func (b *Backend) acquire(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live[resource]++
	b.allocated[resource]++
}

func (b *Backend) release(resource string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.live[resource]--
}

// handle is a single-use release tracker
type handle struct {
	b        *Backend
	resource string
	released bool
}

func (b *Backend) newHandle(resource string) handle {
	b.acquire(resource)
	return handle{b: b, resource: resource}
}

func (h *handle) close() {
	if h.released {
		h.b.mu.Lock()
		h.b.doubleReleases++
		h.b.mu.Unlock()
		return
	}
	h.released = true
	h.b.release(h.resource)
}

type demuxer struct {
	b      *Backend
	next   int
	closed bool
}

func (d *demuxer) Probe(ctx context.Context) ([]framecount.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.b.script.ProbeErr != nil {
		return nil, d.b.script.ProbeErr
	}
	return append([]framecount.Track(nil), d.b.script.Tracks...), nil
}

func (d *demuxer) OpenDecoder(track framecount.Track) (framecount.Decoder, error) {
	if d.b.script.DecoderErr != nil {
		return nil, d.b.script.DecoderErr
	}
	return &decoder{
		b:      d.b,
		track:  track,
		handle: d.b.newHandle(ResourceDecoder),
	}, nil
}

func (d *demuxer) ReadPacket(ctx context.Context) (framecount.Packet, error) {
	if delay := d.b.script.ReadDelay; delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if d.next >= len(d.b.script.Packets) {
		if d.b.script.ReadErr != nil {
			return nil, d.b.script.ReadErr
		}
		return nil, io.EOF
	}

	p := &packet{scripted: d.b.script.Packets[d.next], handle: d.b.newHandle(ResourcePacket)}
	d.next++
	return p, nil
}

func (d *demuxer) Close() error {
	if d.closed {
		d.b.mu.Lock()
		d.b.doubleReleases++
		d.b.mu.Unlock()
		return nil
	}
	d.closed = true
	d.b.release(ResourceDemuxer)
	return nil
}

type packet struct {
	scripted Packet
	handle   handle
}

func (p *packet) StreamIndex() int { return p.scripted.Stream }
func (p *packet) Size() int        { return p.scripted.Size }
func (p *packet) Release()         { p.handle.close() }

type decoder struct {
	b       *Backend
	track   framecount.Track
	handle  handle
	pending int
	corrupt bool
}

func (d *decoder) SendPacket(pkt framecount.Packet) error {
	p, ok := pkt.(*packet)
	if !ok {
		return fmt.Errorf("fakeav: foreign packet %T", pkt)
	}

	d.b.mu.Lock()
	d.b.submitted = append(d.b.submitted, p.scripted.Stream)
	d.b.mu.Unlock()

	if p.scripted.Reject {
		return fmt.Errorf("fakeav: invalid data found when processing input")
	}
	d.pending += p.scripted.Frames
	d.corrupt = p.scripted.Corrupt
	return nil
}

func (d *decoder) ReceiveFrame(buf framecount.FrameBuffer) error {
	if d.corrupt {
		d.corrupt = false
		d.pending = 0
		return fmt.Errorf("fakeav: error while decoding MB")
	}
	if d.pending == 0 {
		return framecount.ErrNeedInput
	}
	d.pending--

	if f, ok := buf.(*frame); ok {
		f.width, f.height = d.b.script.Width, d.b.script.Height
	}
	return nil
}

func (d *decoder) NewFrameBuffer() (framecount.FrameBuffer, error) {
	if d.b.script.FrameAllocErr != nil {
		return nil, d.b.script.FrameAllocErr
	}
	return &frame{handle: d.b.newHandle(ResourceFrame)}, nil
}

func (d *decoder) NewConverter(dst framecount.PixelFormat) (framecount.Converter, error) {
	if d.b.script.ConverterErr != nil {
		return nil, d.b.script.ConverterErr
	}
	if dst != framecount.PixelFormatRGB24 {
		return nil, fmt.Errorf("fakeav: unsupported pixel format %q", dst)
	}
	return &converter{b: d.b, handle: d.b.newHandle(ResourceConverter)}, nil
}

func (d *decoder) Close() error {
	d.handle.close()
	return nil
}

type frame struct {
	handle        handle
	width, height int
}

func (f *frame) Width() int          { return f.width }
func (f *frame) Height() int         { return f.height }
func (f *frame) PixelFormat() string { return "yuv420p" }
func (f *frame) Close() error {
	f.handle.close()
	return nil
}

type converter struct {
	b      *Backend
	handle handle
}

func (c *converter) Convert(buf framecount.FrameBuffer) (int, error) {
	if c.b.script.ConvertErr != nil {
		return 0, c.b.script.ConvertErr
	}
	return buf.Width() * buf.Height() * 3, nil
}

func (c *converter) Close() error {
	c.handle.close()
	return nil
}
