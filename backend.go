package framecount

import (
	"context"
	"time"
)

// Transport is the RTSP lower transport requested when opening a stream
type Transport int

const (
	// TransportTCP interleaves RTP over the RTSP TCP connection (reliable delivery)
	TransportTCP Transport = iota
	// TransportUDP uses separate UDP ports (backend default behaviour, lossy)
	TransportUDP
)

// String returns the transport name as understood by the backends
func (t Transport) String() string {
	if t == TransportUDP {
		return "udp"
	}
	return "tcp"
}

// PixelFormat is a conversion target format
type PixelFormat string

const (
	// PixelFormatNone disables conversion
	PixelFormatNone PixelFormat = ""
	// PixelFormatRGB24 is packed 8-bit RGB (3 bytes per pixel)
	PixelFormatRGB24 PixelFormat = "rgb24"
)

// OpenOptions are the transport-level settings applied before connecting
type OpenOptions struct {
	// Transport is always TCP for counts; UDP exists for the backends' own tests
	Transport Transport
	// ConnectTimeout bounds open + probe (0 = library default)
	ConnectTimeout time.Duration
	// ReadTimeout bounds each packet read (0 = library default)
	ReadTimeout time.Duration
	// Debug enables verbose library logging
	Debug bool
}

// Backend is the multimedia library the counter delegates to
//
// Implementations must guarantee:
//   - Acquire() is safe for concurrent use and reference-counted
//   - the release func returned by Acquire() is idempotent
//   - Open() never leaves a half-open session behind on error
type Backend interface {
	// Name identifies the backend in logs and results (e.g., "ffmpeg", "gstreamer")
	Name() string

	// Acquire takes a reference on the library's process-wide state.
	//
	// The first reference initializes the library, the last release
	// tears it down.
	Acquire() (release func(), err error)

	// Open connects to the stream at address.
	//
	// Blocks until the connection is established, ctx is done or
	// opts.ConnectTimeout expires. ctx bounds this call only: the returned
	// Demuxer must keep working after ctx is done.
	Open(ctx context.Context, address string, opts OpenOptions) (Demuxer, error)
}

// Demuxer is an open stream session
type Demuxer interface {
	// Probe reads stream metadata and returns the tracks in container order
	Probe(ctx context.Context) ([]Track, error)

	// OpenDecoder resolves, configures and opens a decoder for track.
	//
	// Errors should be *StageError with KindDecoderNotFound, KindDecoderConfig
	// or KindDecoderOpen so callers can tell the three apart.
	OpenDecoder(track Track) (Decoder, error)

	// ReadPacket returns the next container packet.
	//
	// Returns io.EOF at end of input and ErrReadTimeout when the read
	// timeout expires. The caller must Release() every returned packet.
	ReadPacket(ctx context.Context) (Packet, error)

	// Close releases the session. Safe to call once; later calls are no-ops.
	Close() error
}

// Decoder is an open decoder context
type Decoder interface {
	// SendPacket submits a packet for decoding
	SendPacket(pkt Packet) error

	// ReceiveFrame fills buf with the next decoded frame.
	//
	// Returns ErrNeedInput when the decoder needs another packet and io.EOF
	// when the decoder has been fully flushed.
	ReceiveFrame(buf FrameBuffer) error

	// NewFrameBuffer allocates a reusable decoded-frame slot
	NewFrameBuffer() (FrameBuffer, error)

	// NewConverter prepares a pixel-format conversion context towards dst
	NewConverter(dst PixelFormat) (Converter, error)

	// Close releases the decoder context
	Close() error
}

// Packet is one compressed, container-framed chunk belonging to a single track
type Packet interface {
	// StreamIndex is the index of the track the packet belongs to
	StreamIndex() int
	// Size is the payload size in bytes
	Size() int
	// Release returns the packet to the backend (unref)
	Release()
}

// FrameBuffer is a reusable slot for one decoded frame
type FrameBuffer interface {
	Width() int
	Height() int
	// PixelFormat is the backend's name for the decoded pixel layout
	PixelFormat() string
	Close() error
}

// Converter remaps decoded frames to another pixel format
type Converter interface {
	// Convert converts the frame currently held by buf and returns the size of the converted image
	Convert(buf FrameBuffer) (int, error)
	Close() error
}
