package ffmpeg

import (
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"

	framecount "github.com/Bwavrita/Compare-frame-read"
)

// scaler converts decoded frames to a packed pixel format.
//
// The software scale context depends on the source geometry, which is only
// known once the first frame is decoded, so it is (re)built lazily.
type scaler struct {
	dstPix astiav.PixelFormat

	ssc    *astiav.SoftwareScaleContext
	dst    *astiav.Frame
	srcW   int
	srcH   int
	srcPix astiav.PixelFormat
	out    []byte
}

func newScaler(dstPix astiav.PixelFormat) *scaler {
	return &scaler{dstPix: dstPix}
}

func (s *scaler) release() {
	if s.dst != nil {
		s.dst.Free()
		s.dst = nil
	}
	if s.ssc != nil {
		s.ssc.Free()
		s.ssc = nil
	}
}

func (s *scaler) ensure(src *astiav.Frame) error {
	sw, sh, sp := src.Width(), src.Height(), src.PixelFormat()
	if s.ssc != nil && sw == s.srcW && sh == s.srcH && sp == s.srcPix {
		return nil
	}

	s.release()

	flags := astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBicubic)
	ssc, err := astiav.CreateSoftwareScaleContext(sw, sh, sp, sw, sh, s.dstPix, flags)
	if err != nil {
		return fmt.Errorf("ffmpeg: create scale context %dx%d %s -> %s: %w", sw, sh, sp, s.dstPix, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(sw)
	dst.SetHeight(sh)
	dst.SetPixelFormat(s.dstPix)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return fmt.Errorf("ffmpeg: allocate conversion buffer: %w", err)
	}

	s.ssc, s.dst = ssc, dst
	s.srcW, s.srcH, s.srcPix = sw, sh, sp

	slog.Debug("ffmpeg: scaler ready",
		"resolution", fmt.Sprintf("%dx%d", sw, sh),
		"from", sp.String(),
		"to", s.dstPix.String(),
	)
	return nil
}

// Convert implements framecount.Converter
func (s *scaler) Convert(buf framecount.FrameBuffer) (int, error) {
	f, ok := buf.(*frame)
	if !ok {
		return 0, fmt.Errorf("ffmpeg: foreign frame buffer %T", buf)
	}

	if err := s.ensure(f.f); err != nil {
		return 0, err
	}

	if err := s.ssc.ScaleFrame(f.f, s.dst); err != nil {
		return 0, fmt.Errorf("ffmpeg: scale frame: %w", err)
	}

	n, err := s.dst.ImageBufferSize(1)
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: image buffer size: %w", err)
	}
	if cap(s.out) < n {
		s.out = make([]byte, n)
	}
	s.out = s.out[:n]
	if _, err := s.dst.ImageCopyToBuffer(s.out, 1); err != nil {
		return 0, fmt.Errorf("ffmpeg: copy converted image: %w", err)
	}
	return n, nil
}

// Close implements framecount.Converter
func (s *scaler) Close() error {
	s.release()
	return nil
}
