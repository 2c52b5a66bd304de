package framecount

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the stage at which a count failed
type Kind int

const (
	// KindUnknown is an error that did not come from a known stage
	KindUnknown Kind = iota
	// KindLibraryInit means the decoding library could not be initialized
	KindLibraryInit
	// KindConnect means the stream could not be opened (unreachable, auth rejected, transport error)
	KindConnect
	// KindProbe means stream metadata probing failed (malformed or unsupported container)
	KindProbe
	// KindNoVideoTrack means the container has no video track
	KindNoVideoTrack
	// KindDecoderNotFound means no decoder is available for the track's encoding
	KindDecoderNotFound
	// KindDecoderConfig means the decoder could not be configured from the track parameters
	KindDecoderConfig
	// KindDecoderOpen means the decoder could not be opened
	KindDecoderOpen
	// KindFrameAlloc means the decoded-frame buffer could not be allocated
	KindFrameAlloc
	// KindConversion means the pixel-format conversion context could not be built or applied
	KindConversion
	// KindCancelled means the caller cancelled the count
	KindCancelled
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindLibraryInit:     "library-init",
	KindConnect:         "connect",
	KindProbe:           "probe",
	KindNoVideoTrack:    "no-video-track",
	KindDecoderNotFound: "decoder-not-found",
	KindDecoderConfig:   "decoder-config",
	KindDecoderOpen:     "decoder-open",
	KindFrameAlloc:      "frame-alloc",
	KindConversion:      "conversion",
	KindCancelled:       "cancelled",
}

// String returns a human-readable string representation of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Sentinel errors, one per Kind. A *StageError matches its kind's sentinel with errors.Is.
var (
	ErrLibraryInit     = errors.New("library initialization failed")
	ErrConnect         = errors.New("connection failed")
	ErrProbe           = errors.New("stream probe failed")
	ErrNoVideoTrack    = errors.New("no video track")
	ErrDecoderNotFound = errors.New("decoder not found")
	ErrDecoderConfig   = errors.New("decoder configuration failed")
	ErrDecoderOpen     = errors.New("decoder open failed")
	ErrFrameAlloc      = errors.New("frame allocation failed")
	ErrConversion      = errors.New("pixel conversion failed")
	ErrCancelled       = errors.New("count cancelled")
)

var kindSentinels = map[Kind]error{
	KindLibraryInit:     ErrLibraryInit,
	KindConnect:         ErrConnect,
	KindProbe:           ErrProbe,
	KindNoVideoTrack:    ErrNoVideoTrack,
	KindDecoderNotFound: ErrDecoderNotFound,
	KindDecoderConfig:   ErrDecoderConfig,
	KindDecoderOpen:     ErrDecoderOpen,
	KindFrameAlloc:      ErrFrameAlloc,
	KindConversion:      ErrConversion,
	KindCancelled:       ErrCancelled,
}

// ErrNeedInput is returned by Decoder.ReceiveFrame when the decoder needs another packet
var ErrNeedInput = errors.New("decoder needs more input")

// ErrReadTimeout is returned by Demuxer.ReadPacket when no packet arrived within the read timeout
var ErrReadTimeout = errors.New("packet read timed out")

// Category is a coarse classification of the underlying library error for telemetry
type Category int

const (
	// CategoryUnknown indicates unclassified errors
	CategoryUnknown Category = iota
	// CategoryNetwork indicates network-related failures (connection, timeout, DNS)
	CategoryNetwork
	// CategoryCodec indicates codec/stream failures (decode errors, format issues)
	CategoryCodec
	// CategoryAuth indicates authentication/authorization failures
	CategoryAuth
)

// String returns a human-readable string representation of the category
func (c Category) String() string {
	switch c {
	case CategoryNetwork:
		return "network"
	case CategoryCodec:
		return "codec"
	case CategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// StageError is the error returned by a failed count
type StageError struct {
	Kind     Kind
	Category Category
	Err      error
}

// NewStageError wraps err as a failure of the given kind and classifies it
func NewStageError(kind Kind, err error) *StageError {
	if err == nil {
		err = kindSentinels[kind]
	}
	return &StageError{
		Kind:     kind,
		Category: Classify(err),
		Err:      err,
	}
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("framecount: %s", e.Kind)
	}
	return fmt.Sprintf("framecount: %s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the stage kind
func (e *StageError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && target == sentinel
}

// KindOf returns the stage kind of err, or KindUnknown if err is not a *StageError
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// Retryable reports whether err is a transient connection failure worth retrying
//
// Only connect failures in the network category qualify. Auth failures, codec
// problems and missing tracks will not change on a second attempt.
func Retryable(err error) bool {
	var se *StageError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == KindConnect && se.Category == CategoryNetwork
}

// Classify analyzes a library error and categorizes it for telemetry
//
// Classification is based on error message heuristics. Neither FFmpeg nor
// GStreamer errors expose a stable domain through the Go bindings, so we rely
// on string matching.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	msg := strings.ToLower(err.Error())

	// Priority 1: authentication errors (most specific)
	if containsAny(msg, authKeywords) {
		return CategoryAuth
	}

	// Priority 2: codec/format errors
	if containsAny(msg, codecKeywords) {
		return CategoryCodec
	}

	// Priority 3: network errors (most common)
	if containsAny(msg, networkKeywords) {
		return CategoryNetwork
	}

	return CategoryUnknown
}

var authKeywords = []string{
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"authentication",
	"authorization failed",
	"credentials",
	"password",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"decoder",
	"invalid data",
	"negotiation",
	"not negotiated",
	"caps",
	"h264",
	"h265",
	"hevc",
	"mjpeg",
	"missing plugin",
}

var networkKeywords = []string{
	"connection",
	"timed out",
	"timeout",
	"deadline exceeded",
	"unreachable",
	"network",
	"no route",
	"dns",
	"resolve",
	"socket",
	"broken pipe",
	"tcp",
	"udp",
	"rtsp",
	"i/o error",
	"input/output error",
	"could not connect",
	"failed to connect",
	"not found",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
