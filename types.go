package framecount

import (
	"fmt"
	"time"
)

// MediaType is the kind of elementary stream carried by a track
type MediaType int

const (
	// MediaUnknown is any track the backend could not classify
	MediaUnknown MediaType = iota
	// MediaVideo is a video track
	MediaVideo
	// MediaAudio is an audio track
	MediaAudio
	// MediaData is a data/metadata track (ONVIF events, KLV, ...)
	MediaData
)

// String returns a human-readable string representation of the media type
func (m MediaType) String() string {
	switch m {
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaData:
		return "data"
	default:
		return "unknown"
	}
}

// Track describes one elementary stream inside the container
type Track struct {
	// Index is the position of the track in container order
	Index int
	// Media is the track media type
	Media MediaType
	// Codec is the encoding name reported by the backend (e.g., "h264", "hevc", "pcm_mulaw")
	Codec string
	// Width in pixels (video only, 0 if unknown before decoding)
	Width int
	// Height in pixels (video only, 0 if unknown before decoding)
	Height int
}

// Resolution returns "WxH" or "unknown" when the probe did not report dimensions
func (t Track) Resolution() string {
	if t.Width == 0 || t.Height == 0 {
		return "unknown"
	}
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// StopReason tells why the decode loop exited
type StopReason int

const (
	// StopNotStarted means the loop never ran (setup failed or target <= 0)
	StopNotStarted StopReason = iota
	// StopTargetReached means the frame counter reached the requested target
	StopTargetReached
	// StopEndOfStream means the demuxer reported end of input
	StopEndOfStream
	// StopReadError means a packet read failed (transport error)
	StopReadError
	// StopReadTimeout means no packet arrived within the configured read timeout
	StopReadTimeout
	// StopCancelled means the caller's context was cancelled
	StopCancelled
)

// String returns a human-readable string representation of the stop reason
func (s StopReason) String() string {
	switch s {
	case StopNotStarted:
		return "not-started"
	case StopTargetReached:
		return "target-reached"
	case StopEndOfStream:
		return "end-of-stream"
	case StopReadError:
		return "read-error"
	case StopReadTimeout:
		return "read-timeout"
	case StopCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RateStats contains decode-rate statistics over the counted frames
type RateStats struct {
	// FPSMean is frames counted divided by loop duration
	FPSMean float64
	// FPSStdDev is the standard deviation of instantaneous FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// JitterMean is the mean deviation from the expected inter-frame interval (seconds)
	JitterMean float64
	// JitterMax is the maximum deviation observed (seconds)
	JitterMax float64
	// IsStable is true if stddev < 15% of mean AND jitter < 20% of expected interval
	IsStable bool
}

// Result contains the outcome of a single count
type Result struct {
	// RunID uniquely identifies this count in logs and reports
	RunID string
	// Address is the stream address with credentials redacted
	Address string
	// Backend is the name of the decoding backend used
	Backend string
	// Target is the requested frame count, as given by the caller
	Target int
	// FramesDecoded is the number of frames counted (never exceeds Target)
	FramesDecoded int
	// FramesOverflow is the number of frames drained past the target and not counted
	FramesOverflow int
	// PacketsRead is the total number of packets read from the container
	PacketsRead uint64
	// PacketsSkipped is the number of packets discarded because they belong to another track
	PacketsSkipped uint64
	// PacketsRejected is the number of video packets the decoder refused
	PacketsRejected uint64
	// BytesRead is the total payload size of the video packets read
	BytesRead uint64
	// BytesConverted is the total size of converted pixel data (0 when conversion is off)
	BytesConverted uint64
	// Track is the selected video track
	Track Track
	// Stop tells why the decode loop exited
	Stop StopReason
	// ReadErr is the packet read error that ended the loop, if any
	ReadErr error
	// Elapsed spans from transport setup to loop exit (teardown excluded)
	Elapsed time.Duration
	// Rate contains decode-rate statistics (zero when fewer than 2 frames were counted)
	Rate RateStats
}

// Complete reports whether the requested number of frames was decoded
func (r *Result) Complete() bool {
	return r.Target <= 0 || r.FramesDecoded >= r.Target
}

// Outcome summarizes a count for exit codes, metrics and reports
type Outcome int

const (
	// OutcomeSuccess means the target was reached (or was not positive)
	OutcomeSuccess Outcome = iota
	// OutcomePartial means input ended after at least one frame but before the target
	OutcomePartial
	// OutcomeFailure means a stage failed or no frame was decoded for a positive target
	OutcomeFailure
)

// String returns a human-readable string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartial:
		return "partial"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// OutcomeOf classifies the return values of Counter.Count
func OutcomeOf(res *Result, err error) Outcome {
	switch {
	case err != nil || res == nil:
		return OutcomeFailure
	case res.Complete():
		return OutcomeSuccess
	case res.FramesDecoded == 0:
		return OutcomeFailure
	default:
		return OutcomePartial
	}
}
