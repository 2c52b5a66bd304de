// Package report publishes the summary of a count to an MQTT broker.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	framecount "github.com/Bwavrita/Compare-frame-read"
)

// Payload formats
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Summary is the wire form of a count result
type Summary struct {
	RunID     string    `json:"run_id" msgpack:"run_id"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
	Address   string    `json:"address" msgpack:"address"` // credentials redacted
	Backend   string    `json:"backend" msgpack:"backend"`
	Outcome   string    `json:"outcome" msgpack:"outcome"`
	Stop      string    `json:"stop" msgpack:"stop"`

	Target          int    `json:"target" msgpack:"target"`
	FramesDecoded   int    `json:"frames_decoded" msgpack:"frames_decoded"`
	FramesOverflow  int    `json:"frames_overflow" msgpack:"frames_overflow"`
	PacketsRead     uint64 `json:"packets_read" msgpack:"packets_read"`
	PacketsSkipped  uint64 `json:"packets_skipped" msgpack:"packets_skipped"`
	PacketsRejected uint64 `json:"packets_rejected" msgpack:"packets_rejected"`
	BytesRead       uint64 `json:"bytes_read" msgpack:"bytes_read"`
	BytesConverted  uint64 `json:"bytes_converted" msgpack:"bytes_converted"`

	Track TrackSummary `json:"track" msgpack:"track"`

	ElapsedSeconds float64 `json:"elapsed_seconds" msgpack:"elapsed_seconds"`
	FPSMean        float64 `json:"fps_mean" msgpack:"fps_mean"`
	FPSStdDev      float64 `json:"fps_stddev" msgpack:"fps_stddev"`
	Stable         bool    `json:"stable" msgpack:"stable"`

	ErrorKind     string `json:"error_kind,omitempty" msgpack:"error_kind,omitempty"`
	ErrorCategory string `json:"error_category,omitempty" msgpack:"error_category,omitempty"`
	Error         string `json:"error,omitempty" msgpack:"error,omitempty"`
	ReadError     string `json:"read_error,omitempty" msgpack:"read_error,omitempty"`
}

// TrackSummary describes the selected video track
type TrackSummary struct {
	Index  int    `json:"index" msgpack:"index"`
	Codec  string `json:"codec" msgpack:"codec"`
	Width  int    `json:"width" msgpack:"width"`
	Height int    `json:"height" msgpack:"height"`
}

// NewSummary builds the summary of a count. res may be nil when the count
// failed before producing a result.
func NewSummary(res *framecount.Result, err error, now time.Time) Summary {
	s := Summary{
		Timestamp: now.UTC(),
		Outcome:   framecount.OutcomeOf(res, err).String(),
	}

	if err != nil {
		s.ErrorKind = framecount.KindOf(err).String()
		s.ErrorCategory = framecount.Classify(err).String()
		s.Error = err.Error()
	}

	if res == nil {
		return s
	}

	s.RunID = res.RunID
	s.Address = res.Address
	s.Backend = res.Backend
	s.Stop = res.Stop.String()
	s.Target = res.Target
	s.FramesDecoded = res.FramesDecoded
	s.FramesOverflow = res.FramesOverflow
	s.PacketsRead = res.PacketsRead
	s.PacketsSkipped = res.PacketsSkipped
	s.PacketsRejected = res.PacketsRejected
	s.BytesRead = res.BytesRead
	s.BytesConverted = res.BytesConverted
	s.Track = TrackSummary{
		Index:  res.Track.Index,
		Codec:  res.Track.Codec,
		Width:  res.Track.Width,
		Height: res.Track.Height,
	}
	s.ElapsedSeconds = res.Elapsed.Seconds()
	s.FPSMean = res.Rate.FPSMean
	s.FPSStdDev = res.Rate.FPSStdDev
	s.Stable = res.Rate.IsStable
	if res.ReadErr != nil {
		s.ReadError = res.ReadErr.Error()
	}
	return s
}

// Encode serializes s in the given format
func Encode(s Summary, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("report: failed to marshal json: %w", err)
		}
		return data, nil
	case FormatMsgpack:
		data, err := msgpack.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("report: failed to marshal msgpack: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
}
