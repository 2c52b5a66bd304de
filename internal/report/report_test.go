package report

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	framecount "github.com/Bwavrita/Compare-frame-read"
)

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func sampleResult() *framecount.Result {
	return &framecount.Result{
		RunID:          "5f0c8a9e-1b2c-4d3e-8f4a-0b1c2d3e4f5a",
		Address:        "rtsp://redacted@10.0.0.5/stream1",
		Backend:        "ffmpeg",
		Target:         50,
		FramesDecoded:  12,
		PacketsRead:    30,
		PacketsSkipped: 18,
		BytesRead:      16800,
		Track:          framecount.Track{Index: 0, Media: framecount.MediaVideo, Codec: "h264", Width: 1920, Height: 1080},
		Stop:           framecount.StopReadTimeout,
		ReadErr:        framecount.ErrReadTimeout,
		Elapsed:        1500 * time.Millisecond,
		Rate:           framecount.RateStats{FPSMean: 8, FPSStdDev: 0.5, IsStable: true},
	}
}

func TestNewSummary_Partial(t *testing.T) {
	s := NewSummary(sampleResult(), nil, testNow)

	assert.Equal(t, "partial", s.Outcome)
	assert.Equal(t, "read-timeout", s.Stop)
	assert.Equal(t, 12, s.FramesDecoded)
	assert.Equal(t, 1920, s.Track.Width)
	assert.Equal(t, 1.5, s.ElapsedSeconds)
	assert.Equal(t, framecount.ErrReadTimeout.Error(), s.ReadError)
	assert.Empty(t, s.Error)
	assert.Equal(t, testNow, s.Timestamp)
}

func TestNewSummary_Failure(t *testing.T) {
	err := framecount.NewStageError(framecount.KindNoVideoTrack, errors.New("only audio tracks"))
	res := &framecount.Result{RunID: "r1", Backend: "ffmpeg", Target: 10}

	s := NewSummary(res, err, testNow)
	assert.Equal(t, "failure", s.Outcome)
	assert.Equal(t, framecount.KindNoVideoTrack.String(), s.ErrorKind)
	assert.NotEmpty(t, s.ErrorCategory)
	assert.Contains(t, s.Error, "only audio tracks")

	s = NewSummary(nil, err, testNow)
	assert.Equal(t, "failure", s.Outcome)
	assert.Empty(t, s.RunID)
}

func TestEncode_JSON(t *testing.T) {
	data, err := Encode(NewSummary(sampleResult(), nil, testNow), FormatJSON)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Equal(t, "partial", m["outcome"])
	assert.Equal(t, float64(12), m["frames_decoded"])
	assert.Equal(t, "h264", m["track"].(map[string]any)["codec"])
	assert.NotContains(t, m, "error", "omitted when the count succeeded")
	assert.NotContains(t, string(data), "secret")
}

func TestEncode_Msgpack(t *testing.T) {
	want := NewSummary(sampleResult(), nil, testNow)

	data, err := Encode(want, FormatMsgpack)
	require.NoError(t, err)

	var got Summary
	require.NoError(t, msgpack.Unmarshal(data, &got))
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.FramesDecoded, got.FramesDecoded)
	assert.Equal(t, want.Track, got.Track)
	assert.True(t, want.Timestamp.Equal(got.Timestamp))
}

func TestEncode_UnknownFormat(t *testing.T) {
	_, err := Encode(Summary{}, "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":        "tcp://localhost:1883",
		"tcp://broker:1883":     "tcp://broker:1883",
		"ssl://broker:8883":     "ssl://broker:8883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, brokerURL(in))
		})
	}
}

func TestNewPublisher_Defaults(t *testing.T) {
	p := NewPublisher(Config{Broker: "localhost:1883", Topic: "framecount/runs"})

	assert.True(t, strings.HasPrefix(p.cfg.ClientID, "framecount-"))
	assert.Equal(t, 5*time.Second, p.cfg.Timeout)
	assert.Equal(t, FormatJSON, p.cfg.Format)

	other := NewPublisher(Config{Broker: "localhost:1883"})
	assert.NotEqual(t, p.cfg.ClientID, other.cfg.ClientID, "client IDs are unique per process")
}

func TestPublish_NotConnected(t *testing.T) {
	p := NewPublisher(Config{Broker: "localhost:1883", Topic: "framecount/runs"})

	err := p.Publish(Summary{})
	require.Error(t, err)
	assert.Equal(t, uint64(1), p.Stats().Errors)
	assert.False(t, p.Stats().Connected)
}

func TestConnect_Unreachable(t *testing.T) {
	p := NewPublisher(Config{
		Broker:  "tcp://127.0.0.1:1",
		Topic:   "framecount/runs",
		Timeout: 2 * time.Second,
	})

	err := p.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, p.Stats().Connected)
	p.Disconnect()
}

func TestConnect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 192.0.2.0/24 (TEST-NET-1) is never routed
	p := NewPublisher(Config{Broker: "tcp://192.0.2.1:1883", Timeout: 10 * time.Second})
	err := p.Connect(ctx)
	require.Error(t, err)
}
