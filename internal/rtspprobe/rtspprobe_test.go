package rtspprobe

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// baseline profile, 640x480, no VUI
var testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xda, 0x02, 0x80, 0xf6, 0x40}

func cameraSession() *description.Session {
	return &description.Session{
		Medias: []*description.Media{
			{
				Type: description.MediaTypeAudio,
				Formats: []format.Format{&format.G711{
					PayloadTyp:   0,
					MULaw:        true,
					SampleRate:   8000,
					ChannelCount: 1,
				}},
			},
			{
				Type: description.MediaTypeVideo,
				Formats: []format.Format{&format.H264{
					PayloadTyp:        96,
					SPS:               testSPS,
					PPS:               []byte{0x68, 0xce, 0x3c, 0x80},
					PacketizationMode: 1,
				}},
			},
			{
				Type:    description.MediaTypeVideo,
				Formats: []format.Format{&format.MJPEG{}},
			},
		},
	}
}

func TestSummarize(t *testing.T) {
	tracks := Summarize(cameraSession())
	require.Len(t, tracks, 3)

	assert.Equal(t, "audio", tracks[0].Media)
	assert.Equal(t, "g711", tracks[0].Codec)
	assert.False(t, tracks[0].Selected)

	video := tracks[1]
	assert.Equal(t, 1, video.Index)
	assert.Equal(t, "video", video.Media)
	assert.Equal(t, "h264", video.Codec)
	assert.Equal(t, uint8(96), video.PayloadType)
	assert.Equal(t, 90000, video.ClockRate)
	assert.Equal(t, 640, video.Width)
	assert.Equal(t, 480, video.Height)
	assert.True(t, video.Selected, "first video media is the one counted")

	assert.Equal(t, "mjpeg", tracks[2].Codec)
	assert.False(t, tracks[2].Selected, "only the first video track is selected")
}

func TestSummarize_NoVideo(t *testing.T) {
	desc := &description.Session{
		Medias: []*description.Media{{
			Type:    description.MediaTypeAudio,
			Formats: []format.Format{&format.G711{PayloadTyp: 8, SampleRate: 8000, ChannelCount: 1}},
		}},
	}

	for _, tr := range Summarize(desc) {
		assert.False(t, tr.Selected)
	}
}

func TestSummarize_Nil(t *testing.T) {
	assert.Nil(t, Summarize(nil))
}

func TestSummarize_BadSPSKeepsTrack(t *testing.T) {
	desc := &description.Session{
		Medias: []*description.Media{{
			Type: description.MediaTypeVideo,
			Formats: []format.Format{&format.H264{
				PayloadTyp:        96,
				SPS:               []byte{0x67, 0x00},
				PacketizationMode: 1,
			}},
		}},
	}

	tracks := Summarize(desc)
	require.Len(t, tracks, 1)
	assert.True(t, tracks[0].Selected)
	assert.Equal(t, "-", tracks[0].Resolution())
}

func TestCodecName(t *testing.T) {
	tests := map[string]string{
		"H264":  "h264",
		"H265":  "hevc",
		"MJPEG": "mjpeg",
		"G711":  "g711",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, codecName(in))
		})
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Summarize(cameraSession())))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "INDEX"))
	assert.Contains(t, lines[2], "640x480")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[2]), "*"))
	assert.Contains(t, lines[3], "mjpeg")
}

func TestDescribe_InvalidAddress(t *testing.T) {
	_, err := Describe(context.Background(), "://nope", time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestDescribe_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := Describe(ctx, "rtsp://127.0.0.1:9/stream", time.Second)
	require.Error(t, err)
}
