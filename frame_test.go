package rtspcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrameTypeOf(t *testing.T) {
	for _, ca := range []struct {
		name  string
		codec Codec
		data  []byte
		typ   FrameType
	}{
		{
			"h264 idr",
			CodecH264,
			[]byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88},
			FrameTypeIDR,
		},
		{
			"h264 non idr",
			CodecH264,
			[]byte{0x00, 0x00, 0x00, 0x01, 0x41, 0x9A},
			FrameTypeP,
		},
		{
			"h264 idr after parameter sets",
			CodecH264,
			[]byte{
				0x00, 0x00, 0x00, 0x01, 0x67, 0x42,
				0x00, 0x00, 0x00, 0x01, 0x68, 0xCE,
				0x00, 0x00, 0x00, 0x01, 0x65, 0x88,
			},
			FrameTypeIDR,
		},
		{
			"h265 irap",
			CodecH265,
			[]byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0xAF},
			FrameTypeIDR,
		},
		{
			"h265 trail",
			CodecH265,
			[]byte{0x00, 0x00, 0x00, 0x01, 0x02, 0x01, 0xAF},
			FrameTypeP,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.typ, frameTypeOf(ca.codec, ca.data))
		})
	}
}

func TestCreateVideoFrame(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88}

	frame := CreateVideoFrame(CodecH264, data, 40*time.Millisecond, 1920, 1080, 30)
	require.Equal(t, FrameTypeIDR, frame.Type)
	require.Equal(t, data, frame.Data)
	require.Equal(t, 40*time.Millisecond, frame.PTS)

	// the payload is copied
	data[4] = 0x41
	require.Equal(t, byte(0x65), frame.Data[4])
}

func TestCodecString(t *testing.T) {
	require.Equal(t, "H264", CodecH264.String())
	require.Equal(t, "H265", CodecH265.String())
}
