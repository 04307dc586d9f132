// Package rtspcore is an embeddable RTSP 1.0 server, client and publisher
// for H264 and H265 elementary streams.
package rtspcore

import (
	"time"

	"github.com/bluenviron/rtspcore/pkg/h264"
	"github.com/bluenviron/rtspcore/pkg/h265"
)

// Codec is a video codec.
type Codec int

// codecs.
const (
	CodecH264 Codec = iota
	CodecH265
)

// String implements fmt.Stringer.
func (c Codec) String() string {
	if c == CodecH265 {
		return "H265"
	}
	return "H264"
}

// FrameType is the type of a video frame.
type FrameType int

// frame types.
const (
	// FrameTypeIDR is a key frame, from which a decoder can start.
	FrameTypeIDR FrameType = iota

	// FrameTypeP is a predicted frame.
	FrameTypeP

	// FrameTypeB is a bidirectionally predicted frame.
	// It is reserved; the engine does not produce it.
	FrameTypeB
)

// VideoFrame is a video frame in Annex-B form.
//
// Data is shared by every subscriber of a path: it is handed to all
// per-subscriber queues without copying, and it is released by the
// garbage collector when the last holder drops it. Callers must treat
// it as immutable after pushing.
type VideoFrame struct {
	// codec of the frame
	Codec Codec

	// type of the frame
	Type FrameType

	// frame payload, in Annex-B form
	Data []byte

	// presentation timestamp
	PTS time.Duration

	// decoding timestamp
	DTS time.Duration

	// video width, in pixels
	Width int

	// video height, in pixels
	Height int

	// frames per second
	FPS int
}

// AudioFrame is an audio frame.
// It is reserved for future use; the engine is video-only.
type AudioFrame struct {
	Data          []byte
	PTS           time.Duration
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// frameTypeOf classifies an Annex-B frame by scanning its NALUs.
func frameTypeOf(codec Codec, data []byte) FrameType {
	for _, nalu := range h264.AnnexBSplit(data) {
		if len(nalu) < 2 {
			continue
		}

		if codec == CodecH264 {
			if h264.TypeOf(nalu) == h264.NALUTypeIDR {
				return FrameTypeIDR
			}
		} else {
			if h265.TypeOf(nalu).IsIRAP() {
				return FrameTypeIDR
			}
		}
	}
	return FrameTypeP
}

// CreateVideoFrame allocates a VideoFrame, copying the given payload.
// The frame type is derived from the payload.
func CreateVideoFrame(codec Codec, data []byte, pts time.Duration,
	width int, height int, fps int,
) *VideoFrame {
	buf := make([]byte, len(data))
	copy(buf, data)

	return &VideoFrame{
		Codec:  codec,
		Type:   frameTypeOf(codec, buf),
		Data:   buf,
		PTS:    pts,
		DTS:    pts,
		Width:  width,
		Height: height,
		FPS:    fps,
	}
}
