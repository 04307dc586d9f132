package rtspcore

import (
	"bytes"
	"sync"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	mch265 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/bluenviron/rtspcore/pkg/h264"
	"github.com/bluenviron/rtspcore/pkg/h265"
	"github.com/bluenviron/rtspcore/pkg/rtph264"
	"github.com/bluenviron/rtspcore/pkg/rtph265"
	"github.com/bluenviron/rtspcore/pkg/sdp"
)

// PathConfig is the configuration of a path.
type PathConfig struct {
	// path name. It must begin with a slash.
	Name string

	// codec of the stream.
	Codec Codec

	// video width, in pixels (optional, auto-extracted from keyframes).
	Width int

	// video height, in pixels (optional, auto-extracted from keyframes).
	Height int

	// frames per second (optional, auto-extracted from keyframes).
	FPS int

	// parameter sets (optional, auto-extracted from keyframes).
	VPS []byte
	SPS []byte
	PPS []byte
}

// serverStream is a registered path together with its subscribers.
type serverStream struct {
	s    *Server
	conf PathConfig

	mutex       sync.Mutex
	subscribers map[*serverSession]struct{}

	// last pushed keyframe, used to bootstrap new subscribers so
	// that they can decode the first payload they receive.
	bootstrap *VideoFrame
}

func (st *serverStream) initialize() {
	st.subscribers = make(map[*serverSession]struct{})
}

func (st *serverStream) close() {
	st.mutex.Lock()
	subscribers := make([]*serverSession, 0, len(st.subscribers))
	for ss := range st.subscribers {
		subscribers = append(subscribers, ss)
	}
	st.subscribers = make(map[*serverSession]struct{})
	st.mutex.Unlock()

	for _, ss := range subscribers {
		ss.close()
	}
}

func (st *serverStream) payloadType() uint8 {
	if st.conf.Codec == CodecH265 {
		return rtph265.DefaultPayloadType
	}
	return rtph264.DefaultPayloadType
}

func (st *serverStream) addSubscriber(ss *serverSession) {
	st.mutex.Lock()
	st.subscribers[ss] = struct{}{}
	bootstrap := st.bootstrap
	st.mutex.Unlock()

	if bootstrap != nil && bootstrap.Type == FrameTypeIDR {
		ss.writeFrame(bootstrap)
	}
}

func (st *serverStream) removeSubscriber(ss *serverSession) {
	st.mutex.Lock()
	delete(st.subscribers, ss)
	st.mutex.Unlock()
}

// writeFrame broadcasts a frame to every subscriber.
// The broadcast is non-blocking: each subscriber owns a bounded queue
// with drop-oldest semantics.
func (st *serverStream) writeFrame(frame *VideoFrame) {
	if frame.Type == FrameTypeIDR || st.parameterSetsMissing() {
		st.updateParameterSets(frame.Data)
	}

	st.mutex.Lock()
	if frame.Type == FrameTypeIDR {
		st.bootstrap = frame
	}
	subscribers := make([]*serverSession, 0, len(st.subscribers))
	for ss := range st.subscribers {
		subscribers = append(subscribers, ss)
	}
	st.mutex.Unlock()

	for _, ss := range subscribers {
		ss.writeFrame(frame)
	}
}

func (st *serverStream) parameterSetsMissing() bool {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.conf.Codec == CodecH265 {
		return st.conf.VPS == nil || st.conf.SPS == nil || st.conf.PPS == nil
	}
	return st.conf.SPS == nil || st.conf.PPS == nil
}

// updateParameterSets extracts VPS / SPS / PPS from a pushed payload.
// Updates are byte-compared to avoid needless SDP regeneration.
func (st *serverStream) updateParameterSets(data []byte) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	for _, nalu := range h264.AnnexBSplit(data) {
		if len(nalu) < 2 {
			continue
		}

		if st.conf.Codec == CodecH264 {
			switch h264.TypeOf(nalu) {
			case h264.NALUTypeSPS:
				if !bytes.Equal(st.conf.SPS, nalu) {
					st.conf.SPS = append([]byte(nil), nalu...)
					st.fillDimensionsFromSPS()
				}

			case h264.NALUTypePPS:
				if !bytes.Equal(st.conf.PPS, nalu) {
					st.conf.PPS = append([]byte(nil), nalu...)
				}
			}
		} else {
			switch h265.TypeOf(nalu) {
			case h265.NALUTypeVPS:
				if !bytes.Equal(st.conf.VPS, nalu) {
					st.conf.VPS = append([]byte(nil), nalu...)
				}

			case h265.NALUTypeSPS:
				if !bytes.Equal(st.conf.SPS, nalu) {
					st.conf.SPS = append([]byte(nil), nalu...)
					st.fillDimensionsFromSPS()
				}

			case h265.NALUTypePPS:
				if !bytes.Equal(st.conf.PPS, nalu) {
					st.conf.PPS = append([]byte(nil), nalu...)
				}
			}
		}
	}
}

// fillDimensionsFromSPS fills width / height / FPS from the SPS when
// they were not provided at path creation.
// It must be called with the mutex held.
func (st *serverStream) fillDimensionsFromSPS() {
	if st.conf.Width != 0 && st.conf.FPS != 0 {
		return
	}

	if st.conf.Codec == CodecH264 {
		var sps mch264.SPS
		err := sps.Unmarshal(st.conf.SPS)
		if err != nil {
			return
		}

		if st.conf.Width == 0 {
			st.conf.Width = sps.Width()
			st.conf.Height = sps.Height()
		}
		if st.conf.FPS == 0 {
			st.conf.FPS = int(sps.FPS())
		}
	} else {
		var sps mch265.SPS
		err := sps.Unmarshal(st.conf.SPS)
		if err != nil {
			return
		}

		if st.conf.Width == 0 {
			st.conf.Width = sps.Width()
			st.conf.Height = sps.Height()
		}
		if st.conf.FPS == 0 {
			st.conf.FPS = int(sps.FPS())
		}
	}
}

// sdpBytes generates the SDP document of the path.
func (st *serverStream) sdpBytes() ([]byte, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	return sdp.Marshal(st.conf.Name, &sdp.Media{
		CodecName:   st.conf.Codec.String(),
		PayloadType: st.payloadType(),
		ClockRate:   90000,
		Width:       st.conf.Width,
		Height:      st.conf.Height,
		FPS:         st.conf.FPS,
		VPS:         st.conf.VPS,
		SPS:         st.conf.SPS,
		PPS:         st.conf.PPS,
		Control:     "stream",
	})
}
