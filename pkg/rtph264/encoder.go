package rtph264

import (
	"fmt"
	"time"

	"github.com/pion/rtp"

	"github.com/bluenviron/rtspcore/pkg/h264"
)

const (
	rtpVersion = 2
)

func timestampFromPTS(pts time.Duration, clockRate int) uint32 {
	return uint32(uint64(pts.Milliseconds()) * uint64(clockRate) / 1000)
}

// Encoder is a RTP/H264 encoder.
// Specification: RFC 6184
type Encoder struct {
	// payload type of packets.
	PayloadType uint8

	// SSRC of packets.
	SSRC uint32

	// initial sequence number of packets (optional).
	// It defaults to 0.
	InitialSequenceNumber *uint16

	// maximum size of packet payloads (optional).
	// It defaults to 1400.
	PayloadMaxSize int

	sequenceNumber uint16
}

// Init initializes the encoder.
func (e *Encoder) Init() error {
	if e.PayloadType == 0 {
		e.PayloadType = DefaultPayloadType
	}
	if e.PayloadMaxSize == 0 {
		e.PayloadMaxSize = defaultPayloadMaxSize
	}
	if e.InitialSequenceNumber != nil {
		e.sequenceNumber = *e.InitialSequenceNumber
	}
	return nil
}

// Encode encodes an Annex-B frame into RTP packets.
// All packets share a single timestamp, computed from pts; the last
// packet of the frame has the marker flag set.
func (e *Encoder) Encode(frame []byte, pts time.Duration) ([]*rtp.Packet, error) {
	nalus := h264.AnnexBSplit(frame)
	if nalus == nil {
		return nil, fmt.Errorf("frame doesn't contain any NALU")
	}

	ts := timestampFromPTS(pts, ClockRate)

	var rets []*rtp.Packet

	for _, nalu := range nalus {
		if len(nalu) <= e.PayloadMaxSize {
			rets = append(rets, e.writeSingle(nalu, ts))
		} else {
			pkts, err := e.writeFragmented(nalu, ts)
			if err != nil {
				return nil, err
			}
			rets = append(rets, pkts...)
		}
	}

	rets[len(rets)-1].Marker = true

	return rets, nil
}

func (e *Encoder) writeSingle(nalu []byte, ts uint32) *rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        rtpVersion,
			PayloadType:    e.PayloadType,
			SequenceNumber: e.sequenceNumber,
			Timestamp:      ts,
			SSRC:           e.SSRC,
		},
		Payload: nalu,
	}
	e.sequenceNumber++
	return pkt
}

func (e *Encoder) writeFragmented(nalu []byte, ts uint32) ([]*rtp.Packet, error) {
	// use FU-A, not FU-B, since we always use non-interleaved mode
	// (packetization-mode=1)
	fragMaxSize := e.PayloadMaxSize - 2

	nri := (nalu[0] >> 5) & 0x03
	typ := nalu[0] & 0x1F
	nalu = nalu[1:] // remove NALU header

	fragCount := len(nalu) / fragMaxSize
	lastFragSize := len(nalu) % fragMaxSize
	if lastFragSize > 0 {
		fragCount++
	}
	rets := make([]*rtp.Packet, fragCount)

	for i := range rets {
		indicator := (nri << 5) | uint8(h264.NALUTypeFUA)

		var head uint8
		if i == 0 {
			head = 0x80
		}

		le := fragMaxSize
		if i == (fragCount - 1) {
			head |= 0x40
			if lastFragSize > 0 {
				le = lastFragSize
			}
		}
		head |= typ

		payload := make([]byte, 2+le)
		payload[0] = indicator
		payload[1] = head
		copy(payload[2:], nalu[:le])
		nalu = nalu[le:]

		rets[i] = &rtp.Packet{
			Header: rtp.Header{
				Version:        rtpVersion,
				PayloadType:    e.PayloadType,
				SequenceNumber: e.sequenceNumber,
				Timestamp:      ts,
				SSRC:           e.SSRC,
			},
			Payload: payload,
		}
		e.sequenceNumber++
	}

	return rets, nil
}
