package rtph265

import (
	"fmt"
	"time"

	"github.com/pion/rtp"

	"github.com/bluenviron/rtspcore/pkg/h264"
	"github.com/bluenviron/rtspcore/pkg/h265"
)

const (
	rtpVersion = 2
)

func timestampFromPTS(pts time.Duration, clockRate int) uint32 {
	return uint32(uint64(pts.Milliseconds()) * uint64(clockRate) / 1000)
}

// Encoder is a RTP/H265 encoder.
// Specification: RFC 7798
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
	// the Annex-B framing of H265 is identical to the H264 one
	nalus := h264.AnnexBSplit(frame)
	if nalus == nil {
		return nil, fmt.Errorf("frame doesn't contain any NALU")
	}

	ts := timestampFromPTS(pts, ClockRate)

	var rets []*rtp.Packet

	for _, nalu := range nalus {
		if len(nalu) < 2 {
			return nil, fmt.Errorf("NALU is too short")
		}

		if len(nalu) <= e.PayloadMaxSize {
			rets = append(rets, e.writeSingle(nalu, ts))
		} else {
			rets = append(rets, e.writeFragmented(nalu, ts)...)
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

func (e *Encoder) writeFragmented(nalu []byte, ts uint32) []*rtp.Packet {
	fragMaxSize := e.PayloadMaxSize - 3

	// PayloadHdr: FU type replaces the NALU type, layer id and TID
	// are preserved
	ph0 := (nalu[0] & 0x81) | uint8(h265.NALUTypeFragmentation)<<1
	ph1 := nalu[1]
	typ := h265.TypeOf(nalu)
	nalu = nalu[2:] // remove NALU header

	fragCount := len(nalu) / fragMaxSize
	lastFragSize := len(nalu) % fragMaxSize
	if lastFragSize > 0 {
		fragCount++
	}
	rets := make([]*rtp.Packet, fragCount)

	for i := range rets {
		head := uint8(typ)
		if i == 0 {
			head |= 0x80
		}

		le := fragMaxSize
		if i == (fragCount - 1) {
			head |= 0x40
			if lastFragSize > 0 {
				le = lastFragSize
			}
		}

		payload := make([]byte, 3+le)
		payload[0] = ph0
		payload[1] = ph1
		payload[2] = head
		copy(payload[3:], nalu[:le])
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

	return rets
}
