package rtspcore

import (
	"time"

	"github.com/pion/rtp"

	"github.com/bluenviron/rtspcore/pkg/rtph264"
	"github.com/bluenviron/rtspcore/pkg/rtph265"
)

// packer is the codec-indexed family of RTP packetizers.
type packer interface {
	encode(frame []byte, pts time.Duration) ([]*rtp.Packet, error)
}

type packerH264 struct {
	enc *rtph264.Encoder
}

func (p *packerH264) encode(frame []byte, pts time.Duration) ([]*rtp.Packet, error) {
	return p.enc.Encode(frame, pts)
}

type packerH265 struct {
	enc *rtph265.Encoder
}

func (p *packerH265) encode(frame []byte, pts time.Duration) ([]*rtp.Packet, error) {
	return p.enc.Encode(frame, pts)
}

func newPacker(codec Codec, payloadType uint8, ssrc uint32, payloadMaxSize int) (packer, error) {
	if codec == CodecH265 {
		enc := &rtph265.Encoder{
			PayloadType:    payloadType,
			SSRC:           ssrc,
			PayloadMaxSize: payloadMaxSize,
		}
		err := enc.Init()
		if err != nil {
			return nil, err
		}
		return &packerH265{enc: enc}, nil
	}

	enc := &rtph264.Encoder{
		PayloadType:    payloadType,
		SSRC:           ssrc,
		PayloadMaxSize: payloadMaxSize,
	}
	err := enc.Init()
	if err != nil {
		return nil, err
	}
	return &packerH264{enc: enc}, nil
}

// decodedFrame is an access unit reassembled by a depacketizer.
type decodedFrame struct {
	data      []byte
	timestamp uint32
	isIDR     bool
}

// depacketizer is the codec-indexed family of RTP depacketizers.
type depacketizer interface {
	decode(pkt *rtp.Packet) ([]*decodedFrame, error)
	lossEvents() uint64
}

type depacketizerH264 struct {
	dec *rtph264.Decoder
}

func (d *depacketizerH264) decode(pkt *rtp.Packet) ([]*decodedFrame, error) {
	frames, err := d.dec.Decode(pkt)
	ret := make([]*decodedFrame, len(frames))
	for i, fr := range frames {
		ret[i] = &decodedFrame{data: fr.Data, timestamp: fr.Timestamp, isIDR: fr.IsIDR}
	}
	return ret, err
}

func (d *depacketizerH264) lossEvents() uint64 {
	return d.dec.LossEvents()
}

type depacketizerH265 struct {
	dec *rtph265.Decoder
}

func (d *depacketizerH265) decode(pkt *rtp.Packet) ([]*decodedFrame, error) {
	frames, err := d.dec.Decode(pkt)
	ret := make([]*decodedFrame, len(frames))
	for i, fr := range frames {
		ret[i] = &decodedFrame{data: fr.Data, timestamp: fr.Timestamp, isIDR: fr.IsIDR}
	}
	return ret, err
}

func (d *depacketizerH265) lossEvents() uint64 {
	return d.dec.LossEvents()
}

func newDepacketizer(codec Codec) depacketizer {
	if codec == CodecH265 {
		dec := &rtph265.Decoder{}
		dec.Init()
		return &depacketizerH265{dec: dec}
	}

	dec := &rtph264.Decoder{}
	dec.Init()
	return &depacketizerH264{dec: dec}
}
