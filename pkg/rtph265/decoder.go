package rtph265

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"

	"github.com/bluenviron/rtspcore/pkg/h265"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Decoder is a RTP/H265 decoder.
// It reassembles Annex-B access units from RTP packets that have already
// been sorted by sequence number.
// Specification: RFC 7798
type Decoder struct {
	frameActive    bool
	frameBuffer    []byte
	frameTimestamp uint32
	frameIsIDR     bool

	fuInProgress  bool
	fuStartOffset int
	dropMode      bool
	lastSeq       uint16

	lossEvents uint64
}

// Init initializes the decoder.
func (d *Decoder) Init() {
}

// LossEvents returns the number of packet loss events detected during
// fragmentation unit reconstruction.
func (d *Decoder) LossEvents() uint64 {
	return d.lossEvents
}

func (d *Decoder) reset() {
	d.frameActive = false
	d.frameBuffer = nil
	d.frameIsIDR = false
	d.fuInProgress = false
	d.fuStartOffset = 0
	d.dropMode = false
}

func (d *Decoder) finishFrame() *Frame {
	var fr *Frame
	if !d.dropMode && len(d.frameBuffer) > 0 {
		fr = &Frame{
			Data:      d.frameBuffer,
			Timestamp: d.frameTimestamp,
			IsIDR:     d.frameIsIDR,
		}
	}
	d.reset()
	return fr
}

func (d *Decoder) appendNALU(nalu []byte) {
	d.frameBuffer = append(d.frameBuffer, annexBStartCode...)
	d.frameBuffer = append(d.frameBuffer, nalu...)
}

// Decode processes a RTP packet and returns the access units that
// were completed by it, in reassembly order.
func (d *Decoder) Decode(pkt *rtp.Packet) ([]*Frame, error) {
	if len(pkt.Payload) < 2 {
		return nil, fmt.Errorf("payload is too short")
	}

	var frames []*Frame

	// a new timestamp closes the in-progress frame
	if d.frameActive && pkt.Timestamp != d.frameTimestamp {
		if fr := d.finishFrame(); fr != nil {
			frames = append(frames, fr)
		}
	}

	// a sequence gap while a FU is in progress discards the partial NALU
	if d.fuInProgress && pkt.SequenceNumber != d.lastSeq+1 {
		d.frameBuffer = d.frameBuffer[:d.fuStartOffset]
		d.fuInProgress = false
		d.dropMode = true
		d.lossEvents++
	}
	d.lastSeq = pkt.SequenceNumber

	if !d.frameActive {
		d.frameActive = true
		d.frameTimestamp = pkt.Timestamp
	}

	err := d.decodePayload(pkt.Payload)
	if err != nil {
		return frames, err
	}

	if pkt.Marker {
		if fr := d.finishFrame(); fr != nil {
			frames = append(frames, fr)
		}
	}

	return frames, nil
}

func (d *Decoder) decodePayload(payload []byte) error {
	typ := h265.TypeOf(payload)

	switch typ {
	case h265.NALUTypeAggregation:
		return d.decodeAggregation(payload[2:])

	case h265.NALUTypeFragmentation:
		return d.decodeFragmentation(payload)

	case h265.NALUTypePACI:
		// recognized but not further decoded

	default:
		if typ < h265.NALUTypeAggregation {
			if typ.IsIRAP() {
				d.frameIsIDR = true
			}
			d.appendNALU(payload)
		}
	}

	return nil
}

func (d *Decoder) decodeAggregation(payload []byte) error {
	n := 0

	for len(payload) > 0 {
		if len(payload) < 2 {
			return fmt.Errorf("invalid aggregation packet (invalid size)")
		}

		size := binary.BigEndian.Uint16(payload)
		payload = payload[2:]

		// avoid final padding
		if size == 0 {
			break
		}

		if int(size) > len(payload) || size < 2 {
			return fmt.Errorf("invalid aggregation packet (invalid size)")
		}

		nalu := payload[:size]
		payload = payload[size:]

		if h265.TypeOf(nalu).IsIRAP() {
			d.frameIsIDR = true
		}
		d.appendNALU(nalu)
		n++
	}

	if n == 0 {
		return fmt.Errorf("aggregation packet doesn't contain any NALU")
	}

	return nil
}

func (d *Decoder) decodeFragmentation(payload []byte) error {
	if len(payload) < 3 {
		return fmt.Errorf("invalid fragmentation packet (invalid size)")
	}

	start := (payload[2] & 0x80) != 0
	end := (payload[2] & 0x40) != 0
	typ := h265.NALUType(payload[2] & 0x3F)

	if start {
		// reconstruct the NALU header: the original type replaces the
		// FU type, layer id and TID are preserved
		h0 := (payload[0] & 0x81) | uint8(typ)<<1
		h1 := payload[1]

		if typ.IsIRAP() {
			d.frameIsIDR = true
		}

		d.fuStartOffset = len(d.frameBuffer)
		d.appendNALU([]byte{h0, h1})
		d.frameBuffer = append(d.frameBuffer, payload[3:]...)
		d.fuInProgress = true
		d.dropMode = false
	} else {
		if d.dropMode || !d.fuInProgress {
			return nil
		}

		if len(d.frameBuffer)+len(payload) > maxFrameSize {
			d.reset()
			return fmt.Errorf("frame size exceeds %d", maxFrameSize)
		}

		d.frameBuffer = append(d.frameBuffer, payload[3:]...)
	}

	if end {
		d.fuInProgress = false
	}

	return nil
}
