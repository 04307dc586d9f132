package rtph264

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"

	"github.com/bluenviron/rtspcore/pkg/h264"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// Decoder is a RTP/H264 decoder.
// It reassembles Annex-B access units from RTP packets that have already
// been sorted by sequence number.
// Specification: RFC 6184
type Decoder struct {
	frameActive    bool
	frameBuffer    []byte
	frameTimestamp uint32
	frameIsIDR     bool

	fuInProgress  bool
	fuStartOffset int
	dropMode      bool
	lastSeq       uint16

	// number of detected packet loss events.
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

// finishFrame closes the current frame and returns it,
// or nil when there is nothing to emit.
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
	if len(pkt.Payload) < 1 {
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
	typ := h264.TypeOf(payload)

	switch {
	case typ >= 1 && typ <= 23:
		if typ == h264.NALUTypeIDR {
			d.frameIsIDR = true
		}
		d.appendNALU(payload)

	case typ == h264.NALUTypeSTAPA:
		return d.decodeAggregation(payload[1:])

	case typ == h264.NALUTypeSTAPB:
		// skip the 16-bit decoding order number
		if len(payload) < 3 {
			return fmt.Errorf("invalid STAP-B packet (invalid size)")
		}
		return d.decodeAggregation(payload[3:])

	case typ == h264.NALUTypeFUA:
		return d.decodeFragmentation(payload)

		// other types are ignored
	}

	return nil
}

func (d *Decoder) decodeAggregation(payload []byte) error {
	n := 0

	for len(payload) > 0 {
		if len(payload) < 2 {
			return fmt.Errorf("invalid STAP-A packet (invalid size)")
		}

		size := binary.BigEndian.Uint16(payload)
		payload = payload[2:]

		// avoid final padding
		if size == 0 {
			break
		}

		if int(size) > len(payload) {
			return fmt.Errorf("invalid STAP-A packet (invalid size)")
		}

		nalu := payload[:size]
		payload = payload[size:]

		if h264.TypeOf(nalu) == h264.NALUTypeIDR {
			d.frameIsIDR = true
		}
		d.appendNALU(nalu)
		n++
	}

	if n == 0 {
		return fmt.Errorf("STAP-A packet doesn't contain any NALU")
	}

	return nil
}

func (d *Decoder) decodeFragmentation(payload []byte) error {
	if len(payload) < 2 {
		return fmt.Errorf("invalid FU-A packet (invalid size)")
	}

	start := (payload[1] & 0x80) != 0
	end := (payload[1] & 0x40) != 0

	if start {
		// reconstruct the NALU header from the indicator and the FU header
		head := (payload[0] & 0xE0) | (payload[1] & 0x1F)

		if h264.NALUType(head&0x1F) == h264.NALUTypeIDR {
			d.frameIsIDR = true
		}

		d.fuStartOffset = len(d.frameBuffer)
		d.appendNALU([]byte{head})
		d.frameBuffer = append(d.frameBuffer, payload[2:]...)
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

		d.frameBuffer = append(d.frameBuffer, payload[2:]...)
	}

	if end {
		d.fuInProgress = false
	}

	return nil
}
