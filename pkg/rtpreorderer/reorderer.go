// Package rtpreorderer contains a filter to reorder incoming RTP packets.
package rtpreorderer

import (
	"github.com/pion/rtp"
)

const (
	defaultWindowSize = 32
)

// Reorderer filters incoming RTP packets, in order to
// - sort packets by sequence number
// - remove duplicate packets
// Packets are buffered in a bounded window; when the window overflows,
// the expected sequence number is forcibly advanced to the smallest
// buffered one, which caps end-to-end latency under sustained loss.
type Reorderer struct {
	// size of the reorder window, in packets (optional).
	// It defaults to 32.
	WindowSize int

	initialized bool
	expectedSeq uint16
	buffer      map[uint16]*rtp.Packet

	packetsReceived  uint64
	packetsReordered uint64
	lossEvents       uint64
}

// Initialize initializes a Reorderer.
func (r *Reorderer) Initialize() {
	if r.WindowSize == 0 {
		r.WindowSize = defaultWindowSize
	}
	r.buffer = make(map[uint16]*rtp.Packet)
}

// Stats returns the number of received packets, of packets that arrived
// out of order and of detected loss events.
func (r *Reorderer) Stats() (uint64, uint64, uint64) {
	return r.packetsReceived, r.packetsReordered, r.lossEvents
}

// Process processes a RTP packet and returns the packets that can be
// handed to the depacketizer, in ascending sequence order.
func (r *Reorderer) Process(pkt *rtp.Packet) []*rtp.Packet {
	r.packetsReceived++

	if !r.initialized {
		r.initialized = true
		r.expectedSeq = pkt.SequenceNumber + 1
		return []*rtp.Packet{pkt}
	}

	relPos := pkt.SequenceNumber - r.expectedSeq

	if pkt.SequenceNumber != r.expectedSeq {
		r.packetsReordered++
	}

	// packet is a duplicate or precedes the current window. discard.
	if relPos >= 0x8000 {
		return nil
	}

	if _, ok := r.buffer[pkt.SequenceNumber]; ok {
		return nil
	}
	r.buffer[pkt.SequenceNumber] = pkt

	ret := r.drain()

	// window is full: skip the gap and drain from the smallest
	// buffered sequence number.
	if len(r.buffer) >= r.WindowSize {
		r.expectedSeq = r.smallestBuffered()
		r.lossEvents++
		ret = append(ret, r.drain()...)
	}

	return ret
}

func (r *Reorderer) drain() []*rtp.Packet {
	var ret []*rtp.Packet

	for {
		pkt, ok := r.buffer[r.expectedSeq]
		if !ok {
			break
		}
		delete(r.buffer, r.expectedSeq)
		ret = append(ret, pkt)
		r.expectedSeq++
	}

	return ret
}

func (r *Reorderer) smallestBuffered() uint16 {
	first := true
	var smallest uint16
	var smallestRel uint16

	for seq := range r.buffer {
		rel := seq - r.expectedSeq
		if first || rel < smallestRel {
			first = false
			smallest = seq
			smallestRel = rel
		}
	}

	return smallest
}
