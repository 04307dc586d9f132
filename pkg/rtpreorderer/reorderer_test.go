package rtpreorderer

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func pktWithSeq(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: seq,
		},
	}
}

func seqsOf(pkts []*rtp.Packet) []uint16 {
	if pkts == nil {
		return nil
	}
	ret := make([]uint16, len(pkts))
	for i, pkt := range pkts {
		ret[i] = pkt.SequenceNumber
	}
	return ret
}

func TestInOrder(t *testing.T) {
	r := &Reorderer{}
	r.Initialize()

	for seq := uint16(100); seq < 110; seq++ {
		out := r.Process(pktWithSeq(seq))
		require.Equal(t, []uint16{seq}, seqsOf(out))
	}

	received, reordered, loss := r.Stats()
	require.Equal(t, uint64(10), received)
	require.Equal(t, uint64(0), reordered)
	require.Equal(t, uint64(0), loss)
}

func TestReorder(t *testing.T) {
	r := &Reorderer{}
	r.Initialize()

	require.Equal(t, []uint16{10}, seqsOf(r.Process(pktWithSeq(10))))
	require.Equal(t, []uint16(nil), seqsOf(r.Process(pktWithSeq(12))))
	require.Equal(t, []uint16{11, 12}, seqsOf(r.Process(pktWithSeq(11))))

	_, reordered, _ := r.Stats()
	require.Equal(t, uint64(1), reordered)
}

func TestDuplicateDiscarded(t *testing.T) {
	r := &Reorderer{}
	r.Initialize()

	require.Equal(t, []uint16{10}, seqsOf(r.Process(pktWithSeq(10))))
	require.Equal(t, []uint16(nil), seqsOf(r.Process(pktWithSeq(10))))
	require.Equal(t, []uint16{11}, seqsOf(r.Process(pktWithSeq(11))))
}

func TestForcedDrain(t *testing.T) {
	r := &Reorderer{WindowSize: 4}
	r.Initialize()

	require.Equal(t, []uint16{1}, seqsOf(r.Process(pktWithSeq(1))))

	// seq 2 is missing
	require.Equal(t, []uint16(nil), seqsOf(r.Process(pktWithSeq(3))))
	require.Equal(t, []uint16(nil), seqsOf(r.Process(pktWithSeq(4))))
	require.Equal(t, []uint16(nil), seqsOf(r.Process(pktWithSeq(5))))

	// the window fills up: 3-5 are drained, skipping the gap
	require.Equal(t, []uint16{3, 4, 5}, seqsOf(r.Process(pktWithSeq(7))))

	// seq 6 is missing
	require.Equal(t, []uint16(nil), seqsOf(r.Process(pktWithSeq(8))))
	require.Equal(t, []uint16(nil), seqsOf(r.Process(pktWithSeq(9))))

	// the window fills again: 7-10 are drained
	require.Equal(t, []uint16{7, 8, 9, 10}, seqsOf(r.Process(pktWithSeq(10))))

	received, reordered, loss := r.Stats()
	require.Equal(t, uint64(8), received)
	require.NotZero(t, reordered)
	require.GreaterOrEqual(t, loss, uint64(1))
}

func TestSequenceWraparound(t *testing.T) {
	r := &Reorderer{}
	r.Initialize()

	require.Equal(t, []uint16{65534}, seqsOf(r.Process(pktWithSeq(65534))))
	require.Equal(t, []uint16{65535}, seqsOf(r.Process(pktWithSeq(65535))))
	require.Equal(t, []uint16{0}, seqsOf(r.Process(pktWithSeq(0))))
	require.Equal(t, []uint16{1}, seqsOf(r.Process(pktWithSeq(1))))
}
