package rtph265

import (
	"bytes"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestEncodeSingle(t *testing.T) {
	// IDR_W_RADL NALU
	frame := append([]byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01}, bytes.Repeat([]byte{0xAA}, 50)...)

	e := &Encoder{}
	err := e.Init()
	require.NoError(t, err)

	pkts, err := e.Encode(frame, 1000*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, len(pkts))
	require.Equal(t, uint8(97), pkts[0].PayloadType)
	require.True(t, pkts[0].Marker)
	require.Equal(t, uint32(90000), pkts[0].Timestamp)
	require.Equal(t, frame[4:], pkts[0].Payload)
}

func TestEncodeFragmented(t *testing.T) {
	nalu := append([]byte{0x26, 0x01}, bytes.Repeat([]byte{0xBB}, 3000)...)
	frame := append([]byte{0x00, 0x00, 0x00, 0x01}, nalu...)

	e := &Encoder{PayloadMaxSize: 1000}
	err := e.Init()
	require.NoError(t, err)

	pkts, err := e.Encode(frame, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(pkts), 2)

	for i, pkt := range pkts {
		// PayloadHdr carries the FU type with preserved layer id and TID
		require.Equal(t, byte(49), (pkt.Payload[0]>>1)&0x3F)
		require.Equal(t, byte(0x01), pkt.Payload[1])

		start := pkt.Payload[2]&0x80 != 0
		end := pkt.Payload[2]&0x40 != 0
		require.Equal(t, byte(19), pkt.Payload[2]&0x3F)

		require.Equal(t, i == 0, start)
		require.Equal(t, i == len(pkts)-1, end)
		require.Equal(t, i == len(pkts)-1, pkt.Marker)
	}
}

func TestDecodeAggregation(t *testing.T) {
	d := &Decoder{}
	d.Init()

	frames, err := d.Decode(&rtp.Packet{
		Header: rtp.Header{
			Version:   2,
			Timestamp: 5000,
			Marker:    true,
		},
		Payload: []byte{
			0x60, 0x01,
			0x00, 0x03, 0x02, 0x01, 0x11,
			0x00, 0x04, 0x26, 0x01, 0x99, 0x88,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, len(frames))

	fr := frames[0]
	require.True(t, bytes.HasPrefix(fr.Data, []byte{0x00, 0x00, 0x00, 0x01}))
	// the inner type-19 NALU is an IRAP
	require.True(t, fr.IsIDR)
	require.Equal(t, []byte{
		0x00, 0x00, 0x00, 0x01, 0x02, 0x01, 0x11,
		0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0x99, 0x88,
	}, fr.Data)
}

func TestDecodeFULossResync(t *testing.T) {
	d := &Decoder{}
	d.Init()

	// fragmented NALU, first fragment
	_, err := d.Decode(&rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: 1, Timestamp: 9000},
		Payload: []byte{0x62, 0x01, 0x93, 0xAA, 0xBB},
	})
	require.NoError(t, err)

	// seq 2 is missing; the partial NALU is discarded
	frames, err := d.Decode(&rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: 3, Timestamp: 9000},
		Payload: []byte{0x62, 0x01, 0x53, 0xCC, 0xDD},
	})
	require.NoError(t, err)
	require.Equal(t, 0, len(frames))

	// a new timestamp closes the discarded frame without emitting it
	_, err = d.Decode(&rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: 4, Timestamp: 12000},
		Payload: []byte{0x62, 0x01, 0x93, 0x11, 0x22},
	})
	require.NoError(t, err)

	frames, err = d.Decode(&rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: 5, Timestamp: 12000, Marker: true},
		Payload: []byte{0x62, 0x01, 0x53, 0x33, 0x44},
	})
	require.NoError(t, err)

	// exactly one frame, assembled from the second fragmented NALU
	require.Equal(t, 1, len(frames))
	require.True(t, bytes.HasPrefix(frames[0].Data, []byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01}))
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01, 0x11, 0x22, 0x33, 0x44}, frames[0].Data)
	require.GreaterOrEqual(t, d.LossEvents(), uint64(1))
}

func TestPackUnpackIdentity(t *testing.T) {
	for _, ca := range []struct {
		name  string
		frame []byte
	}{
		{
			"single NALU",
			append([]byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01}, bytes.Repeat([]byte{0x11}, 60)...),
		},
		{
			"fragmented NALU",
			append([]byte{0x00, 0x00, 0x00, 0x01, 0x26, 0x01}, bytes.Repeat([]byte{0x22}, 4000)...),
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			e := &Encoder{}
			err := e.Init()
			require.NoError(t, err)

			pkts, err := e.Encode(ca.frame, 80*time.Millisecond)
			require.NoError(t, err)

			d := &Decoder{}
			d.Init()

			var frames []*Frame
			for _, pkt := range pkts {
				out, err2 := d.Decode(pkt)
				require.NoError(t, err2)
				frames = append(frames, out...)
			}

			require.Equal(t, 1, len(frames))
			require.Equal(t, ca.frame, frames[0].Data)
			require.True(t, frames[0].IsIDR)
		})
	}
}
