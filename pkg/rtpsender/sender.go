// Package rtpsender contains a utility to track outgoing RTP packets
// and generate RTCP sender reports.
package rtpsender

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/bluenviron/rtspcore/pkg/ntp"
)

const (
	defaultReportPeriod = 100
)

// Sender tracks outgoing RTP packets of a stream.
// It emits a RTCP sender report every ReportPeriod packets.
type Sender struct {
	// clock rate of the stream.
	ClockRate int

	// SSRC of the stream.
	SSRC uint32

	// number of RTP packets between sender reports (optional).
	// It defaults to 100.
	ReportPeriod uint32

	// called when a sender report is ready (optional).
	WritePacketRTCP func(rtcp.Packet)

	// time source, overridable for testing (optional).
	TimeNow func() time.Time

	mutex       sync.Mutex
	lastRTPTime uint32
	packetCount uint32
	octetCount  uint32
}

// Initialize initializes a Sender.
func (rs *Sender) Initialize() {
	if rs.ReportPeriod == 0 {
		rs.ReportPeriod = defaultReportPeriod
	}
	if rs.TimeNow == nil {
		rs.TimeNow = time.Now
	}
}

// ProcessPacket accounts an outgoing RTP packet, and emits a sender
// report when the report period is reached.
func (rs *Sender) ProcessPacket(pkt *rtp.Packet) {
	rs.mutex.Lock()

	rs.lastRTPTime = pkt.Timestamp
	rs.packetCount++
	rs.octetCount += uint32(len(pkt.Payload))

	var report rtcp.Packet
	if (rs.packetCount%rs.ReportPeriod) == 0 && rs.WritePacketRTCP != nil {
		report = &rtcp.SenderReport{
			SSRC:        rs.SSRC,
			NTPTime:     ntp.Encode(rs.TimeNow()),
			RTPTime:     rs.lastRTPTime,
			PacketCount: rs.packetCount,
			OctetCount:  rs.octetCount,
		}
	}

	rs.mutex.Unlock()

	if report != nil {
		rs.WritePacketRTCP(report)
	}
}

// Stats returns the number of sent packets and octets.
func (rs *Sender) Stats() (uint32, uint32) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	return rs.packetCount, rs.octetCount
}
