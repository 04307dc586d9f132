package rtspcore

import (
	"hash/fnv"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"

	"github.com/bluenviron/rtspcore/pkg/ringbuffer"
	"github.com/bluenviron/rtspcore/pkg/rtpsender"
)

const (
	ssrcSeed = 0x12345678
)

func ssrcFromSessionID(id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(id))
	return ssrcSeed ^ h.Sum32()
}

// serverSession is a subscriber of a path.
// It owns the transport towards one client and a send loop consuming
// a bounded frame queue.
type serverSession struct {
	s      *Server
	sc     *serverConn
	stream *serverStream

	id       string
	pathName string
	remoteIP string

	isTCP          bool
	interleavedIDs [2]int
	rtpPort        int
	udpRTP         *net.UDPConn
	udpRTCP        *net.UDPConn
	clientRTPAddr  *net.UDPAddr
	clientRTCPAddr *net.UDPAddr

	ssrc       uint32
	packer     packer
	rtcpSender *rtpsender.Sender
	queue      *ringbuffer.RingBuffer

	mutex   sync.Mutex
	cond    *sync.Cond
	playing bool
	closed  bool

	lastActivityNano int64

	done chan struct{}
}

func (ss *serverSession) initialize() error {
	ss.id = uuid.NewString()
	ss.ssrc = ssrcFromSessionID(ss.id)

	var err error
	ss.packer, err = newPacker(ss.stream.conf.Codec, ss.stream.payloadType(), ss.ssrc, 0)
	if err != nil {
		return err
	}

	ss.rtcpSender = &rtpsender.Sender{
		ClockRate:       90000,
		SSRC:            ss.ssrc,
		WritePacketRTCP: ss.writeRTCP,
	}
	ss.rtcpSender.Initialize()

	ss.queue = ringbuffer.New(ss.s.Config.FrameQueueSize)
	ss.cond = sync.NewCond(&ss.mutex)
	ss.done = make(chan struct{})

	ss.updateActivity()

	go ss.run()

	return nil
}

func (ss *serverSession) updateActivity() {
	atomic.StoreInt64(&ss.lastActivityNano, time.Now().UnixNano())
}

func (ss *serverSession) lastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&ss.lastActivityNano))
}

func (ss *serverSession) setPlaying(v bool) {
	ss.mutex.Lock()
	ss.playing = v
	ss.mutex.Unlock()
	ss.cond.Broadcast()
}

// waitPlaying blocks until the session is armed by PLAY.
// It reports false when the session has been closed.
func (ss *serverSession) waitPlaying() bool {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	for !ss.playing && !ss.closed {
		ss.cond.Wait()
	}
	return !ss.closed
}

// writeFrame enqueues a frame without blocking; when the queue is
// full, the oldest frame is dropped.
func (ss *serverSession) writeFrame(frame *VideoFrame) {
	ss.queue.Push(frame)
}

// run is the send loop: it dequeues frames, packs them into RTP
// packets and writes them to the transport.
func (ss *serverSession) run() {
	defer close(ss.done)

	for {
		// frames enqueued before PLAY (the bootstrap keyframe among
		// them) stay queued until the session is armed.
		if !ss.waitPlaying() {
			return
		}

		data, ok := ss.queue.Pull()
		if !ok {
			return
		}

		frame := data.(*VideoFrame)

		pkts, err := ss.packer.encode(frame.Data, frame.PTS)
		if err != nil {
			logf(LogLevelWarn, "server: session %s: %v", ss.id, err)
			continue
		}

		for _, pkt := range pkts {
			buf, err := pkt.Marshal()
			if err != nil {
				continue
			}

			err = ss.writeRTP(buf)
			if err != nil {
				// a transport error ends the loop; the supervisor
				// reaps the session on its next tick, since the
				// loop's done channel is then closed.
				logf(LogLevelWarn, "server: session %s: %v", ss.id, err)
				return
			}

			atomic.AddUint64(&ss.s.rtpPacketsSent, 1)
			atomic.AddUint64(&ss.s.rtpBytesSent, uint64(len(buf)))
			ss.updateActivity()

			ss.rtcpSender.ProcessPacket(pkt)
		}
	}
}

func (ss *serverSession) writeRTP(buf []byte) error {
	if ss.isTCP {
		return ss.sc.writeInterleaved(ss.interleavedIDs[0], buf)
	}

	_, err := ss.udpRTP.WriteTo(buf, ss.clientRTPAddr)
	return err
}

func (ss *serverSession) writeRTCP(pkt rtcp.Packet) {
	buf, err := pkt.Marshal()
	if err != nil {
		return
	}

	if ss.isTCP {
		ss.sc.writeInterleaved(ss.interleavedIDs[1], buf) //nolint:errcheck
		return
	}

	ss.udpRTCP.WriteTo(buf, ss.clientRTCPAddr) //nolint:errcheck
}

// close stops the send loop, releases the RTP port pair and detaches
// the session from its path and connection. It is idempotent.
func (ss *serverSession) close() {
	ss.mutex.Lock()
	if ss.closed {
		ss.mutex.Unlock()
		return
	}
	ss.closed = true
	ss.playing = false
	ss.mutex.Unlock()
	ss.cond.Broadcast()

	ss.queue.Close()
	<-ss.done

	if ss.udpRTP != nil {
		ss.udpRTP.Close()
	}
	if ss.udpRTCP != nil {
		ss.udpRTCP.Close()
	}

	ss.stream.removeSubscriber(ss)
	ss.sc.setSession(nil)

	atomic.AddUint64(&ss.s.sessionsClosed, 1)

	if cb := ss.s.OnClientDisconnect; cb != nil {
		cb(ss.pathName, ss.remoteIP)
	}

	logf(LogLevelInfo, "server: session %s closed", ss.id)
}
