package rtspcore

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bluenviron/rtspcore/pkg/auth"
	"github.com/bluenviron/rtspcore/pkg/base"
	"github.com/bluenviron/rtspcore/pkg/conn"
	"github.com/bluenviron/rtspcore/pkg/headers"
	"github.com/bluenviron/rtspcore/pkg/liberrors"
	"github.com/bluenviron/rtspcore/pkg/rtph264"
	"github.com/bluenviron/rtspcore/pkg/rtph265"
	"github.com/bluenviron/rtspcore/pkg/sdp"
)

// PublishMediaInfo describes the stream announced by a Publisher.
type PublishMediaInfo struct {
	// codec of the stream.
	Codec Codec

	// video width, in pixels.
	Width int

	// video height, in pixels.
	Height int

	// frames per second.
	FPS int

	// parameter sets (optional).
	SPS []byte
	PPS []byte
	VPS []byte

	// RTP payload type (optional). It defaults to 96 (H264) or 97 (H265).
	PayloadType uint8

	// control track (optional). It defaults to "streamid=0".
	ControlTrack string
}

type publisherState int

const (
	publisherStateClosed publisherState = iota
	publisherStateOpen
	publisherStateAnnounced
	publisherStateSetupComplete
	publisherStateRecording
)

// Publisher is a RTSP publisher: it pushes a video stream to a server
// through the ANNOUNCE / SETUP / RECORD flow.
type Publisher struct {
	// User-Agent header (optional). It defaults to "rtspcore-publisher/1.0".
	UserAgent string

	// first local RTP port to try (optional). It defaults to 25000.
	LocalRTPPort int

	// timeout of requests (optional). It defaults to 5 seconds.
	ReceiveTimeout time.Duration

	state     publisherState
	url       *base.URL
	user      string
	pass      string
	nconn     net.Conn
	conn      *conn.Conn
	cseq      int
	sessionID string
	sender    *auth.Sender

	media         PublishMediaInfo
	packer        packer
	udpRTP        *net.UDPConn
	udpRTCP       *net.UDPConn
	serverRTPAddr *net.UDPAddr

	framesPushed uint64
}

func (p *Publisher) fillDefaults() {
	if p.UserAgent == "" {
		p.UserAgent = "rtspcore-publisher/1.0"
	}
	if p.LocalRTPPort == 0 {
		p.LocalRTPPort = 25000
	}
	if p.ReceiveTimeout == 0 {
		p.ReceiveTimeout = 5 * time.Second
	}
}

// Open connects to the server.
func (p *Publisher) Open(rawURL string) error {
	if p.state != publisherStateClosed {
		return liberrors.ErrClientInvalidState{Message: "already open"}
	}

	p.fillDefaults()

	u, err := base.ParseURL(rawURL)
	if err != nil {
		return err
	}

	p.user, p.pass = u.Credentials()
	p.url = u.CloneWithoutCredentials()

	host := u.Host
	if _, _, err2 := net.SplitHostPort(host); err2 != nil {
		host = net.JoinHostPort(host, "554")
	}

	nconn, err := net.DialTimeout("tcp", host, p.ReceiveTimeout)
	if err != nil {
		return err
	}

	p.nconn = nconn
	p.conn = conn.NewConn(nconn)
	p.state = publisherStateOpen

	return nil
}

// IsConnected reports whether the publisher is connected.
func (p *Publisher) IsConnected() bool {
	return p.state != publisherStateClosed
}

// IsRecording reports whether the publisher is recording.
func (p *Publisher) IsRecording() bool {
	return p.state == publisherStateRecording
}

func (p *Publisher) do(method base.Method, u *base.URL, header base.Header, body []byte) (*base.Response, error) {
	res, err := p.doOnce(method, u, header, body)
	if err != nil {
		return nil, err
	}

	// on 401, build the authentication context and retry once
	if res.StatusCode == base.StatusUnauthorized && p.user != "" && p.sender == nil {
		sender := &auth.Sender{
			WWWAuth: res.Header["WWW-Authenticate"],
			User:    p.user,
			Pass:    p.pass,
		}
		err = sender.Initialize()
		if err != nil {
			return nil, err
		}
		p.sender = sender

		res, err = p.doOnce(method, u, header, body)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (p *Publisher) doOnce(method base.Method, u *base.URL, header base.Header, body []byte) (*base.Response, error) {
	p.cseq++

	reqHeader := make(base.Header, len(header)+3)
	for k, v := range header {
		reqHeader[k] = v
	}
	reqHeader["CSeq"] = base.HeaderValue{strconv.Itoa(p.cseq)}
	reqHeader["User-Agent"] = base.HeaderValue{p.UserAgent}
	if p.sessionID != "" {
		reqHeader["Session"] = base.HeaderValue{p.sessionID}
	}

	req := &base.Request{
		Method: method,
		URL:    u,
		Header: reqHeader,
		Body:   body,
	}

	if p.sender != nil {
		p.sender.AddAuthorization(req)
	}

	p.nconn.SetWriteDeadline(time.Now().Add(p.ReceiveTimeout)) //nolint:errcheck
	err := p.conn.WriteRequest(req)
	if err != nil {
		return nil, err
	}

	p.nconn.SetReadDeadline(time.Now().Add(p.ReceiveTimeout)) //nolint:errcheck
	return p.conn.ReadResponse()
}

// Announce sends an ANNOUNCE request carrying the SDP of the stream.
func (p *Publisher) Announce(media PublishMediaInfo) error {
	if p.state != publisherStateOpen {
		return liberrors.ErrClientInvalidState{Message: "not open"}
	}

	if media.PayloadType == 0 {
		if media.Codec == CodecH265 {
			media.PayloadType = rtph265.DefaultPayloadType
		} else {
			media.PayloadType = rtph264.DefaultPayloadType
		}
	}
	if media.ControlTrack == "" {
		media.ControlTrack = "streamid=0"
	}
	p.media = media

	sdpBytes, err := sdp.Marshal(p.url.Path, &sdp.Media{
		CodecName:   media.Codec.String(),
		PayloadType: media.PayloadType,
		ClockRate:   90000,
		Width:       media.Width,
		Height:      media.Height,
		FPS:         media.FPS,
		VPS:         media.VPS,
		SPS:         media.SPS,
		PPS:         media.PPS,
		Control:     media.ControlTrack,
	})
	if err != nil {
		return err
	}

	res, err := p.do(base.Announce, p.url, base.Header{
		"Content-Type": base.HeaderValue{"application/sdp"},
	}, sdpBytes)
	if err != nil {
		return err
	}

	if res.StatusCode != base.StatusOK {
		return liberrors.ErrClientBadStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}

	p.state = publisherStateAnnounced

	return nil
}

// Setup binds a local RTP/RTCP pair and sends a SETUP request in
// record mode, learning the server ports from the response.
func (p *Publisher) Setup() error {
	if p.state != publisherStateAnnounced {
		return liberrors.ErrClientInvalidState{Message: "ANNOUNCE must be sent first"}
	}

	var rtpConn, rtcpConn *net.UDPConn
	port := (p.LocalRTPPort + 1) / 2 * 2
	for i := 0; i < 100; i, port = i+1, port+2 {
		var err error
		rtpConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			continue
		}

		rtcpConn, err = net.ListenUDP("udp", &net.UDPAddr{Port: port + 1})
		if err != nil {
			rtpConn.Close()
			rtpConn = nil
			continue
		}
		break
	}
	if rtcpConn == nil {
		return fmt.Errorf("no free RTP port pairs")
	}

	controlURL := p.url.Clone()
	controlURL.AddControlAttribute(p.media.ControlTrack)

	mode := headers.TransportModeRecord
	delivery := headers.TransportDeliveryUnicast
	th := headers.Transport{
		Protocol:    headers.TransportProtocolUDP,
		Delivery:    &delivery,
		ClientPorts: &[2]int{port, port + 1},
		Mode:        &mode,
	}

	res, err := p.do(base.Setup, controlURL, base.Header{
		"Transport": th.Marshal(),
	}, nil)
	if err != nil {
		rtpConn.Close()
		rtcpConn.Close()
		return err
	}

	if res.StatusCode != base.StatusOK {
		rtpConn.Close()
		rtcpConn.Close()
		return liberrors.ErrClientBadStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}

	var sh headers.Session
	err = sh.Unmarshal(res.Header["Session"])
	if err != nil {
		rtpConn.Close()
		rtcpConn.Close()
		return err
	}
	p.sessionID = sh.Session

	var resTH headers.Transport
	err = resTH.Unmarshal(res.Header["Transport"])
	if err != nil || resTH.ServerPorts == nil {
		rtpConn.Close()
		rtcpConn.Close()
		return fmt.Errorf("server did not provide server ports")
	}

	serverHost := p.url.Host
	if h, _, err2 := net.SplitHostPort(serverHost); err2 == nil {
		serverHost = h
	}
	serverIP := net.ParseIP(serverHost)
	if serverIP == nil {
		addrs, err2 := net.LookupIP(serverHost)
		if err2 != nil || len(addrs) == 0 {
			rtpConn.Close()
			rtcpConn.Close()
			return fmt.Errorf("unable to resolve host '%s'", serverHost)
		}
		serverIP = addrs[0]
	}

	p.udpRTP = rtpConn
	p.udpRTCP = rtcpConn
	p.serverRTPAddr = &net.UDPAddr{IP: serverIP, Port: resTH.ServerPorts[0]}

	p.packer, err = newPacker(p.media.Codec, p.media.PayloadType, ssrcFromSessionID(p.sessionID), 0)
	if err != nil {
		return err
	}

	p.state = publisherStateSetupComplete

	return nil
}

// Record sends a RECORD request; afterwards frames can be pushed.
func (p *Publisher) Record() error {
	if p.state != publisherStateSetupComplete {
		return liberrors.ErrClientInvalidState{Message: "SETUP must be sent first"}
	}

	res, err := p.do(base.Record, p.url, nil, nil)
	if err != nil {
		return err
	}

	if res.StatusCode != base.StatusOK {
		return liberrors.ErrClientBadStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
	}

	p.state = publisherStateRecording

	return nil
}

// PushFrame packs a frame into RTP packets and sends them to the server.
func (p *Publisher) PushFrame(frame *VideoFrame) error {
	if p.state != publisherStateRecording {
		return liberrors.ErrClientInvalidState{Message: "RECORD must be sent first"}
	}

	if frame.Codec != p.media.Codec {
		return fmt.Errorf("frame codec does not match the announced codec")
	}

	pkts, err := p.packer.encode(frame.Data, frame.PTS)
	if err != nil {
		return err
	}

	for _, pkt := range pkts {
		buf, err2 := pkt.Marshal()
		if err2 != nil {
			return err2
		}

		_, err2 = p.udpRTP.WriteTo(buf, p.serverRTPAddr)
		if err2 != nil {
			return err2
		}
	}

	atomic.AddUint64(&p.framesPushed, 1)

	return nil
}

// PushH264 pushes a raw H264 Annex-B payload.
func (p *Publisher) PushH264(data []byte, pts time.Duration, isKeyframe bool) error {
	return p.pushData(CodecH264, data, pts, isKeyframe)
}

// PushH265 pushes a raw H265 Annex-B payload.
func (p *Publisher) PushH265(data []byte, pts time.Duration, isKeyframe bool) error {
	return p.pushData(CodecH265, data, pts, isKeyframe)
}

func (p *Publisher) pushData(codec Codec, data []byte, pts time.Duration, isKeyframe bool) error {
	typ := FrameTypeP
	if isKeyframe {
		typ = FrameTypeIDR
	}

	return p.PushFrame(&VideoFrame{
		Codec:  codec,
		Type:   typ,
		Data:   data,
		PTS:    pts,
		DTS:    pts,
		Width:  p.media.Width,
		Height: p.media.Height,
		FPS:    p.media.FPS,
	})
}

// Teardown sends a TEARDOWN request.
// The request is best-effort: resources are released even when it fails.
func (p *Publisher) Teardown() error {
	if p.state == publisherStateClosed {
		return liberrors.ErrClientInvalidState{Message: "not open"}
	}

	var err error
	if p.sessionID != "" {
		var res *base.Response
		res, err = p.do(base.Teardown, p.url, nil, nil)
		if err == nil && res.StatusCode != base.StatusOK {
			err = liberrors.ErrClientBadStatusCode{Code: res.StatusCode, Message: res.StatusMessage}
		}
	}

	p.releaseTransport()
	p.sessionID = ""
	p.state = publisherStateOpen

	return err
}

// Close closes the connection and releases every resource.
func (p *Publisher) Close() {
	p.CloseWithTimeout(5 * time.Second)
}

// CloseWithTimeout closes the connection, sending a best-effort
// TEARDOWN bounded by the given deadline.
// It reports false when the TEARDOWN request fails, including when no
// response arrives within the deadline or the response is not 200.
func (p *Publisher) CloseWithTimeout(deadline time.Duration) bool {
	if p.state == publisherStateClosed {
		return true
	}

	ok := true

	if p.sessionID != "" {
		prev := p.ReceiveTimeout
		p.ReceiveTimeout = deadline
		if p.Teardown() != nil {
			ok = false
		}
		p.ReceiveTimeout = prev
	}

	p.releaseTransport()

	if p.nconn != nil {
		p.nconn.Close()
	}

	p.state = publisherStateClosed

	return ok
}

func (p *Publisher) releaseTransport() {
	if p.udpRTP != nil {
		p.udpRTP.Close()
		p.udpRTP = nil
	}
	if p.udpRTCP != nil {
		p.udpRTCP.Close()
		p.udpRTCP = nil
	}
}
