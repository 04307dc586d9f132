package rtspcore

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/rtspcore/pkg/auth"
	"github.com/bluenviron/rtspcore/pkg/base"
	"github.com/bluenviron/rtspcore/pkg/conn"
	"github.com/bluenviron/rtspcore/pkg/headers"
	"github.com/bluenviron/rtspcore/pkg/liberrors"
)

const (
	connPollInterval = 1 * time.Second
)

var supportedMethods = []base.Method{
	base.Options,
	base.Describe,
	base.Setup,
	base.Play,
	base.Pause,
	base.Teardown,
	base.GetParameter,
	base.SetParameter,
}

type connState int

const (
	connStateInit connState = iota
	connStateDescribed
	connStateSetupComplete
	connStatePlaying
	connStatePaused
)

// errTeardown makes the read loop exit after a TEARDOWN response.
var errTeardown = errors.New("teardown")

// serverConn is a server-side connection.
type serverConn struct {
	s     *Server
	nconn net.Conn

	conn     *conn.Conn
	remoteIP string

	// guards writes to the control socket, shared between the
	// request/response path and the interleaved packet sender.
	sendMutex sync.Mutex

	state connState

	sessionMutex sync.Mutex
	session      *serverSession

	verifier *auth.Verifier
}

func (sc *serverConn) initialize() {
	sc.conn = conn.NewConn(sc.nconn)

	if addr, ok := sc.nconn.RemoteAddr().(*net.TCPAddr); ok {
		sc.remoteIP = addr.IP.String()
	}

	if sc.s.Config.AuthEnabled {
		method := auth.VerifyMethodBasic
		if sc.s.Config.AuthDigest {
			method = auth.VerifyMethodDigestMD5
		}

		sc.verifier = &auth.Verifier{
			User:     sc.s.Config.AuthUsername,
			Pass:     sc.s.Config.AuthPassword,
			Realm:    sc.s.Config.AuthRealm,
			Method:   method,
			NonceTTL: sc.s.Config.NonceTTL,
		}
		sc.verifier.Initialize() //nolint:errcheck
	}
}

func (sc *serverConn) currentSession() *serverSession {
	sc.sessionMutex.Lock()
	defer sc.sessionMutex.Unlock()
	return sc.session
}

func (sc *serverConn) setSession(ss *serverSession) {
	sc.sessionMutex.Lock()
	sc.session = ss
	sc.sessionMutex.Unlock()
}

// run drives the connection: it reads requests with a poll timeout,
// dispatches them to the state machine and writes responses back on
// the same socket.
func (sc *serverConn) run() {
	defer sc.cleanup()

	logf(LogLevelDebug, "server: connection opened from %s", sc.nconn.RemoteAddr())

	for {
		select {
		case <-sc.s.terminate:
			return
		default:
		}

		sc.nconn.SetReadDeadline(time.Now().Add(connPollInterval)) //nolint:errcheck

		req, err := sc.conn.ReadRequest()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return
		}

		err = sc.handleRequest(req)
		if err != nil {
			return
		}
	}
}

func (sc *serverConn) cleanup() {
	if ss := sc.currentSession(); ss != nil {
		ss.close()
	}
	sc.nconn.Close()

	logf(LogLevelDebug, "server: connection closed from %s", sc.nconn.RemoteAddr())
}

func (sc *serverConn) writeResponse(res *base.Response) error {
	sc.sendMutex.Lock()
	defer sc.sendMutex.Unlock()

	sc.nconn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
	return sc.conn.WriteResponse(res)
}

// writeInterleaved frames a packet with the dollar-byte prefix and
// writes it on the control socket.
func (sc *serverConn) writeInterleaved(channel int, payload []byte) error {
	fr := base.InterleavedFrame{
		Channel: channel,
		Payload: payload,
	}
	buf := make([]byte, fr.MarshalSize())

	sc.sendMutex.Lock()
	defer sc.sendMutex.Unlock()

	sc.nconn.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
	return sc.conn.WriteInterleavedFrame(&fr, buf)
}

func (sc *serverConn) handleRequest(req *base.Request) error {
	atomic.AddUint64(&sc.s.requestsTotal, 1)

	cseq := req.Header["CSeq"]
	if len(cseq) == 0 {
		logf(LogLevelWarn, "server: %v", liberrors.ErrServerCSeqMissing{})
		return sc.writeResponse(base.NewResponseError(nil, base.StatusBadRequest))
	}

	if ss := sc.currentSession(); ss != nil {
		ss.updateActivity()
	}

	// every request except OPTIONS must carry valid credentials
	if sc.verifier != nil && req.Method != base.Options {
		err := sc.verifier.Verify(req)
		if err != nil {
			atomic.AddUint64(&sc.s.authChallenges, 1)

			var needsChallenge auth.ErrNeedsChallenge
			var staleNonce auth.ErrStaleNonce
			if !errors.As(err, &needsChallenge) && !errors.As(err, &staleNonce) {
				atomic.AddUint64(&sc.s.authFailures, 1)
			}

			res := base.NewResponseError(cseq, base.StatusUnauthorized)
			res.Header["WWW-Authenticate"] = sc.verifier.Header()
			return sc.writeResponse(res)
		}
	}

	var res *base.Response
	var err error

	switch req.Method {
	case base.Options:
		res = base.NewResponseOptions(cseq, supportedMethods)

	case base.Describe:
		res = sc.handleDescribe(req, cseq)

	case base.Setup:
		res = sc.handleSetup(req, cseq)

	case base.Play:
		res = sc.handlePlay(req, cseq)

	case base.Pause:
		res = sc.handlePause(req, cseq)

	case base.Teardown:
		res = sc.handleTeardown(req, cseq)
		if res.StatusCode == base.StatusOK {
			err = errTeardown
		}

	case base.GetParameter, base.SetParameter:
		res = sc.handleParameter(req, cseq)

	default:
		res = base.NewResponseError(cseq, base.StatusNotImplemented)
	}

	werr := sc.writeResponse(res)
	if werr != nil {
		return werr
	}

	return err
}

func (sc *serverConn) handleDescribe(req *base.Request, cseq base.HeaderValue) *base.Response {
	path, ok := req.URL.RTSPPath()
	if !ok {
		return base.NewResponseError(cseq, base.StatusBadRequest)
	}

	st := sc.s.findPath(path)
	if st == nil {
		logf(LogLevelWarn, "server: DESCRIBE of unknown path %s", path)
		return base.NewResponseError(cseq, base.StatusNotFound)
	}

	sdpBytes, err := st.sdpBytes()
	if err != nil {
		return base.NewResponseError(cseq, base.StatusInternalServerError)
	}

	if sc.state == connStateInit {
		sc.state = connStateDescribed
	}

	return base.NewResponseDescribe(cseq, req.URL.CloneWithoutCredentials().String()+"/", sdpBytes)
}

// resolvePath matches a SETUP URL against the registry; when the full
// path has no registered match, exactly one trailing control segment
// is stripped.
func (sc *serverConn) resolvePath(req *base.Request) *serverStream {
	path, ok := req.URL.RTSPPath()
	if !ok {
		return nil
	}

	if st := sc.s.findPath(path); st != nil {
		return st
	}

	if parent, ok2 := base.PathStripLastSegment(path); ok2 {
		return sc.s.findPath(parent)
	}

	return nil
}

func (sc *serverConn) handleSetup(req *base.Request, cseq base.HeaderValue) *base.Response {
	// aggregate sessions are not supported
	if sc.currentSession() != nil {
		return base.NewResponseError(cseq, base.StatusAggregateOperationNotAllowed)
	}

	if sc.state != connStateInit && sc.state != connStateDescribed {
		return base.NewResponseError(cseq, base.StatusMethodNotValidInThisState)
	}

	st := sc.resolvePath(req)
	if st == nil {
		return base.NewResponseError(cseq, base.StatusNotFound)
	}

	var th headers.Transport
	err := th.Unmarshal(req.Header["Transport"])
	if err != nil {
		return base.NewResponseError(cseq, base.StatusBadRequest)
	}

	if th.Delivery != nil && *th.Delivery == headers.TransportDeliveryMulticast {
		return base.NewResponseError(cseq, base.StatusUnsupportedTransport)
	}

	ss := &serverSession{
		s:        sc.s,
		sc:       sc,
		stream:   st,
		pathName: st.conf.Name,
		remoteIP: sc.remoteIP,
	}

	var resTH headers.Transport

	if th.Protocol == headers.TransportProtocolTCP {
		ss.isTCP = true
		if th.InterleavedIDs != nil {
			ss.interleavedIDs = *th.InterleavedIDs
		} else {
			ss.interleavedIDs = [2]int{0, 1}
		}

		resTH = headers.Transport{
			Protocol:       headers.TransportProtocolTCP,
			InterleavedIDs: &ss.interleavedIDs,
		}
	} else {
		if th.ClientPorts == nil {
			return base.NewResponseError(cseq, base.StatusBadRequest)
		}

		rtpConn, rtcpConn, rtpPort, err2 := sc.s.allocateRTPPair()
		if err2 != nil {
			logf(LogLevelError, "server: %v", err2)
			return base.NewResponseError(cseq, base.StatusInternalServerError)
		}

		clientIP := net.ParseIP(sc.remoteIP)
		ss.udpRTP = rtpConn
		ss.udpRTCP = rtcpConn
		ss.rtpPort = rtpPort
		ss.clientRTPAddr = &net.UDPAddr{IP: clientIP, Port: th.ClientPorts[0]}
		ss.clientRTCPAddr = &net.UDPAddr{IP: clientIP, Port: th.ClientPorts[1]}

		delivery := headers.TransportDeliveryUnicast
		serverPorts := [2]int{rtpPort, rtpPort + 1}
		resTH = headers.Transport{
			Protocol:    headers.TransportProtocolUDP,
			Delivery:    &delivery,
			ClientPorts: th.ClientPorts,
			ServerPorts: &serverPorts,
		}
	}

	err = ss.initialize()
	if err != nil {
		logf(LogLevelError, "server: %v", err)
		return base.NewResponseError(cseq, base.StatusInternalServerError)
	}

	sc.setSession(ss)
	st.addSubscriber(ss)
	atomic.AddUint64(&sc.s.sessionsCreated, 1)

	if cb := sc.s.OnClientConnect; cb != nil {
		cb(ss.pathName, ss.remoteIP)
	}

	sc.state = connStateSetupComplete

	logf(LogLevelInfo, "server: session %s created on path %s for %s",
		ss.id, ss.pathName, ss.remoteIP)

	return base.NewResponseSetup(cseq, ss.id, resTH.Marshal())
}

// checkSession verifies that the Session header matches the active
// session. When emptyOK is set, a missing header is accepted.
func (sc *serverConn) checkSession(req *base.Request, emptyOK bool) (*serverSession, bool) {
	ss := sc.currentSession()

	sh := req.Header["Session"]
	if len(sh) == 0 {
		if emptyOK {
			return ss, true
		}
		return nil, false
	}

	var h headers.Session
	err := h.Unmarshal(sh)
	if err != nil || ss == nil || h.Session != ss.id {
		return nil, false
	}

	return ss, true
}

func (sc *serverConn) handlePlay(req *base.Request, cseq base.HeaderValue) *base.Response {
	if sc.state != connStateSetupComplete && sc.state != connStatePlaying && sc.state != connStatePaused {
		return base.NewResponseError(cseq, base.StatusMethodNotValidInThisState)
	}

	ss, ok := sc.checkSession(req, false)
	if !ok || ss == nil {
		return base.NewResponseError(cseq, base.StatusSessionNotFound)
	}

	ss.setPlaying(true)
	sc.state = connStatePlaying

	return base.NewResponsePlay(cseq, ss.id)
}

func (sc *serverConn) handlePause(req *base.Request, cseq base.HeaderValue) *base.Response {
	if sc.state != connStatePlaying {
		return base.NewResponseError(cseq, base.StatusMethodNotValidInThisState)
	}

	ss, ok := sc.checkSession(req, false)
	if !ok || ss == nil {
		return base.NewResponseError(cseq, base.StatusSessionNotFound)
	}

	ss.setPlaying(false)
	sc.state = connStatePaused

	return base.NewResponseOK(cseq)
}

func (sc *serverConn) handleTeardown(req *base.Request, cseq base.HeaderValue) *base.Response {
	ss := sc.currentSession()
	if ss == nil {
		return base.NewResponseError(cseq, base.StatusSessionNotFound)
	}

	id := ss.id
	ss.close()

	return base.NewResponseTeardown(cseq, id)
}

func (sc *serverConn) handleParameter(req *base.Request, cseq base.HeaderValue) *base.Response {
	if sc.state != connStatePlaying && sc.state != connStatePaused {
		return base.NewResponseError(cseq, base.StatusMethodNotValidInThisState)
	}

	if _, ok := sc.checkSession(req, true); !ok {
		return base.NewResponseError(cseq, base.StatusSessionNotFound)
	}

	return base.NewResponseOK(cseq)
}
