package rtspcore

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bluenviron/rtspcore/pkg/liberrors"
)

const (
	supervisorTick = 5 * time.Second
)

// ServerConfig is the configuration of a Server.
type ServerConfig struct {
	// listen address (optional). It defaults to "0.0.0.0".
	Host string

	// listen port (optional). It defaults to 554.
	Port int

	// timeout of idle sessions (optional). It defaults to 60 seconds.
	// The supervisor runs on a fixed 5-second tick; timeouts shorter
	// than the tick are not honored sub-tick.
	SessionTimeout time.Duration

	// first port of the range used for RTP/RTCP pairs (optional).
	// It defaults to 10000.
	RTPPortStart int

	// last port of the range used for RTP/RTCP pairs (optional).
	// It defaults to 20000.
	RTPPortEnd int

	// enable authentication (optional).
	AuthEnabled bool

	// use Digest instead of Basic authentication (optional).
	AuthDigest bool

	// credentials (mandatory when AuthEnabled is set).
	AuthUsername string
	AuthPassword string

	// authentication realm (optional). It defaults to "RTSP Server".
	AuthRealm string

	// validity period of Digest nonces (optional).
	// It defaults to 60 seconds.
	NonceTTL time.Duration

	// size of per-subscriber frame queues (optional). It defaults to 30.
	// When a queue is full, the oldest frame is dropped.
	FrameQueueSize int
}

func (c *ServerConfig) fillDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 554
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 60 * time.Second
	}
	if c.RTPPortStart == 0 {
		c.RTPPortStart = 10000
	}
	if c.RTPPortEnd == 0 {
		c.RTPPortEnd = 20000
	}
	if c.AuthRealm == "" {
		c.AuthRealm = "RTSP Server"
	}
	if c.NonceTTL == 0 {
		c.NonceTTL = 60 * time.Second
	}
	if c.FrameQueueSize == 0 {
		c.FrameQueueSize = 30
	}
}

// ServerStats is a snapshot of server statistics.
type ServerStats struct {
	RequestsTotal   uint64
	AuthChallenges  uint64
	AuthFailures    uint64
	SessionsCreated uint64
	SessionsClosed  uint64
	FramesPushed    uint64
	RTPPacketsSent  uint64
	RTPBytesSent    uint64
}

// FrameInput pushes frames into a single path.
type FrameInput interface {
	PushFrame(frame *VideoFrame) error
}

// Server is a RTSP server.
// It serves registered paths to RTSP clients; frames are pushed into
// paths by the application.
type Server struct {
	// configuration.
	Config ServerConfig

	// called when a client starts reading a path (optional).
	OnClientConnect func(path string, clientIP string)

	// called when a client stops reading a path (optional).
	OnClientDisconnect func(path string, clientIP string)

	mutex         sync.Mutex
	running       bool
	ln            net.Listener
	paths         map[string]*serverStream
	conns         map[*serverConn]struct{}
	connGroup     *errgroup.Group
	terminate     chan struct{}
	done          chan struct{}
	rtpPortCursor int

	requestsTotal   uint64
	authChallenges  uint64
	authFailures    uint64
	sessionsCreated uint64
	sessionsClosed  uint64
	framesPushed    uint64
	rtpPacketsSent  uint64
	rtpBytesSent    uint64
}

// Start starts the server.
func (s *Server) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return fmt.Errorf("already running")
	}

	s.Config.fillDefaults()

	if s.Config.AuthEnabled && s.Config.AuthUsername == "" {
		return fmt.Errorf("authentication is enabled but no credentials are set")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.Config.Host, strconv.Itoa(s.Config.Port)))
	if err != nil {
		logf(LogLevelError, "server: unable to listen on %s:%d: %v", s.Config.Host, s.Config.Port, err)
		return err
	}

	s.ln = ln
	if s.paths == nil {
		s.paths = make(map[string]*serverStream)
	}
	s.conns = make(map[*serverConn]struct{})
	s.connGroup = &errgroup.Group{}
	s.terminate = make(chan struct{})
	s.done = make(chan struct{})
	s.rtpPortCursor = s.Config.RTPPortStart
	s.running = true

	go s.run()

	logf(LogLevelInfo, "server: listening on %s:%d", s.Config.Host, s.Config.Port)

	return nil
}

// IsRunning reports whether the server is running.
func (s *Server) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

// Stop stops the server, waiting for all resources to be released.
func (s *Server) Stop() {
	s.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout stops the server gracefully: it stops accepting,
// closes every connection socket to unblock readers, and waits for all
// per-connection handlers to return within the given deadline.
// It reports whether every handler returned in time; when it returns
// false, handlers are left detached but no socket stays open.
func (s *Server) StopWithTimeout(deadline time.Duration) bool {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return true
	}
	s.running = false
	close(s.terminate)
	s.ln.Close()

	conns := make([]*serverConn, 0, len(s.conns))
	for sc := range s.conns {
		conns = append(conns, sc)
	}
	connGroup := s.connGroup
	done := s.done
	s.mutex.Unlock()

	// close sockets to unblock per-connection readers
	for _, sc := range conns {
		sc.nconn.Close()
	}

	joined := make(chan struct{})
	go func() {
		connGroup.Wait() //nolint:errcheck
		<-done
		close(joined)
	}()

	ok := true
	select {
	case <-joined:
	case <-time.After(deadline):
		ok = false
	}

	// drain the path registry
	s.mutex.Lock()
	paths := s.paths
	s.paths = make(map[string]*serverStream)
	s.mutex.Unlock()

	for _, st := range paths {
		st.close()
	}

	logf(LogLevelInfo, "server: stopped")

	return ok
}

// run is the accept loop.
func (s *Server) run() {
	defer close(s.done)

	go s.runSupervisor()

	for {
		nconn, err := s.ln.Accept()
		if err != nil {
			// the listener has been closed
			return
		}

		sc := &serverConn{
			s:     s,
			nconn: nconn,
		}
		sc.initialize()

		s.mutex.Lock()
		if !s.running {
			s.mutex.Unlock()
			nconn.Close()
			return
		}
		s.conns[sc] = struct{}{}
		s.connGroup.Go(func() error {
			sc.run()

			s.mutex.Lock()
			delete(s.conns, sc)
			s.mutex.Unlock()
			return nil
		})
		s.mutex.Unlock()
	}
}

// runSupervisor closes sessions whose activity is older than the
// session timeout, and sessions whose send loop has ended.
func (s *Server) runSupervisor() {
	t := time.NewTicker(supervisorTick)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			now := time.Now()

			s.mutex.Lock()
			var expired []*serverSession
			for sc := range s.conns {
				if ss := sc.currentSession(); ss != nil {
					sendLoopEnded := false
					select {
					case <-ss.done:
						sendLoopEnded = true
					default:
					}

					if sendLoopEnded || now.Sub(ss.lastActivity()) > s.Config.SessionTimeout {
						expired = append(expired, ss)
					}
				}
			}
			s.mutex.Unlock()

			for _, ss := range expired {
				logf(LogLevelInfo, "server: reaping session %s", ss.id)
				ss.close()
			}

		case <-s.terminate:
			return
		}
	}
}

// AddPath registers a path.
func (s *Server) AddPath(conf PathConfig) error {
	if conf.Name == "" || conf.Name[0] != '/' {
		return fmt.Errorf("path name must begin with a slash")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.paths == nil {
		s.paths = make(map[string]*serverStream)
	}

	if _, ok := s.paths[conf.Name]; ok {
		return fmt.Errorf("path '%s' already exists", conf.Name)
	}

	st := &serverStream{
		s:    s,
		conf: conf,
	}
	st.initialize()
	s.paths[conf.Name] = st

	logf(LogLevelInfo, "server: path %s added", conf.Name)

	return nil
}

// RemovePath unregisters a path, draining its subscribers.
func (s *Server) RemovePath(name string) error {
	s.mutex.Lock()
	st, ok := s.paths[name]
	if ok {
		delete(s.paths, name)
	}
	s.mutex.Unlock()

	if !ok {
		return liberrors.ErrServerPathNotFound{Path: name}
	}

	st.close()

	logf(LogLevelInfo, "server: path %s removed", name)

	return nil
}

func (s *Server) findPath(name string) *serverStream {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.paths[name]
}

// PushFrame pushes a video frame into a path, broadcasting it to every
// subscriber. It never blocks on a slow subscriber.
func (s *Server) PushFrame(name string, frame *VideoFrame) error {
	st := s.findPath(name)
	if st == nil {
		return liberrors.ErrServerPathNotFound{Path: name}
	}

	st.writeFrame(frame)
	atomic.AddUint64(&s.framesPushed, 1)

	return nil
}

// PushH264 pushes a raw H264 Annex-B payload into a path.
func (s *Server) PushH264(name string, data []byte, pts time.Duration, isKeyframe bool) error {
	return s.pushData(name, CodecH264, data, pts, isKeyframe)
}

// PushH265 pushes a raw H265 Annex-B payload into a path.
func (s *Server) PushH265(name string, data []byte, pts time.Duration, isKeyframe bool) error {
	return s.pushData(name, CodecH265, data, pts, isKeyframe)
}

func (s *Server) pushData(name string, codec Codec, data []byte, pts time.Duration, isKeyframe bool) error {
	st := s.findPath(name)
	if st == nil {
		return liberrors.ErrServerPathNotFound{Path: name}
	}

	if st.conf.Codec != codec {
		return fmt.Errorf("path '%s' does not carry %v", name, codec)
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	typ := FrameTypeP
	if isKeyframe {
		typ = FrameTypeIDR
	}

	frame := &VideoFrame{
		Codec:  codec,
		Type:   typ,
		Data:   buf,
		PTS:    pts,
		DTS:    pts,
		Width:  st.conf.Width,
		Height: st.conf.Height,
		FPS:    st.conf.FPS,
	}

	st.writeFrame(frame)
	atomic.AddUint64(&s.framesPushed, 1)

	return nil
}

type frameInput struct {
	s    *Server
	name string
}

func (fi *frameInput) PushFrame(frame *VideoFrame) error {
	return fi.s.PushFrame(fi.name, frame)
}

// FrameInput returns a frame input bound to a path.
func (s *Server) FrameInput(name string) (FrameInput, error) {
	if s.findPath(name) == nil {
		return nil, liberrors.ErrServerPathNotFound{Path: name}
	}
	return &frameInput{s: s, name: name}, nil
}

// SetAuth enables Basic authentication.
func (s *Server) SetAuth(username string, password string, realm string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.Config.AuthEnabled = true
	s.Config.AuthDigest = false
	s.Config.AuthUsername = username
	s.Config.AuthPassword = password
	if realm != "" {
		s.Config.AuthRealm = realm
	}
}

// SetAuthDigest enables Digest authentication.
func (s *Server) SetAuthDigest(username string, password string, realm string) {
	s.SetAuth(username, password, realm)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Config.AuthDigest = true
}

// Stats returns a snapshot of server statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		RequestsTotal:   atomic.LoadUint64(&s.requestsTotal),
		AuthChallenges:  atomic.LoadUint64(&s.authChallenges),
		AuthFailures:    atomic.LoadUint64(&s.authFailures),
		SessionsCreated: atomic.LoadUint64(&s.sessionsCreated),
		SessionsClosed:  atomic.LoadUint64(&s.sessionsClosed),
		FramesPushed:    atomic.LoadUint64(&s.framesPushed),
		RTPPacketsSent:  atomic.LoadUint64(&s.rtpPacketsSent),
		RTPBytesSent:    atomic.LoadUint64(&s.rtpBytesSent),
	}
}

// allocateRTPPair binds a free (port, port+1) UDP pair inside the
// configured range. The scan starts after the pair handed out by the
// previous allocation and wraps around to the start of the range.
func (s *Server) allocateRTPPair() (*net.UDPConn, *net.UDPConn, int, error) {
	s.mutex.Lock()
	start := s.Config.RTPPortStart
	end := s.Config.RTPPortEnd
	cursor := s.rtpPortCursor
	s.mutex.Unlock()

	if cursor < start || cursor >= end {
		cursor = start
	}
	cursor = (cursor + 1) / 2 * 2 // keep RTP ports even

	attempts := (end - start) / 2
	for i := 0; i < attempts; i++ {
		port := cursor
		cursor += 2
		if cursor >= end {
			cursor = start
		}

		rtpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			continue
		}

		rtcpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port + 1})
		if err != nil {
			rtpConn.Close()
			continue
		}

		s.mutex.Lock()
		s.rtpPortCursor = cursor
		s.mutex.Unlock()

		return rtpConn, rtcpConn, port, nil
	}

	return nil, nil, 0, liberrors.ErrServerInternal{Message: "no free RTP port pairs"}
}
