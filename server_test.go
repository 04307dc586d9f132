package rtspcore

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspcore/pkg/base"
	"github.com/bluenviron/rtspcore/pkg/headers"
)

func testFrameH264() *VideoFrame {
	return &VideoFrame{
		Codec: CodecH264,
		Type:  FrameTypeIDR,
		Data: []byte{
			0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x0A,
			0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
			0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21, 0xFF,
		},
		PTS:    0,
		Width:  640,
		Height: 480,
		FPS:    30,
	}
}

func TestServerStartStop(t *testing.T) {
	s := &Server{
		Config: ServerConfig{
			Host: "127.0.0.1",
			Port: 8870,
		},
	}
	err := s.Start()
	require.NoError(t, err)
	require.True(t, s.IsRunning())

	require.True(t, s.StopWithTimeout(5*time.Second))
	require.False(t, s.IsRunning())
}

func TestServerStartTwice(t *testing.T) {
	s := &Server{
		Config: ServerConfig{Host: "127.0.0.1", Port: 8871},
	}
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Error(t, s.Start())
}

func TestServerPaths(t *testing.T) {
	s := &Server{
		Config: ServerConfig{Host: "127.0.0.1", Port: 8872},
	}
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.AddPath(PathConfig{Name: "/live/cam1", Codec: CodecH264}))
	require.Error(t, s.AddPath(PathConfig{Name: "/live/cam1", Codec: CodecH264}))
	require.Error(t, s.AddPath(PathConfig{Name: "no-slash", Codec: CodecH264}))

	require.NoError(t, s.PushFrame("/live/cam1", testFrameH264()))
	require.Error(t, s.PushFrame("/unknown", testFrameH264()))

	fi, err := s.FrameInput("/live/cam1")
	require.NoError(t, err)
	require.NoError(t, fi.PushFrame(testFrameH264()))

	_, err = s.FrameInput("/unknown")
	require.Error(t, err)

	require.Equal(t, uint64(2), s.Stats().FramesPushed)

	require.NoError(t, s.RemovePath("/live/cam1"))
	require.Error(t, s.RemovePath("/live/cam1"))
}

func TestServerParameterSetExtraction(t *testing.T) {
	s := &Server{
		Config: ServerConfig{Host: "127.0.0.1", Port: 8873},
	}
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.AddPath(PathConfig{Name: "/live/cam1", Codec: CodecH264}))

	// pushing a keyframe populates SPS / PPS from its NALUs
	require.NoError(t, s.PushH264("/live/cam1",
		testFrameH264().Data, 0, true))

	st := s.findPath("/live/cam1")
	require.NotNil(t, st)

	st.mutex.Lock()
	sps := st.conf.SPS
	pps := st.conf.PPS
	st.mutex.Unlock()

	require.Equal(t, []byte{0x67, 0x42, 0x00, 0x0A}, sps)
	require.Equal(t, []byte{0x68, 0xCE, 0x38, 0x80}, pps)
}

// rawConn is a barebones RTSP client used to exercise the server
// state machine directly.
type rawConn struct {
	nconn net.Conn
	br    *bufio.Reader
	cseq  int
}

func dialRaw(t *testing.T, addr string) *rawConn {
	t.Helper()

	nconn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	return &rawConn{
		nconn: nconn,
		br:    bufio.NewReader(nconn),
	}
}

func (rc *rawConn) close() {
	rc.nconn.Close()
}

func (rc *rawConn) do(t *testing.T, method base.Method, u string, header base.Header) *base.Response {
	t.Helper()

	if header == nil {
		header = make(base.Header)
	}
	rc.cseq++
	header["CSeq"] = base.HeaderValue{strconv.Itoa(rc.cseq)}

	req := base.Request{
		Method: method,
		URL:    base.MustParseURL(u),
		Header: header,
	}
	byts, err := req.Marshal()
	require.NoError(t, err)

	_, err = rc.nconn.Write(byts)
	require.NoError(t, err)

	rc.nconn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var res base.Response
	err = res.Unmarshal(rc.br)
	require.NoError(t, err)
	return &res
}

func TestServerStateMachine(t *testing.T) {
	s := &Server{
		Config: ServerConfig{Host: "127.0.0.1", Port: 8874},
	}
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.AddPath(PathConfig{Name: "/test", Codec: CodecH264}))

	rc := dialRaw(t, "127.0.0.1:8874")
	defer rc.close()

	u := "rtsp://127.0.0.1:8874/test"

	res := rc.do(t, base.Options, u, nil)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.NotEmpty(t, res.Header["Public"])

	// PLAY before SETUP is not valid
	res = rc.do(t, base.Play, u, nil)
	require.Equal(t, base.StatusMethodNotValidInThisState, res.StatusCode)

	// unknown methods are not implemented
	res = rc.do(t, base.Method("FOO"), u, nil)
	require.Equal(t, base.StatusNotImplemented, res.StatusCode)

	// DESCRIBE of an unknown path
	res = rc.do(t, base.Describe, "rtsp://127.0.0.1:8874/nope", nil)
	require.Equal(t, base.StatusNotFound, res.StatusCode)

	res = rc.do(t, base.Describe, u, nil)
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"application/sdp"}, res.Header["Content-Type"])
	require.NotEmpty(t, res.Body)

	// SETUP with the control segment appended
	th := headers.Transport{
		Protocol:       headers.TransportProtocolTCP,
		InterleavedIDs: &[2]int{0, 1},
	}
	res = rc.do(t, base.Setup, u+"/stream", base.Header{
		"Transport": th.Marshal(),
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	var sh headers.Session
	require.NoError(t, sh.Unmarshal(res.Header["Session"]))
	require.NotEmpty(t, sh.Session)

	// a second SETUP on the same connection is an aggregate
	res = rc.do(t, base.Setup, u+"/stream", base.Header{
		"Transport": th.Marshal(),
	})
	require.Equal(t, base.StatusAggregateOperationNotAllowed, res.StatusCode)

	// PLAY with a wrong session id
	res = rc.do(t, base.Play, u, base.Header{
		"Session": base.HeaderValue{"wrong"},
	})
	require.Equal(t, base.StatusSessionNotFound, res.StatusCode)

	res = rc.do(t, base.Play, u, base.Header{
		"Session": base.HeaderValue{sh.Session},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)
	require.Equal(t, base.HeaderValue{"npt=0.000-"}, res.Header["Range"])

	// PLAY is idempotent
	res = rc.do(t, base.Play, u, base.Header{
		"Session": base.HeaderValue{sh.Session},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = rc.do(t, base.Pause, u, base.Header{
		"Session": base.HeaderValue{sh.Session},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = rc.do(t, base.GetParameter, u, base.Header{
		"Session": base.HeaderValue{sh.Session},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	res = rc.do(t, base.Teardown, u, base.Header{
		"Session": base.HeaderValue{sh.Session},
	})
	require.Equal(t, base.StatusOK, res.StatusCode)

	stats := s.Stats()
	require.Equal(t, uint64(1), stats.SessionsCreated)
	require.Equal(t, uint64(1), stats.SessionsClosed)
	require.NotZero(t, stats.RequestsTotal)
}

func TestServerCSeqMissing(t *testing.T) {
	s := &Server{
		Config: ServerConfig{Host: "127.0.0.1", Port: 8875},
	}
	require.NoError(t, s.Start())
	defer s.Stop()

	nconn, err := net.Dial("tcp", "127.0.0.1:8875")
	require.NoError(t, err)
	defer nconn.Close()

	_, err = nconn.Write([]byte("OPTIONS rtsp://127.0.0.1:8875/ RTSP/1.0\r\n\r\n"))
	require.NoError(t, err)

	nconn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var res base.Response
	err = res.Unmarshal(bufio.NewReader(nconn))
	require.NoError(t, err)
	require.Equal(t, base.StatusBadRequest, res.StatusCode)
}
