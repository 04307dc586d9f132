package base

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

var casesRequest = []struct {
	name string
	byts []byte
	req  Request
}{
	{
		"options",
		[]byte("OPTIONS rtsp://example.com/media.mp4 RTSP/1.0\r\n" +
			"CSeq: 1\r\n" +
			"Require: implicit-play\r\n" +
			"\r\n"),
		Request{
			Method: Options,
			URL:    MustParseURL("rtsp://example.com/media.mp4"),
			Header: Header{
				"CSeq":    HeaderValue{"1"},
				"Require": HeaderValue{"implicit-play"},
			},
		},
	},
	{
		"announce with body",
		[]byte("ANNOUNCE rtsp://example.com/media.mp4 RTSP/1.0\r\n" +
			"CSeq: 7\r\n" +
			"Content-Length: 14\r\n" +
			"Content-Type: application/sdp\r\n" +
			"\r\n" +
			"v=0\r\no=- 0 0\r\n"),
		Request{
			Method: Announce,
			URL:    MustParseURL("rtsp://example.com/media.mp4"),
			Header: Header{
				"CSeq":           HeaderValue{"7"},
				"Content-Length": HeaderValue{"14"},
				"Content-Type":   HeaderValue{"application/sdp"},
			},
			Body: []byte("v=0\r\no=- 0 0\r\n"),
		},
	},
}

func TestRequestUnmarshal(t *testing.T) {
	for _, ca := range casesRequest {
		t.Run(ca.name, func(t *testing.T) {
			var req Request
			err := req.Unmarshal(bufio.NewReader(bytes.NewBuffer(ca.byts)))
			require.NoError(t, err)
			require.Equal(t, ca.req, req)
		})
	}
}

func TestRequestMarshal(t *testing.T) {
	for _, ca := range casesRequest {
		t.Run(ca.name, func(t *testing.T) {
			byts, err := ca.req.Marshal()
			require.NoError(t, err)

			var req Request
			err = req.Unmarshal(bufio.NewReader(bytes.NewBuffer(byts)))
			require.NoError(t, err)
			require.Equal(t, ca.req, req)
		})
	}
}

func TestRequestHeaderNormalization(t *testing.T) {
	byts := []byte("DESCRIBE rtsp://example.com/stream RTSP/1.0\r\n" +
		"cseq: 2\r\n" +
		"www-authenticate: Basic realm=\"x\"\r\n" +
		"content-length: 0\r\n" +
		"\r\n")

	var req Request
	err := req.Unmarshal(bufio.NewReader(bytes.NewBuffer(byts)))
	require.NoError(t, err)
	require.Equal(t, HeaderValue{"2"}, req.Header["CSeq"])
	require.Equal(t, HeaderValue{"Basic realm=\"x\""}, req.Header["WWW-Authenticate"])
	require.Equal(t, HeaderValue{"0"}, req.Header["Content-Length"])
}

func TestRequestUnmarshalErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		byts []byte
	}{
		{"empty", []byte("\r\n")},
		{"wrong protocol", []byte("OPTIONS rtsp://example.com RTSP/2.0\r\n\r\n")},
		{"invalid url", []byte("OPTIONS http://example.com RTSP/1.0\r\n\r\n")},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var req Request
			err := req.Unmarshal(bufio.NewReader(bytes.NewBuffer(ca.byts)))
			require.Error(t, err)
		})
	}
}
