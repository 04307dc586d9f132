package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/rtspcore/pkg/base"
	"github.com/bluenviron/rtspcore/pkg/headers"
)

func digestRequest(t *testing.T, v *Verifier, nonce string, nc string, cnonce string) *base.Request {
	t.Helper()

	uri := "rtsp://h/s"
	qop := "auth"

	response := md5Hex(md5Hex("u:R:p") + ":" + nonce + ":" + nc +
		":" + cnonce + ":auth:" + md5Hex("DESCRIBE:"+uri))

	h := headers.Authorization{
		Method:     headers.AuthDigest,
		Username:   "u",
		Realm:      "R",
		Nonce:      nonce,
		URI:        uri,
		Response:   response,
		Cnonce:     &cnonce,
		NonceCount: &nc,
		Qop:        &qop,
	}

	return &base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL(uri),
		Header: base.Header{
			"Authorization": h.Marshal(),
		},
	}
}

func currentNonce(t *testing.T, v *Verifier) string {
	t.Helper()

	var wwwAuth headers.Authenticate
	err := wwwAuth.Unmarshal(v.Header())
	require.NoError(t, err)
	return wwwAuth.Nonce
}

func TestVerifierBasic(t *testing.T) {
	v := &Verifier{
		User:   "user",
		Pass:   "pass",
		Realm:  "R",
		Method: VerifyMethodBasic,
	}
	err := v.Initialize()
	require.NoError(t, err)

	req := &base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://h/s"),
		Header: base.Header{
			"Authorization": headers.Authorization{
				Method:    headers.AuthBasic,
				BasicUser: "user",
				BasicPass: "pass",
			}.Marshal(),
		},
	}
	require.NoError(t, v.Verify(req))

	req.Header["Authorization"] = headers.Authorization{
		Method:    headers.AuthBasic,
		BasicUser: "user",
		BasicPass: "wrong",
	}.Marshal()
	require.Error(t, v.Verify(req))
}

func TestVerifierMissingCredentials(t *testing.T) {
	v := &Verifier{User: "u", Pass: "p", Realm: "R", Method: VerifyMethodDigestMD5}
	err := v.Initialize()
	require.NoError(t, err)

	err = v.Verify(&base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://h/s"),
		Header: base.Header{},
	})
	require.ErrorAs(t, err, &ErrNeedsChallenge{})
}

func TestVerifierDigest(t *testing.T) {
	v := &Verifier{User: "u", Pass: "p", Realm: "R", Method: VerifyMethodDigestMD5}
	err := v.Initialize()
	require.NoError(t, err)

	nonce := currentNonce(t, v)

	// the server accepts exactly the RFC 2617 qop=auth response
	req := digestRequest(t, v, nonce, "00000001", "abcd1234")
	require.NoError(t, v.Verify(req))

	// a repeated nonce count for the same tuple is rejected
	req = digestRequest(t, v, nonce, "00000001", "abcd1234")
	require.Error(t, v.Verify(req))

	// a strictly greater nonce count is accepted
	req = digestRequest(t, v, nonce, "00000002", "abcd1234")
	require.NoError(t, v.Verify(req))

	// a wrong password fails
	uri := "rtsp://h/s"
	nc := "00000003"
	cnonce := "abcd1234"
	qop := "auth"
	response := md5Hex(md5Hex("u:R:wrong") + ":" + nonce + ":" + nc +
		":" + cnonce + ":auth:" + md5Hex("DESCRIBE:"+uri))
	h := headers.Authorization{
		Method:     headers.AuthDigest,
		Username:   "u",
		Realm:      "R",
		Nonce:      nonce,
		URI:        uri,
		Response:   response,
		Cnonce:     &cnonce,
		NonceCount: &nc,
		Qop:        &qop,
	}
	require.Error(t, v.Verify(&base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL(uri),
		Header: base.Header{"Authorization": h.Marshal()},
	}))
}

func TestVerifierStaleNonce(t *testing.T) {
	now := time.Date(2020, time.March, 1, 10, 0, 0, 0, time.UTC)

	v := &Verifier{
		User:     "u",
		Pass:     "p",
		Realm:    "R",
		Method:   VerifyMethodDigestMD5,
		NonceTTL: 60 * time.Second,
		TimeNow: func() time.Time {
			return now
		},
	}
	err := v.Initialize()
	require.NoError(t, err)

	nonce := currentNonce(t, v)

	// the nonce outlives its TTL
	now = now.Add(61 * time.Second)

	req := digestRequest(t, v, nonce, "00000001", "abcd1234")
	err = v.Verify(req)
	require.ErrorAs(t, err, &ErrStaleNonce{})

	// the challenge carries stale=true exactly once
	var wwwAuth headers.Authenticate
	err = wwwAuth.Unmarshal(v.Header())
	require.NoError(t, err)
	require.NotNil(t, wwwAuth.Stale)
	require.Equal(t, "true", *wwwAuth.Stale)

	freshNonce := wwwAuth.Nonce
	require.NotEqual(t, nonce, freshNonce)

	// the retry with the fresh nonce is accepted
	req = digestRequest(t, v, freshNonce, "00000001", "abcd1234")
	require.NoError(t, v.Verify(req))

	var wwwAuth2 headers.Authenticate
	err = wwwAuth2.Unmarshal(v.Header())
	require.NoError(t, err)
	require.Nil(t, wwwAuth2.Stale)
}

func TestSenderDigest(t *testing.T) {
	v := &Verifier{User: "u", Pass: "p", Realm: "R", Method: VerifyMethodDigestMD5}
	err := v.Initialize()
	require.NoError(t, err)

	se := &Sender{
		WWWAuth: v.Header(),
		User:    "u",
		Pass:    "p",
	}
	err = se.Initialize()
	require.NoError(t, err)

	req := &base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://h/s"),
		Header: base.Header{},
	}
	se.AddAuthorization(req)

	require.NoError(t, v.Verify(req))

	// each request carries a fresh, increasing nonce count
	req2 := &base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://h/s"),
		Header: base.Header{},
	}
	se.AddAuthorization(req2)
	require.NoError(t, v.Verify(req2))
}

func TestSenderBasic(t *testing.T) {
	v := &Verifier{User: "u", Pass: "p", Realm: "R", Method: VerifyMethodBasic}
	err := v.Initialize()
	require.NoError(t, err)

	se := &Sender{
		WWWAuth: v.Header(),
		User:    "u",
		Pass:    "p",
	}
	err = se.Initialize()
	require.NoError(t, err)

	req := &base.Request{
		Method: base.Describe,
		URL:    base.MustParseURL("rtsp://h/s"),
		Header: base.Header{},
	}
	se.AddAuthorization(req)

	require.NoError(t, v.Verify(req))
}
