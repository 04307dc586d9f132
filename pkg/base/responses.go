package base

import (
	"strings"
)

// NewResponseOK allocates a 200 response echoing the given CSeq.
func NewResponseOK(cseq HeaderValue) *Response {
	return &Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq": cseq,
		},
	}
}

// NewResponseOptions allocates a 200 response advertising the given methods.
func NewResponseOptions(cseq HeaderValue, methods []Method) *Response {
	strs := make([]string, len(methods))
	for i, m := range methods {
		strs[i] = string(m)
	}

	return &Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq":   cseq,
			"Public": HeaderValue{strings.Join(strs, ", ")},
		},
	}
}

// NewResponseDescribe allocates a 200 response carrying a SDP body.
func NewResponseDescribe(cseq HeaderValue, contentBase string, sdp []byte) *Response {
	res := &Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq":         cseq,
			"Content-Type": HeaderValue{"application/sdp"},
		},
		Body: sdp,
	}

	if contentBase != "" {
		res.Header["Content-Base"] = HeaderValue{contentBase}
	}

	return res
}

// NewResponseSetup allocates a 200 response carrying session and transport headers.
func NewResponseSetup(cseq HeaderValue, session string, transport HeaderValue) *Response {
	return &Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq":      cseq,
			"Session":   HeaderValue{session},
			"Transport": transport,
		},
	}
}

// NewResponsePlay allocates a 200 response to a PLAY request.
func NewResponsePlay(cseq HeaderValue, session string) *Response {
	return &Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq":    cseq,
			"Session": HeaderValue{session},
			"Range":   HeaderValue{"npt=0.000-"},
		},
	}
}

// NewResponseTeardown allocates a 200 response to a TEARDOWN request.
func NewResponseTeardown(cseq HeaderValue, session string) *Response {
	res := &Response{
		StatusCode: StatusOK,
		Header: Header{
			"CSeq": cseq,
		},
	}

	if session != "" {
		res.Header["Session"] = HeaderValue{session}
	}

	return res
}

// NewResponseError allocates an error response with the given status code.
func NewResponseError(cseq HeaderValue, code StatusCode) *Response {
	res := &Response{
		StatusCode: code,
		Header:     Header{},
	}

	if cseq != nil {
		res.Header["CSeq"] = cseq
	}

	return res
}
