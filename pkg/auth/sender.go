package auth

import (
	"fmt"

	"github.com/bluenviron/rtspcore/pkg/base"
	"github.com/bluenviron/rtspcore/pkg/headers"
)

// Sender allows to send credentials.
// It requires a WWW-Authenticate header (provided by the server)
// and a set of credentials.
type Sender struct {
	// WWW-Authenticate header of the server.
	WWWAuth base.HeaderValue

	// username.
	User string

	// password.
	Pass string

	authHeader *headers.Authenticate
	nonceCount uint32
}

// Initialize initializes a Sender.
func (se *Sender) Initialize() error {
	for _, v := range se.WWWAuth {
		var auth headers.Authenticate
		err := auth.Unmarshal(base.HeaderValue{v})
		if err != nil {
			continue // ignore unrecognized headers
		}

		// prefer Digest over Basic
		if se.authHeader == nil || se.authHeader.Method == headers.AuthBasic {
			ah := auth
			se.authHeader = &ah
		}
	}

	if se.authHeader == nil {
		return fmt.Errorf("no authentication methods available")
	}

	return nil
}

// AddAuthorization adds the Authorization header to a Request.
func (se *Sender) AddAuthorization(req *base.Request) {
	urStr := req.URL.CloneWithoutCredentials().String()

	h := headers.Authorization{
		Method: se.authHeader.Method,
	}

	if se.authHeader.Method == headers.AuthBasic {
		h.BasicUser = se.User
		h.BasicPass = se.Pass
	} else { // digest
		h.Username = se.User
		h.Realm = se.authHeader.Realm
		h.Nonce = se.authHeader.Nonce
		h.URI = urStr

		ha1 := md5Hex(se.User + ":" + se.authHeader.Realm + ":" + se.Pass)
		ha2 := md5Hex(string(req.Method) + ":" + urStr)

		if se.authHeader.Qop != nil && *se.authHeader.Qop == "auth" {
			se.nonceCount++
			nc := fmt.Sprintf("%08x", se.nonceCount)

			cnonce, _ := GenerateNonce()
			cnonce = cnonce[:16]

			qop := "auth"
			h.Cnonce = &cnonce
			h.NonceCount = &nc
			h.Qop = &qop
			h.Response = md5Hex(ha1 + ":" + se.authHeader.Nonce + ":" + nc +
				":" + cnonce + ":" + qop + ":" + ha2)
		} else {
			h.Response = md5Hex(ha1 + ":" + se.authHeader.Nonce + ":" + ha2)
		}
	}

	if req.Header == nil {
		req.Header = make(base.Header)
	}

	req.Header["Authorization"] = h.Marshal()
}
