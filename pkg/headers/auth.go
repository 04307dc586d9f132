package headers

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bluenviron/rtspcore/pkg/base"
)

// AuthMethod is an authentication method.
type AuthMethod int

const (
	// AuthBasic is the Basic authentication method.
	AuthBasic AuthMethod = iota

	// AuthDigest is the Digest authentication method with the MD5 hash.
	AuthDigest
)

// Authenticate is a WWW-Authenticate header.
type Authenticate struct {
	// authentication method
	Method AuthMethod

	// realm
	Realm string

	//
	// Digest authentication fields
	//

	// nonce
	Nonce string

	// (optional) qop
	Qop *string

	// (optional) stale flag
	Stale *string

	// (optional) algorithm
	Algorithm *string
}

// Unmarshal decodes a WWW-Authenticate header.
func (h *Authenticate) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := v[0]

	i := strings.IndexByte(v0, ' ')
	if i < 0 {
		return fmt.Errorf("unable to split between method and keys (%v)", v0)
	}
	method, v0 := v0[:i], v0[i+1:]

	switch method {
	case "Basic":
		h.Method = AuthBasic

	case "Digest":
		h.Method = AuthDigest

	default:
		return fmt.Errorf("invalid method (%s)", method)
	}

	kvs, err := keyValParse(v0, ',')
	if err != nil {
		return err
	}

	for k, rv := range kvs {
		v := rv

		switch k {
		case "realm":
			h.Realm = v

		case "nonce":
			h.Nonce = v

		case "qop":
			h.Qop = &v

		case "stale":
			h.Stale = &v

		case "algorithm":
			h.Algorithm = &v
		}
	}

	if h.Realm == "" {
		return fmt.Errorf("realm is missing")
	}

	if h.Method == AuthDigest && h.Nonce == "" {
		return fmt.Errorf("nonce is missing")
	}

	return nil
}

// Marshal encodes a WWW-Authenticate header.
func (h Authenticate) Marshal() base.HeaderValue {
	if h.Method == AuthBasic {
		return base.HeaderValue{"Basic realm=\"" + h.Realm + "\""}
	}

	ret := "Digest realm=\"" + h.Realm + "\", nonce=\"" + h.Nonce + "\""

	if h.Qop != nil {
		ret += ", qop=\"" + *h.Qop + "\""
	}

	if h.Stale != nil {
		ret += ", stale=" + *h.Stale
	}

	if h.Algorithm != nil {
		ret += ", algorithm=\"" + *h.Algorithm + "\""
	}

	return base.HeaderValue{ret}
}

// Authorization is an Authorization header.
type Authorization struct {
	// authentication method
	Method AuthMethod

	//
	// Basic authentication fields
	//

	// user
	BasicUser string

	// password
	BasicPass string

	//
	// Digest authentication fields
	//

	// username
	Username string

	// realm
	Realm string

	// nonce
	Nonce string

	// URI
	URI string

	// response
	Response string

	// (optional) cnonce
	Cnonce *string

	// (optional) nonce count
	NonceCount *string

	// (optional) qop
	Qop *string

	// (optional) opaque
	Opaque *string
}

// Unmarshal decodes an Authorization header.
func (h *Authorization) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := v[0]

	i := strings.IndexByte(v0, ' ')
	if i < 0 {
		return fmt.Errorf("unable to split between method and keys (%v)", v0)
	}
	method, v0 := v0[:i], v0[i+1:]

	switch method {
	case "Basic":
		h.Method = AuthBasic

		tmp, err := base64.StdEncoding.DecodeString(v0)
		if err != nil {
			return fmt.Errorf("invalid value")
		}

		tmp2 := strings.SplitN(string(tmp), ":", 2)
		if len(tmp2) != 2 {
			return fmt.Errorf("invalid value")
		}

		h.BasicUser, h.BasicPass = tmp2[0], tmp2[1]

	case "Digest":
		h.Method = AuthDigest

		kvs, err := keyValParse(v0, ',')
		if err != nil {
			return err
		}

		realmReceived := false
		usernameReceived := false
		nonceReceived := false
		uriReceived := false
		responseReceived := false

		for k, rv := range kvs {
			v := rv

			switch k {
			case "realm":
				h.Realm = v
				realmReceived = true

			case "username":
				h.Username = v
				usernameReceived = true

			case "nonce":
				h.Nonce = v
				nonceReceived = true

			case "uri":
				h.URI = v
				uriReceived = true

			case "response":
				h.Response = v
				responseReceived = true

			case "cnonce":
				h.Cnonce = &v

			case "nc":
				h.NonceCount = &v

			case "qop":
				h.Qop = &v

			case "opaque":
				h.Opaque = &v
			}
		}

		if !realmReceived || !usernameReceived || !nonceReceived || !uriReceived || !responseReceived {
			return fmt.Errorf("one or more digest fields are missing")
		}

	default:
		return fmt.Errorf("invalid method (%s)", method)
	}

	return nil
}

// Marshal encodes an Authorization header.
func (h Authorization) Marshal() base.HeaderValue {
	if h.Method == AuthBasic {
		return base.HeaderValue{"Basic " +
			base64.StdEncoding.EncodeToString([]byte(h.BasicUser+":"+h.BasicPass))}
	}

	ret := "Digest " +
		"username=\"" + h.Username + "\", realm=\"" + h.Realm + "\", " +
		"nonce=\"" + h.Nonce + "\", uri=\"" + h.URI + "\", response=\"" + h.Response + "\""

	if h.Cnonce != nil {
		ret += ", cnonce=\"" + *h.Cnonce + "\""
	}

	if h.NonceCount != nil {
		ret += ", nc=" + *h.NonceCount
	}

	if h.Qop != nil {
		ret += ", qop=" + *h.Qop
	}

	if h.Opaque != nil {
		ret += ", opaque=\"" + *h.Opaque + "\""
	}

	return base.HeaderValue{ret}
}
