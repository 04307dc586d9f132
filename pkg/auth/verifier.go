// Package auth contains RTSP authentication helpers.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/bluenviron/rtspcore/pkg/base"
	"github.com/bluenviron/rtspcore/pkg/headers"
)

const (
	defaultNonceTTL = 60 * time.Second
)

func md5Hex(in string) string {
	h := md5.New()
	h.Write([]byte(in))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateNonce generates a nonce.
func GenerateNonce() (string, error) {
	byts := make([]byte, 16)
	_, err := rand.Read(byts)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(byts), nil
}

// VerifyMethod is a verification method.
type VerifyMethod int

// verification methods.
const (
	VerifyMethodBasic VerifyMethod = iota
	VerifyMethodDigestMD5
)

// ErrNeedsChallenge is returned by Verifier.Verify when the request
// carries no Authorization header and must be challenged.
type ErrNeedsChallenge struct{}

// Error implements the error interface.
func (e ErrNeedsChallenge) Error() string {
	return "credentials not provided"
}

// ErrStaleNonce is returned by Verifier.Verify when the nonce has
// expired and the client must retry with a fresh one.
type ErrStaleNonce struct{}

// Error implements the error interface.
func (e ErrStaleNonce) Error() string {
	return "stale nonce"
}

// Verifier verifies the credentials of incoming requests.
// It holds the per-connection Digest state: the current nonce, its
// creation time and the nonce counts already seen.
type Verifier struct {
	// username.
	User string

	// password.
	Pass string

	// realm.
	Realm string

	// verification method.
	Method VerifyMethod

	// validity period of a Digest nonce (optional).
	// It defaults to 60 seconds.
	NonceTTL time.Duration

	// time source, overridable for testing (optional).
	TimeNow func() time.Time

	nonce        string
	nonceCreated time.Time
	seenNC       map[string]uint32
	stale        bool
}

// Initialize initializes a Verifier.
func (v *Verifier) Initialize() error {
	if v.NonceTTL == 0 {
		v.NonceTTL = defaultNonceTTL
	}
	if v.TimeNow == nil {
		v.TimeNow = time.Now
	}

	return v.rotateNonce()
}

func (v *Verifier) rotateNonce() error {
	nonce, err := GenerateNonce()
	if err != nil {
		return err
	}

	v.nonce = nonce
	v.nonceCreated = v.TimeNow()
	v.seenNC = make(map[string]uint32)
	return nil
}

// Header generates the WWW-Authenticate challenge corresponding to the
// verifier state. The stale flag is set once after a nonce rotation.
func (v *Verifier) Header() base.HeaderValue {
	if v.Method == VerifyMethodBasic {
		return headers.Authenticate{
			Method: headers.AuthBasic,
			Realm:  v.Realm,
		}.Marshal()
	}

	qop := "auth"
	h := headers.Authenticate{
		Method: headers.AuthDigest,
		Realm:  v.Realm,
		Nonce:  v.nonce,
		Qop:    &qop,
	}

	if v.stale {
		staleStr := "true"
		h.Stale = &staleStr
		v.stale = false
	}

	return h.Marshal()
}

// Verify verifies the credentials of a request.
func (v *Verifier) Verify(req *base.Request) error {
	if len(req.Header["Authorization"]) == 0 {
		return ErrNeedsChallenge{}
	}

	var auth headers.Authorization
	err := auth.Unmarshal(req.Header["Authorization"])
	if err != nil {
		return err
	}

	switch {
	case auth.Method == headers.AuthBasic && v.Method == VerifyMethodBasic:
		return v.verifyBasic(&auth)

	case auth.Method == headers.AuthDigest && v.Method == VerifyMethodDigestMD5:
		return v.verifyDigest(req, &auth)
	}

	return fmt.Errorf("no supported authentication methods found")
}

func (v *Verifier) verifyBasic(auth *headers.Authorization) error {
	userOK := subtle.ConstantTimeCompare([]byte(auth.BasicUser), []byte(v.User))
	passOK := subtle.ConstantTimeCompare([]byte(auth.BasicPass), []byte(v.Pass))

	if userOK&passOK != 1 {
		return fmt.Errorf("authentication failed")
	}

	return nil
}

func (v *Verifier) verifyDigest(req *base.Request, auth *headers.Authorization) error {
	// rotate the nonce when it has outlived its TTL; the client is
	// re-challenged with stale=true and must retry with the new nonce.
	if v.TimeNow().Sub(v.nonceCreated) > v.NonceTTL {
		err := v.rotateNonce()
		if err != nil {
			return err
		}
		v.stale = true
		return ErrStaleNonce{}
	}

	if auth.Nonce != v.nonce {
		return fmt.Errorf("wrong nonce")
	}

	if auth.Realm != v.Realm {
		return fmt.Errorf("wrong realm")
	}

	if auth.Username != v.User {
		return fmt.Errorf("authentication failed")
	}

	if auth.URI != req.URL.String() {
		return fmt.Errorf("wrong URL")
	}

	if auth.Qop == nil || *auth.Qop != "auth" {
		return fmt.Errorf("unsupported qop")
	}

	if auth.Cnonce == nil || auth.NonceCount == nil {
		return fmt.Errorf("cnonce or nonce count is missing")
	}

	nc64, err := strconv.ParseUint(*auth.NonceCount, 16, 32)
	if err != nil {
		return fmt.Errorf("invalid nonce count")
	}
	nc := uint32(nc64)

	// replay defense: the nonce count must strictly increase for a
	// given (username, cnonce, nonce) tuple.
	replayKey := auth.Username + ":" + *auth.Cnonce + ":" + auth.Nonce
	if prev, ok := v.seenNC[replayKey]; ok && nc <= prev {
		return fmt.Errorf("nonce count replayed")
	}

	ha1 := md5Hex(v.User + ":" + v.Realm + ":" + v.Pass)
	ha2 := md5Hex(string(req.Method) + ":" + auth.URI)
	response := md5Hex(ha1 + ":" + auth.Nonce + ":" + *auth.NonceCount +
		":" + *auth.Cnonce + ":" + *auth.Qop + ":" + ha2)

	if auth.Response != response {
		return fmt.Errorf("authentication failed")
	}

	v.seenNC[replayKey] = nc

	return nil
}
