package base

import (
	"fmt"
	"net/url"
	"strings"
)

// URL is a RTSP URL.
// This is basically an HTTP URL with some additional functions to handle
// control attributes.
type URL url.URL

// ParseURL parses a RTSP URL.
func ParseURL(s string) (*URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	if u.Scheme != "rtsp" {
		return nil, fmt.Errorf("unsupported scheme '%s'", u.Scheme)
	}

	return (*URL)(u), nil
}

// MustParseURL is like ParseURL but panics in case of errors.
func MustParseURL(s string) *URL {
	u, err := ParseURL(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String implements fmt.Stringer.
func (u *URL) String() string {
	return (*url.URL)(u).String()
}

// Clone clones a URL.
func (u *URL) Clone() *URL {
	return (*URL)(&url.URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	})
}

// CloneWithoutCredentials clones a URL without its credentials.
func (u *URL) CloneWithoutCredentials() *URL {
	return (*URL)(&url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	})
}

// Credentials returns the credentials embedded into the URL.
// Either half of user:pass may be empty.
func (u *URL) Credentials() (string, string) {
	if u.User == nil {
		return "", ""
	}
	pass, _ := u.User.Password()
	return u.User.Username(), pass
}

// RTSPPath returns the path of a RTSP URL, including the leading slash.
func (u *URL) RTSPPath() (string, bool) {
	var pathAndQuery string
	if u.RawPath != "" {
		pathAndQuery = u.RawPath
	} else {
		pathAndQuery = u.Path
	}

	if len(pathAndQuery) == 0 || pathAndQuery[0] != '/' {
		return "", false
	}

	if i := strings.IndexByte(pathAndQuery, '?'); i >= 0 {
		pathAndQuery = pathAndQuery[:i]
	}

	return pathAndQuery, true
}

// PathStripLastSegment removes the final "/segment" from a path.
// It is used to derive the stream path from a SETUP control URL.
func PathStripLastSegment(path string) (string, bool) {
	i := strings.LastIndexByte(path, '/')
	if i <= 0 {
		return "", false
	}
	return path[:i], true
}

// AddControlAttribute adds a control attribute to a RTSP url.
func (u *URL) AddControlAttribute(controlPath string) {
	if controlPath[0] != '?' {
		controlPath = "/" + controlPath
	}

	nu, _ := ParseURL(u.String() + controlPath)
	*u = *nu
}
