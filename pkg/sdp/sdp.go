// Package sdp contains a SDP encoder/decoder for video paths.
package sdp

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mch264 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	mch265 "github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	psdp "github.com/pion/sdp/v3"
)

var lastSessionID uint64 //nolint:gochecknoglobals

// monotonically fresh session id for the origin field.
func originSessionID() uint64 {
	for {
		prev := atomic.LoadUint64(&lastSessionID)
		now := uint64(time.Now().Unix())
		if now <= prev {
			now = prev + 1
		}
		if atomic.CompareAndSwapUint64(&lastSessionID, prev, now) {
			return now
		}
	}
}

// Media describes a video stream inside a SDP document.
type Media struct {
	// codec name, "H264" or "H265"
	CodecName string

	// payload type
	PayloadType uint8

	// clock rate
	ClockRate int

	// video width, in pixels
	Width int

	// video height, in pixels
	Height int

	// frames per second
	FPS int

	// parameter sets
	VPS []byte
	SPS []byte
	PPS []byte

	// control attribute
	Control string
}

// Description is a parsed SDP document.
type Description struct {
	// session name
	SessionName string

	// video medias
	Medias []*Media
}

func fmtpH264(m *Media) string {
	ret := "packetization-mode=1"

	if m.SPS != nil && m.PPS != nil {
		ret += ";sprop-parameter-sets=" +
			base64.StdEncoding.EncodeToString(m.SPS) + "," +
			base64.StdEncoding.EncodeToString(m.PPS)
	}

	return ret
}

func fmtpH265(m *Media) string {
	var parts []string

	if m.VPS != nil {
		parts = append(parts, "sprop-vps="+base64.StdEncoding.EncodeToString(m.VPS))
	}
	if m.SPS != nil {
		parts = append(parts, "sprop-sps="+base64.StdEncoding.EncodeToString(m.SPS))
	}
	if m.PPS != nil {
		parts = append(parts, "sprop-pps="+base64.StdEncoding.EncodeToString(m.PPS))
	}

	return strings.Join(parts, ";")
}

// Marshal generates the SDP document of a session with a single video media.
func Marshal(sessionName string, m *Media) ([]byte, error) {
	if m.CodecName != "H264" && m.CodecName != "H265" {
		return nil, fmt.Errorf("unsupported codec '%s'", m.CodecName)
	}

	pt := strconv.FormatUint(uint64(m.PayloadType), 10)

	clockRate := m.ClockRate
	if clockRate == 0 {
		clockRate = 90000
	}

	attrs := []psdp.Attribute{
		{
			Key:   "rtpmap",
			Value: pt + " " + m.CodecName + "/" + strconv.FormatInt(int64(clockRate), 10),
		},
	}

	var fmtp string
	if m.CodecName == "H264" {
		fmtp = fmtpH264(m)
	} else {
		fmtp = fmtpH265(m)
	}
	if fmtp != "" {
		attrs = append(attrs, psdp.Attribute{
			Key:   "fmtp",
			Value: pt + " " + fmtp,
		})
	}

	if m.Width > 0 && m.Height > 0 {
		attrs = append(attrs, psdp.Attribute{
			Key: "framesize",
			Value: pt + " " + strconv.FormatInt(int64(m.Width), 10) +
				"-" + strconv.FormatInt(int64(m.Height), 10),
		})
	}

	if m.FPS > 0 {
		attrs = append(attrs, psdp.Attribute{
			Key:   "framerate",
			Value: strconv.FormatInt(int64(m.FPS), 10),
		})
	}

	control := m.Control
	if control == "" {
		control = "stream"
	}
	attrs = append(attrs, psdp.Attribute{
		Key:   "control",
		Value: control,
	})

	desc := &psdp.SessionDescription{
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      originSessionID(),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: psdp.SessionName(sessionName),
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*psdp.MediaDescription{
			{
				MediaName: psdp.MediaName{
					Media:   "video",
					Port:    psdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{pt},
				},
				Attributes: attrs,
			},
		},
	}

	return desc.Marshal()
}

func parseRtpmap(value string) (uint8, string, int, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return 0, "", 0, false
	}

	pt, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return 0, "", 0, false
	}

	codecAndClock := strings.SplitN(parts[1], "/", 2)
	if len(codecAndClock) != 2 {
		return 0, "", 0, false
	}

	clockRate, err := strconv.Atoi(codecAndClock[1])
	if err != nil {
		return 0, "", 0, false
	}

	return uint8(pt), strings.ToUpper(codecAndClock[0]), clockRate, true
}

func parseFmtp(m *Media, value string) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return
	}

	for _, kv := range strings.Split(parts[1], ";") {
		kv = strings.TrimSpace(kv)

		keyval := strings.SplitN(kv, "=", 2)
		if len(keyval) != 2 {
			continue
		}

		switch keyval[0] {
		case "sprop-parameter-sets":
			sets := strings.Split(keyval[1], ",")
			if len(sets) >= 1 {
				if byts, err := base64.StdEncoding.DecodeString(sets[0]); err == nil {
					m.SPS = byts
				}
			}
			if len(sets) >= 2 {
				if byts, err := base64.StdEncoding.DecodeString(sets[1]); err == nil {
					m.PPS = byts
				}
			}

		case "sprop-vps":
			if byts, err := base64.StdEncoding.DecodeString(keyval[1]); err == nil {
				m.VPS = byts
			}

		case "sprop-sps":
			if byts, err := base64.StdEncoding.DecodeString(keyval[1]); err == nil {
				m.SPS = byts
			}

		case "sprop-pps":
			if byts, err := base64.StdEncoding.DecodeString(keyval[1]); err == nil {
				m.PPS = byts
			}
		}
	}
}

func parseFramesize(m *Media, value string) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return
	}

	dims := strings.SplitN(parts[1], "-", 2)
	if len(dims) != 2 {
		return
	}

	w, err1 := strconv.Atoi(dims[0])
	h, err2 := strconv.Atoi(dims[1])
	if err1 == nil && err2 == nil {
		m.Width = w
		m.Height = h
	}
}

// fill width / height / FPS from the SPS when the SDP doesn't carry them.
func fillFromSPS(m *Media) {
	if m.SPS == nil || (m.Width != 0 && m.FPS != 0) {
		return
	}

	if m.CodecName == "H264" {
		var sps mch264.SPS
		err := sps.Unmarshal(m.SPS)
		if err != nil {
			return
		}

		if m.Width == 0 {
			m.Width = sps.Width()
			m.Height = sps.Height()
		}
		if m.FPS == 0 {
			m.FPS = int(sps.FPS())
		}
	} else {
		var sps mch265.SPS
		err := sps.Unmarshal(m.SPS)
		if err != nil {
			return
		}

		if m.Width == 0 {
			m.Width = sps.Width()
			m.Height = sps.Height()
		}
		if m.FPS == 0 {
			m.FPS = int(sps.FPS())
		}
	}
}

// Unmarshal parses a SDP document and extracts the video medias.
func Unmarshal(byts []byte) (*Description, error) {
	var desc psdp.SessionDescription
	err := desc.Unmarshal(byts)
	if err != nil {
		return nil, err
	}

	ret := &Description{
		SessionName: string(desc.SessionName),
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}

		m := &Media{}

		for _, attr := range md.Attributes {
			switch attr.Key {
			case "rtpmap":
				pt, codecName, clockRate, ok := parseRtpmap(attr.Value)
				if !ok {
					continue
				}
				if codecName != "H264" && codecName != "H265" {
					continue
				}
				m.PayloadType = pt
				m.CodecName = codecName
				m.ClockRate = clockRate

			case "fmtp":
				parseFmtp(m, attr.Value)

			case "framesize":
				parseFramesize(m, attr.Value)

			case "framerate":
				if fps, err2 := strconv.ParseFloat(attr.Value, 64); err2 == nil {
					m.FPS = int(fps)
				}

			case "control":
				m.Control = attr.Value
			}
		}

		if m.CodecName == "" {
			continue
		}

		fillFromSPS(m)

		ret.Medias = append(ret.Medias, m)
	}

	if len(ret.Medias) == 0 {
		return nil, fmt.Errorf("no supported video medias found")
	}

	return ret, nil
}
