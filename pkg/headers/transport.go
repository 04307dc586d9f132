// Package headers contains various RTSP headers.
package headers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/rtspcore/pkg/base"
)

// TransportProtocol is a transport protocol.
type TransportProtocol int

// transport protocols.
const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// String implements fmt.Stringer.
func (p TransportProtocol) String() string {
	if p == TransportProtocolTCP {
		return "RTP/AVP/TCP"
	}
	return "RTP/AVP"
}

// TransportDelivery is a delivery method.
type TransportDelivery int

// delivery methods.
const (
	TransportDeliveryUnicast TransportDelivery = iota
	TransportDeliveryMulticast
)

// TransportMode is a transport mode.
type TransportMode int

const (
	// TransportModePlay is the "play" transport mode.
	TransportModePlay TransportMode = iota

	// TransportModeRecord is the "record" transport mode.
	TransportModeRecord
)

// String implements fmt.Stringer.
func (tm TransportMode) String() string {
	if tm == TransportModeRecord {
		return "record"
	}
	return "play"
}

// Transport is a Transport header.
type Transport struct {
	// protocol of the stream
	Protocol TransportProtocol

	// (optional) delivery method of the stream
	Delivery *TransportDelivery

	// (optional) client ports
	ClientPorts *[2]int

	// (optional) server ports
	ServerPorts *[2]int

	// (optional) interleaved channel ids
	InterleavedIDs *[2]int

	// (optional) mode
	Mode *TransportMode
}

func parsePorts(val string) (*[2]int, error) {
	ports := strings.Split(val, "-")

	if len(ports) == 2 {
		port1, err := strconv.ParseInt(ports[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		port2, err := strconv.ParseInt(ports[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		return &[2]int{int(port1), int(port2)}, nil
	}

	if len(ports) == 1 {
		port1, err := strconv.ParseInt(ports[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}

		return &[2]int{int(port1), int(port1 + 1)}, nil
	}

	return nil, fmt.Errorf("invalid ports (%v)", val)
}

// Unmarshal decodes a Transport header.
func (h *Transport) Unmarshal(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}

	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	parts := strings.Split(v[0], ";")

	switch parts[0] {
	case "RTP/AVP", "RTP/AVP/UDP":
		h.Protocol = TransportProtocolUDP

	case "RTP/AVP/TCP":
		h.Protocol = TransportProtocolTCP

	default:
		return fmt.Errorf("invalid protocol (%v)", v)
	}
	parts = parts[1:]

	if len(parts) > 0 {
		switch parts[0] {
		case "unicast":
			d := TransportDeliveryUnicast
			h.Delivery = &d
			parts = parts[1:]

		case "multicast":
			d := TransportDeliveryMulticast
			h.Delivery = &d
			parts = parts[1:]
		}
	}

	for _, t := range parts {
		switch {
		case strings.HasPrefix(t, "client_port="):
			ports, err := parsePorts(t[len("client_port="):])
			if err != nil {
				return err
			}
			h.ClientPorts = ports

		case strings.HasPrefix(t, "server_port="):
			ports, err := parsePorts(t[len("server_port="):])
			if err != nil {
				return err
			}
			h.ServerPorts = ports

		case strings.HasPrefix(t, "interleaved="):
			ports, err := parsePorts(t[len("interleaved="):])
			if err != nil {
				return err
			}
			h.InterleavedIDs = ports

		case strings.HasPrefix(t, "mode="):
			str := strings.ToLower(t[len("mode="):])
			str = strings.TrimPrefix(str, "\"")
			str = strings.TrimSuffix(str, "\"")

			switch str {
			case "play":
				m := TransportModePlay
				h.Mode = &m

				// receive is an old alias for record, used by ffmpeg with the
				// -listen flag, and by Darwin Streaming Server
			case "record", "receive":
				m := TransportModeRecord
				h.Mode = &m

			default:
				return fmt.Errorf("invalid transport mode: '%s'", str)
			}
		}

		// ignore non-standard keys
	}

	return nil
}

// Marshal encodes a Transport header.
func (h Transport) Marshal() base.HeaderValue {
	var rets []string

	rets = append(rets, h.Protocol.String())

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			rets = append(rets, "unicast")
		} else {
			rets = append(rets, "multicast")
		}
	}

	if h.ClientPorts != nil {
		rets = append(rets, "client_port="+strconv.FormatInt(int64(h.ClientPorts[0]), 10)+
			"-"+strconv.FormatInt(int64(h.ClientPorts[1]), 10))
	}

	if h.ServerPorts != nil {
		rets = append(rets, "server_port="+strconv.FormatInt(int64(h.ServerPorts[0]), 10)+
			"-"+strconv.FormatInt(int64(h.ServerPorts[1]), 10))
	}

	if h.InterleavedIDs != nil {
		rets = append(rets, "interleaved="+strconv.FormatInt(int64(h.InterleavedIDs[0]), 10)+
			"-"+strconv.FormatInt(int64(h.InterleavedIDs[1]), 10))
	}

	if h.Mode != nil {
		rets = append(rets, "mode="+h.Mode.String())
	}

	return base.HeaderValue{strings.Join(rets, ";")}
}
