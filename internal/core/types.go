// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"strings"
)

// IPProtocol is the encapsulated protocol number carried in byte 9 of the IPv4 header.
type IPProtocol uint8

const (
	IPProtocolICMP IPProtocol = 1
	IPProtocolIGMP IPProtocol = 2
	IPProtocolTCP  IPProtocol = 6
	IPProtocolUDP  IPProtocol = 17
)

func (p IPProtocol) String() string {
	switch p {
	case IPProtocolICMP:
		return "Icmp"
	case IPProtocolIGMP:
		return "Igmp"
	case IPProtocolTCP:
		return "Tcp"
	case IPProtocolUDP:
		return "Udp"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// IPFlags holds the three flag bits of the IPv4 flags/fragment-offset word.
type IPFlags uint8

const (
	IPFlagMoreFragments IPFlags = 0x1
	IPFlagDontFragment  IPFlags = 0x2
	IPFlagReserved      IPFlags = 0x4 // must be zero on the wire
)

// DontFragment reports whether the DF bit is set.
func (f IPFlags) DontFragment() bool { return f&IPFlagDontFragment != 0 }

// MoreFragments reports whether the MF bit is set.
func (f IPFlags) MoreFragments() bool { return f&IPFlagMoreFragments != 0 }

// String names each set bit, joined by ", ".
func (f IPFlags) String() string {
	if f == 0 {
		return "None"
	}
	var parts []string
	if f&IPFlagReserved != 0 {
		parts = append(parts, "Reserved")
	}
	if f.DontFragment() {
		parts = append(parts, "Don't fragment")
	}
	if f.MoreFragments() {
		parts = append(parts, "More fragments to come")
	}
	return strings.Join(parts, ", ")
}

// IPv4Header represents a decoded L3 IPv4 header.
type IPv4Header struct {
	Version        uint8      `json:"version" yaml:"version"`
	HeaderLength   int        `json:"header_length" yaml:"header_length"` // bytes, IHL*4
	DSCP           uint8      `json:"dscp" yaml:"dscp"`                   // raw differentiated-services byte
	TotalLength    uint16     `json:"total_length" yaml:"total_length"`
	Identification uint16     `json:"identification" yaml:"identification"`
	Flags          IPFlags    `json:"flags" yaml:"flags"`
	FragmentOffset uint16     `json:"fragment_offset" yaml:"fragment_offset"`
	TTL            uint8      `json:"ttl" yaml:"ttl"`
	Protocol       IPProtocol `json:"protocol" yaml:"protocol"`
	Checksum       uint16     `json:"checksum" yaml:"checksum"` // as found on the wire, not verified
	Source         netip.Addr `json:"source" yaml:"source"`
	Destination    netip.Addr `json:"destination" yaml:"destination"`

	// Payload is an owned copy of the bytes between HeaderLength and TotalLength.
	Payload []byte `json:"-" yaml:"-"`
}

// PayloadLength returns TotalLength minus HeaderLength.
func (h IPv4Header) PayloadLength() int {
	return int(h.TotalLength) - h.HeaderLength
}

func (p IPProtocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (f IPFlags) MarshalText() ([]byte, error)    { return []byte(f.String()), nil }
