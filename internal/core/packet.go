// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// RawPacket is one IPv4 datagram handed over by a capture source. Data starts
// at the IPv4 header; link-layer framing has already been removed.
type RawPacket struct {
	Data       []byte    // May alias a buffer the source reuses on the next read
	Timestamp  time.Time // Capture timestamp
	CaptureLen uint32    // Bytes actually captured
	OrigLen    uint32    // Original length on the wire
	Interface  string    // Capture interface name, empty for file replay
}

// DecodedPacket is the result of decoding one datagram.
type DecodedPacket struct {
	Timestamp  time.Time
	IP         IPv4Header
	IGMP       *IGMPPacket // nil unless IP.Protocol is IGMP and decoding succeeded
	CaptureLen uint32
	OrigLen    uint32
}

// OutputPacket is the final output sent to sinks.
type OutputPacket struct {
	// Envelope
	ID        string    `json:"id" yaml:"id"`
	Node      string    `json:"node" yaml:"node"`
	Interface string    `json:"interface,omitempty" yaml:"interface,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Network context
	SrcIP    netip.Addr `json:"src_ip" yaml:"src_ip"`
	DstIP    netip.Addr `json:"dst_ip" yaml:"dst_ip"`
	Protocol IPProtocol `json:"protocol" yaml:"protocol"`

	IP   IPv4Header  `json:"ip" yaml:"ip"`
	IGMP *IGMPPacket `json:"igmp,omitempty" yaml:"igmp,omitempty"`

	Labels Labels `json:"labels,omitempty" yaml:"labels,omitempty"`
}
