// Package decoder implements IPv4 and IGMP decoding.
package decoder

import (
	"fmt"

	"firestige.xyz/igmpmon/internal/core"
)

// DefaultMaxPayload is the largest IP payload accepted when Config leaves it unset.
const DefaultMaxPayload = 4096

// Decoder decodes raw packets into structured format.
type Decoder interface {
	Decode(raw core.RawPacket) (core.DecodedPacket, error)
}

// Config configures the StandardDecoder.
type Config struct {
	MaxPayload int // Largest accepted IP payload in bytes (0 = DefaultMaxPayload)
}

// StandardDecoder decodes an IPv4 datagram and, for IGMP, its message.
// It holds no mutable state and is safe for concurrent use.
type StandardDecoder struct {
	maxPayload int
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}
	return &StandardDecoder{maxPayload: cfg.MaxPayload}
}

// Decode decodes one datagram. Non-IGMP datagrams yield a packet with only the
// IP header set. When the IGMP stage fails, the returned packet still carries
// the IP header and the error wraps the IGMP sentinel.
func (d *StandardDecoder) Decode(raw core.RawPacket) (core.DecodedPacket, error) {
	out := core.DecodedPacket{
		Timestamp:  raw.Timestamp,
		CaptureLen: raw.CaptureLen,
		OrigLen:    raw.OrigLen,
	}

	ip, err := DecodeIPv4Header(raw.Data, len(raw.Data))
	if err != nil {
		return out, err
	}
	if ip.PayloadLength() > d.maxPayload {
		return out, fmt.Errorf("%w: %d > %d bytes", core.ErrPayloadTooLarge, ip.PayloadLength(), d.maxPayload)
	}
	out.IP = ip

	if ip.Protocol != core.IPProtocolIGMP {
		return out, nil
	}

	igmp, err := DecodeIGMP(ip.Payload, len(ip.Payload))
	if err != nil {
		return out, fmt.Errorf("igmp from %s: %w", ip.Source, err)
	}
	out.IGMP = &igmp
	return out, nil
}
