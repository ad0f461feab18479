package decoder

import (
	"bytes"
	"encoding/binary"
	"net/netip"

	"firestige.xyz/igmpmon/internal/core"
)

const (
	ipv4HeaderMinLen = 20

	ipv4FlagsShift     = 13
	ipv4FragOffsetMask = 0x1FFF
)

// DecodeIPv4Header decodes the IPv4 header at the start of buf. Only the first
// received bytes of buf are considered; buf may be a larger reusable buffer.
// The returned header owns a copy of the payload region.
func DecodeIPv4Header(buf []byte, received int) (core.IPv4Header, error) {
	if received < 0 || received > len(buf) {
		return core.IPv4Header{}, core.ErrInvalidLength
	}
	if received < ipv4HeaderMinLen {
		return core.IPv4Header{}, core.ErrTruncatedHeader
	}
	data := buf[:received]

	// Version - upper 4 bits of first byte
	version := data[0] >> 4
	if version != 4 {
		// IPv6 (and anything else) is recognized but its layout is not decoded
		return core.IPv4Header{Version: version}, core.ErrUnsupportedVersion
	}

	// IHL - lower 4 bits of first byte, in 32-bit words
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < ipv4HeaderMinLen {
		return core.IPv4Header{}, core.ErrInvalidLength
	}
	if headerLen > received {
		return core.IPv4Header{}, core.ErrTruncatedHeader
	}

	ip := core.IPv4Header{
		Version:        version,
		HeaderLength:   headerLen,
		DSCP:           data[1],
		TotalLength:    binary.BigEndian.Uint16(data[2:4]),
		Identification: binary.BigEndian.Uint16(data[4:6]),
		TTL:            data[8],
		Protocol:       core.IPProtocol(data[9]),
		Checksum:       binary.BigEndian.Uint16(data[10:12]),
		Source:         netip.AddrFrom4([4]byte(data[12:16])),
		Destination:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	// Flags (3 bits) and Fragment Offset (13 bits) share bytes 6-7
	flagsOffset := binary.BigEndian.Uint16(data[6:8])
	ip.Flags = core.IPFlags(flagsOffset >> ipv4FlagsShift)
	ip.FragmentOffset = flagsOffset & ipv4FragOffsetMask

	// Options between byte 20 and headerLen are skipped.
	totalLen := int(ip.TotalLength)
	if totalLen < headerLen || totalLen > received {
		return core.IPv4Header{}, core.ErrInvalidLength
	}

	ip.Payload = bytes.Clone(data[headerLen:totalLen])
	return ip, nil
}
