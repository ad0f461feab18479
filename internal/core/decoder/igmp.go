package decoder

import (
	"encoding/binary"
	"net/netip"
	"time"

	"firestige.xyz/igmpmon/internal/core"
)

const (
	igmpv0MinLen  = 16
	igmpv12MinLen = 8

	// IGMPv2 max response time is carried in units of 1/10 second
	igmpTimeUnit = 100 * time.Millisecond
)

// DecodeIGMP classifies and decodes the first length bytes of payload.
// On failure the returned packet still carries the version and message type
// that were read, but Body is nil.
func DecodeIGMP(payload []byte, length int) (core.IGMPPacket, error) {
	if length < 0 || length > len(payload) {
		return core.IGMPPacket{}, core.ErrTruncatedPayload
	}
	data := payload[:length]

	version := ClassifyIGMPVersion(data, length)
	pkt := core.IGMPPacket{Version: version}
	if length > 0 {
		pkt.MessageType = core.IGMPMessageType(data[igmpTypeOffset])
	}

	var (
		body core.IGMPMessage
		err  error
	)
	switch version {
	case core.IGMPVersion0:
		body, err = decodeIGMPv0(data)
	case core.IGMPVersion1:
		body, err = decodeIGMPv1(data)
	case core.IGMPVersion2:
		body, err = decodeIGMPv2(data)
	case core.IGMPVersion3:
		if pkt.MessageType == core.IGMPMembershipReportV3 {
			body, err = decodeIGMPv3Report(data)
		} else {
			body, err = decodeIGMPv3Query(data)
		}
	default:
		return pkt, core.ErrUnknownIGMPVersion
	}
	if err != nil {
		return pkt, err
	}

	pkt.Body = body
	return pkt, nil
}

//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     Type      |     Code      |           Checksum            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          Identifier                           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                         Group Address                         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                          Access Key                           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func decodeIGMPv0(data []byte) (*core.IGMPv0, error) {
	if len(data) < igmpv0MinLen {
		return nil, core.ErrTruncatedPayload
	}
	return &core.IGMPv0{
		Code:         data[1],
		Checksum:     binary.BigEndian.Uint16(data[2:4]),
		Identifier:   binary.BigEndian.Uint32(data[4:8]),
		GroupAddress: addrAt(data, 8),
		AccessKey:    binary.BigEndian.Uint32(data[12:16]),
	}, nil
}

// decodeIGMPv1 reads the full 16-bit checksum of RFC 1112; byte 1 is unused.
func decodeIGMPv1(data []byte) (*core.IGMPv1, error) {
	if len(data) < igmpv12MinLen {
		return nil, core.ErrTruncatedPayload
	}
	return &core.IGMPv1{
		Checksum:     binary.BigEndian.Uint16(data[2:4]),
		GroupAddress: addrAt(data, 4),
	}, nil
}

func decodeIGMPv2(data []byte) (*core.IGMPv2, error) {
	if len(data) < igmpv12MinLen {
		return nil, core.ErrTruncatedPayload
	}
	return &core.IGMPv2{
		MaxResponseTime: time.Duration(data[igmpMaxRespOffset]) * igmpTimeUnit,
		Checksum:        binary.BigEndian.Uint16(data[2:4]),
		GroupAddress:    addrAt(data, 4),
	}, nil
}

// addrAt reads the IPv4 address at data[off:off+4]. Callers check bounds.
func addrAt(data []byte, off int) netip.Addr {
	return netip.AddrFrom4([4]byte(data[off : off+4]))
}
