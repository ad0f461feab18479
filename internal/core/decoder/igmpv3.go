package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/igmpmon/internal/core"
)

const (
	igmpv3QueryResvSQRVOffset = 8
	igmpv3QueryQQICOffset     = 9
	igmpv3QueryNumSrcOffset   = 10
	igmpv3QuerySourcesOffset  = 12
	igmpv3QuerySFlagMask      = 0x08
	igmpv3QueryQRVMask        = 0x07

	igmpv3ReportMinLen       = 8
	igmpv3ReportNumRecOffset = 6

	groupRecordHeaderLen = 4 // type, aux data len, number of sources
	ipv4AddrLen          = 4
)

//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|  Type = 0x11  | Max Resp Code |           Checksum            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                         Group Address                         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| Resv  |S| QRV |     QQIC      |     Number of Sources (N)     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                       Source Address [1..N]                   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// Bytes after the N sources are ignored. When fewer than N sources are
// present the fixed prefix is still returned and Sources is left nil.
func decodeIGMPv3Query(data []byte) (*core.IGMPv3Query, error) {
	if len(data) < igmpv3QueryMinLen {
		return nil, core.ErrTruncatedPayload
	}

	code := data[igmpMaxRespOffset]
	qqic := data[igmpv3QueryQQICOffset]
	q := &core.IGMPv3Query{
		MaxResponseCode:          code,
		MaxResponseTime:          time.Duration(decodeFloatCode(code)) * igmpTimeUnit,
		Checksum:                 binary.BigEndian.Uint16(data[2:4]),
		GroupAddress:             addrAt(data, 4),
		SuppressRouterProcessing: data[igmpv3QueryResvSQRVOffset]&igmpv3QuerySFlagMask != 0,
		QRV:                      data[igmpv3QueryResvSQRVOffset] & igmpv3QueryQRVMask,
		QQIC:                     qqic,
		QueryInterval:            time.Duration(decodeFloatCode(qqic)) * time.Second,
	}

	n := int(binary.BigEndian.Uint16(data[igmpv3QueryNumSrcOffset:igmpv3QuerySourcesOffset]))
	if len(data)-igmpv3QuerySourcesOffset < n*ipv4AddrLen {
		return q, nil
	}
	q.Sources = readAddrs(data[igmpv3QuerySourcesOffset:], n)
	return q, nil
}

//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|  Type = 0x22  |    Reserved   |           Checksum            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|           Reserved            |  Number of Group Records (M)  |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	.                     Group Record [1..M]                       .
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
func decodeIGMPv3Report(data []byte) (*core.IGMPv3Report, error) {
	if len(data) < igmpv3ReportMinLen {
		return nil, core.ErrTruncatedPayload
	}

	m := int(binary.BigEndian.Uint16(data[igmpv3ReportNumRecOffset:igmpv3ReportMinLen]))
	records, err := decodeGroupRecords(data[igmpv3ReportMinLen:], m)
	if err != nil {
		return nil, err
	}
	return &core.IGMPv3Report{
		Checksum: binary.BigEndian.Uint16(data[2:4]),
		Records:  records,
	}, nil
}

//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|  Record Type  |  Aux Data Len |     Number of Sources (N)     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                       Multicast Address                       |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                       Source Address [1..N]                   |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	.                  Auxiliary Data (Aux Data Len words)          .
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//
// decodeGroupRecords parses count records from data. A record that does not
// fit in what is left of data fails the whole report.
func decodeGroupRecords(data []byte, count int) ([]core.GroupRecord, error) {
	// The smallest record is 8 bytes, so never trust count for allocation.
	records := make([]core.GroupRecord, 0, min(count, len(data)/(groupRecordHeaderLen+ipv4AddrLen)))

	off := 0
	for i := 0; i < count; i++ {
		rest := data[off:]
		if len(rest) < groupRecordHeaderLen {
			return nil, fmt.Errorf("%w: record %d/%d header needs %d bytes, %d left",
				core.ErrTruncatedGroupRecord, i+1, count, groupRecordHeaderLen, len(rest))
		}

		recType := core.GroupRecordType(rest[0])
		auxLen := rest[1]
		numSrc := int(binary.BigEndian.Uint16(rest[2:4]))

		need := ipv4AddrLen + numSrc*ipv4AddrLen + int(auxLen)*ipv4AddrLen
		if len(rest)-groupRecordHeaderLen < need {
			return nil, fmt.Errorf("%w: record %d/%d needs %d bytes, %d left",
				core.ErrTruncatedGroupRecord, i+1, count, groupRecordHeaderLen+need, len(rest))
		}

		body := rest[groupRecordHeaderLen:]
		records = append(records, core.GroupRecord{
			Type:             recType,
			AuxDataLength:    auxLen,
			MulticastAddress: addrAt(body, 0),
			Sources:          readAddrs(body[ipv4AddrLen:], numSrc),
		})

		// Auxiliary data is skipped.
		off += groupRecordHeaderLen + need
	}
	return records, nil
}

// readAddrs reads n consecutive IPv4 addresses. Callers check bounds.
func readAddrs(data []byte, n int) []netip.Addr {
	addrs := make([]netip.Addr, n)
	for i := range addrs {
		addrs[i] = addrAt(data, i*ipv4AddrLen)
	}
	return addrs
}

// decodeFloatCode expands the Max Resp Code / QQIC encoding of RFC 3376
// §4.1.1 and §4.1.7: values below 128 are literal, otherwise the byte is
// 1|exp(3)|mant(4) and the value is (mant | 0x10) << (exp + 3).
func decodeFloatCode(code uint8) uint32 {
	if code < 128 {
		return uint32(code)
	}
	exp := (code >> 4) & 0x07
	mant := code & 0x0F
	return uint32(mant|0x10) << (exp + 3)
}
