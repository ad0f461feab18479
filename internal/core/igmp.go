package core

import (
	"fmt"
	"net/netip"
	"time"
)

// IGMPVersion is the protocol version a message was classified as.
type IGMPVersion uint8

const (
	IGMPVersionUnknown IGMPVersion = iota
	IGMPVersion0
	IGMPVersion1
	IGMPVersion2
	IGMPVersion3
)

func (v IGMPVersion) String() string {
	switch v {
	case IGMPVersion0:
		return "Version0"
	case IGMPVersion1:
		return "Version1"
	case IGMPVersion2:
		return "Version2"
	case IGMPVersion3:
		return "Version3"
	default:
		return "Unknown"
	}
}

// IGMPMessageType is the raw type byte of an IGMP message.
type IGMPMessageType uint8

const (
	IGMPCreateGroupRequestV0  IGMPMessageType = 0x01
	IGMPCreateGroupReplyV0    IGMPMessageType = 0x02
	IGMPJoinGroupRequestV0    IGMPMessageType = 0x03
	IGMPJoinGroupReplyV0      IGMPMessageType = 0x04
	IGMPLeaveGroupRequestV0   IGMPMessageType = 0x05
	IGMPLeaveGroupReplyV0     IGMPMessageType = 0x06
	IGMPConfirmGroupRequestV0 IGMPMessageType = 0x07
	IGMPConfirmGroupReplyV0   IGMPMessageType = 0x08

	IGMPMembershipQuery    IGMPMessageType = 0x11
	IGMPMembershipReportV1 IGMPMessageType = 0x12
	IGMPMembershipReportV2 IGMPMessageType = 0x16
	IGMPLeaveGroupV2       IGMPMessageType = 0x17
	IGMPMtraceResponse     IGMPMessageType = 0x1E
	IGMPMtrace             IGMPMessageType = 0x1F
	IGMPMembershipReportV3 IGMPMessageType = 0x22
)

var igmpMessageTypeNames = map[IGMPMessageType]string{
	IGMPCreateGroupRequestV0:  "CreateGroupRequestVersion0",
	IGMPCreateGroupReplyV0:    "CreateGroupReplyVersion0",
	IGMPJoinGroupRequestV0:    "JoinGroupRequestVersion0",
	IGMPJoinGroupReplyV0:      "JoinGroupReplyVersion0",
	IGMPLeaveGroupRequestV0:   "LeaveGroupRequestVersion0",
	IGMPLeaveGroupReplyV0:     "LeaveGroupReplyVersion0",
	IGMPConfirmGroupRequestV0: "ConfirmGroupRequestVersion0",
	IGMPConfirmGroupReplyV0:   "ConfirmGroupReplyVersion0",
	IGMPMembershipQuery:       "MembershipQuery",
	IGMPMembershipReportV1:    "MembershipReportVersion1",
	IGMPMembershipReportV2:    "MembershipReportVersion2",
	IGMPLeaveGroupV2:          "LeaveGroupVersion2",
	IGMPMtraceResponse:        "MulticastTraceRouteResponse",
	IGMPMtrace:                "MulticastTraceRoute",
	IGMPMembershipReportV3:    "MembershipReportVersion3",
}

// Known reports whether t is one of the enumerated message types.
func (t IGMPMessageType) Known() bool {
	_, ok := igmpMessageTypeNames[t]
	return ok
}

func (t IGMPMessageType) String() string {
	if name, ok := igmpMessageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

// GroupRecordType is the record type of an IGMPv3 group record. Values outside
// the RFC 3376 set are kept as-is; Recognized tells them apart.
type GroupRecordType uint8

const (
	ModeIsInclude       GroupRecordType = 0x01
	ModeIsExclude       GroupRecordType = 0x02
	ChangeToIncludeMode GroupRecordType = 0x03
	ChangeToExcludeMode GroupRecordType = 0x04
	AllowNewSources     GroupRecordType = 0x05
	BlockOldSources     GroupRecordType = 0x06
)

// Recognized reports whether t is one of the six RFC 3376 record types.
func (t GroupRecordType) Recognized() bool {
	return t >= ModeIsInclude && t <= BlockOldSources
}

func (t GroupRecordType) String() string {
	switch t {
	case ModeIsInclude:
		return "MODE_IS_INCLUDE"
	case ModeIsExclude:
		return "MODE_IS_EXCLUDE"
	case ChangeToIncludeMode:
		return "CHANGE_TO_INCLUDE_MODE"
	case ChangeToExcludeMode:
		return "CHANGE_TO_EXCLUDE_MODE"
	case AllowNewSources:
		return "ALLOW_NEW_SOURCES"
	case BlockOldSources:
		return "BLOCK_OLD_SOURCES"
	default:
		return fmt.Sprintf("UNRECOGNIZED(0x%02x)", uint8(t))
	}
}

// IGMPPacket is a decoded IGMP message. Body holds exactly one of
// *IGMPv0, *IGMPv1, *IGMPv2, *IGMPv3Query or *IGMPv3Report.
type IGMPPacket struct {
	Version     IGMPVersion     `json:"version" yaml:"version"`
	MessageType IGMPMessageType `json:"message_type" yaml:"message_type"`
	Body        IGMPMessage     `json:"body" yaml:"body"`
}

// IGMPMessage is implemented by the per-version message bodies only.
type IGMPMessage interface {
	igmpMessage()
}

// IGMPv0 is an RFC 988 message.
type IGMPv0 struct {
	Code         uint8      `json:"code" yaml:"code"`
	Checksum     uint16     `json:"checksum" yaml:"checksum"`
	Identifier   uint32     `json:"identifier" yaml:"identifier"`
	GroupAddress netip.Addr `json:"group_address" yaml:"group_address"`
	AccessKey    uint32     `json:"access_key" yaml:"access_key"`
}

// IGMPv1 is an RFC 1112 query or report.
type IGMPv1 struct {
	Checksum     uint16     `json:"checksum" yaml:"checksum"`
	GroupAddress netip.Addr `json:"group_address" yaml:"group_address"`
}

// IGMPv2 is an RFC 2236 query, report or leave.
type IGMPv2 struct {
	MaxResponseTime time.Duration `json:"max_response_time" yaml:"max_response_time"`
	Checksum        uint16        `json:"checksum" yaml:"checksum"`
	GroupAddress    netip.Addr    `json:"group_address" yaml:"group_address"`
}

// IGMPv3Query is an RFC 3376 membership query.
type IGMPv3Query struct {
	MaxResponseCode          uint8         `json:"max_response_code" yaml:"max_response_code"`
	MaxResponseTime          time.Duration `json:"max_response_time" yaml:"max_response_time"`
	Checksum                 uint16        `json:"checksum" yaml:"checksum"`
	GroupAddress             netip.Addr    `json:"group_address" yaml:"group_address"`
	SuppressRouterProcessing bool          `json:"suppress_router_processing" yaml:"suppress_router_processing"`
	QRV                      uint8         `json:"qrv" yaml:"qrv"`
	QQIC                     uint8         `json:"qqic" yaml:"qqic"`
	QueryInterval            time.Duration `json:"query_interval" yaml:"query_interval"`
	Sources                  []netip.Addr  `json:"sources" yaml:"sources"`
}

// IGMPv3Report is an RFC 3376 membership report.
type IGMPv3Report struct {
	Checksum uint16        `json:"checksum" yaml:"checksum"`
	Records  []GroupRecord `json:"records" yaml:"records"`
}

// GroupRecord is one entry of an IGMPv3 membership report.
type GroupRecord struct {
	Type             GroupRecordType `json:"type" yaml:"type"`
	AuxDataLength    uint8           `json:"aux_data_length" yaml:"aux_data_length"` // in 32-bit words
	MulticastAddress netip.Addr      `json:"multicast_address" yaml:"multicast_address"`
	Sources          []netip.Addr    `json:"sources" yaml:"sources"`
}

func (*IGMPv0) igmpMessage()       {}
func (*IGMPv1) igmpMessage()       {}
func (*IGMPv2) igmpMessage()       {}
func (*IGMPv3Query) igmpMessage()  {}
func (*IGMPv3Report) igmpMessage() {}

// GroupAddresses returns the multicast addresses a message refers to, in wire order.
func (p IGMPPacket) GroupAddresses() []netip.Addr {
	switch m := p.Body.(type) {
	case *IGMPv0:
		return []netip.Addr{m.GroupAddress}
	case *IGMPv1:
		return []netip.Addr{m.GroupAddress}
	case *IGMPv2:
		return []netip.Addr{m.GroupAddress}
	case *IGMPv3Query:
		return []netip.Addr{m.GroupAddress}
	case *IGMPv3Report:
		addrs := make([]netip.Addr, 0, len(m.Records))
		for _, r := range m.Records {
			addrs = append(addrs, r.MulticastAddress)
		}
		return addrs
	default:
		return nil
	}
}

func (v IGMPVersion) MarshalText() ([]byte, error)     { return []byte(v.String()), nil }
func (t IGMPMessageType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
func (t GroupRecordType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }
