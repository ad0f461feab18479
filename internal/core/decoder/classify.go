package decoder

import "firestige.xyz/igmpmon/internal/core"

const (
	igmpTypeOffset    = 0
	igmpMaxRespOffset = 1
	igmpv12QueryLen   = 8
	igmpv3QueryMinLen = 12
)

// ClassifyIGMPVersion determines which IGMP wire format applies to the first
// length bytes of payload. It never fails: anything it cannot place is
// IGMPVersionUnknown.
//
// Message type 0x11 is shared by the v1, v2 and v3 queries and is told apart
// by length (RFC 3376 §7.1): 8 bytes is v1 when the max response code is zero
// and v2 otherwise, 12 or more is v3, anything else is not guessed.
func ClassifyIGMPVersion(payload []byte, length int) core.IGMPVersion {
	if length <= 0 || length > len(payload) {
		return core.IGMPVersionUnknown
	}

	msgType := core.IGMPMessageType(payload[igmpTypeOffset])
	if msgType >= core.IGMPCreateGroupRequestV0 && msgType <= core.IGMPConfirmGroupReplyV0 {
		return core.IGMPVersion0
	}

	switch msgType {
	case core.IGMPMembershipQuery:
		if length >= igmpv3QueryMinLen {
			return core.IGMPVersion3
		}
		if length == igmpv12QueryLen {
			if payload[igmpMaxRespOffset] == 0 {
				return core.IGMPVersion1
			}
			return core.IGMPVersion2
		}
		return core.IGMPVersionUnknown
	case core.IGMPMembershipReportV1:
		return core.IGMPVersion1
	case core.IGMPMembershipReportV2, core.IGMPLeaveGroupV2:
		return core.IGMPVersion2
	case core.IGMPMembershipReportV3:
		return core.IGMPVersion3
	default:
		return core.IGMPVersionUnknown
	}
}
