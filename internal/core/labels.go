// Package core defines core types.
package core

import (
	"strconv"
	"strings"
)

// Labels represents key-value metadata attached to an output packet.
type Labels map[string]string

// Label naming constants following {protocol}.{field} convention.
const (
	LabelIPProtocol = "ip.protocol"
	LabelIPTTL      = "ip.ttl"

	LabelIGMPVersion     = "igmp.version"
	LabelIGMPType        = "igmp.type"
	LabelIGMPGroups      = "igmp.groups"       // Comma-separated group addresses
	LabelIGMPRecordCount = "igmp.record_count" // IGMPv3 reports only
)

// LabelsFor builds the label set for a decoded packet.
func LabelsFor(pkt *DecodedPacket) Labels {
	labels := Labels{
		LabelIPProtocol: pkt.IP.Protocol.String(),
		LabelIPTTL:      strconv.Itoa(int(pkt.IP.TTL)),
	}
	if pkt.IGMP == nil {
		return labels
	}

	labels[LabelIGMPVersion] = pkt.IGMP.Version.String()
	labels[LabelIGMPType] = pkt.IGMP.MessageType.String()

	groups := pkt.IGMP.GroupAddresses()
	if len(groups) > 0 {
		parts := make([]string, len(groups))
		for i, g := range groups {
			parts[i] = g.String()
		}
		labels[LabelIGMPGroups] = strings.Join(parts, ",")
	}
	if report, ok := pkt.IGMP.Body.(*IGMPv3Report); ok {
		labels[LabelIGMPRecordCount] = strconv.Itoa(len(report.Records))
	}
	return labels
}
