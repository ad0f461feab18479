package sink

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/igmpmon/internal/core"
)

func TestConsoleRender(t *testing.T) {
	s, err := NewConsoleSink(nil)
	require.NoError(t, err)

	lines := s.render(outputPacket("10.0.0.5", v2Report("239.1.2.3")))
	assert.Equal(t, []string{
		"*** Receive Packet: 2024-03-01T12:00:00Z",
		"\tIP Header:",
		"\t\tProtocol: Igmp",
		"\t\tSourceAddress: 10.0.0.5",
		"\t\tDestinationAddress: 224.0.0.22",
		"\t\tTTL: 1",
		"\t\tData: 22-00-EA-03-00-00-00-01",
		"\tIGMP:",
		"\t\tType: MembershipReportVersion2",
		"\t\tVersion: Version2",
		"\t\tGroupAddress: 239.1.2.3",
		"********",
	}, lines)
}

func TestConsoleRenderVariants(t *testing.T) {
	s, err := NewConsoleSink(map[string]any{"payload": false})
	require.NoError(t, err)

	tests := []struct {
		name string
		igmp *core.IGMPPacket
		want []string
	}{
		{
			name: "v0",
			igmp: &core.IGMPPacket{
				Version:     core.IGMPVersion0,
				MessageType: core.IGMPJoinGroupRequestV0,
				Body:        &core.IGMPv0{Code: 1, Identifier: 42, GroupAddress: addr("224.1.1.1"), AccessKey: 0xdeadbeef},
			},
			want: []string{
				"\t\tGroupAddress: 224.1.1.1",
				"\t\tCode: 1 Identifier: 42 AccessKey: 0xdeadbeef",
			},
		},
		{
			name: "v2 query",
			igmp: &core.IGMPPacket{
				Version:     core.IGMPVersion2,
				MessageType: core.IGMPMembershipQuery,
				Body:        &core.IGMPv2{MaxResponseTime: 10 * time.Second, GroupAddress: addr("0.0.0.0")},
			},
			want: []string{
				"\t\tGroupAddress: 0.0.0.0",
				"\t\tMaxResponseTime: 10s",
			},
		},
		{
			name: "v3 query",
			igmp: &core.IGMPPacket{
				Version:     core.IGMPVersion3,
				MessageType: core.IGMPMembershipQuery,
				Body: &core.IGMPv3Query{
					MaxResponseTime: time.Second,
					GroupAddress:    addr("232.1.1.1"),
					QRV:             2,
					QueryInterval:   125 * time.Second,
					Sources:         addrs("10.1.1.1"),
				},
			},
			want: []string{
				"\t\tIGMPv3QueryPacket:",
				"\t\t\tGroupAddress: 232.1.1.1",
				"\t\t\tMaxResponseTime: 1s QRV: 2 QueryInterval: 2m5s S: false",
				"\t\t\tSources: 10.1.1.1",
			},
		},
		{
			name: "v3 report",
			igmp: v3Report(
				record(core.ModeIsExclude, "239.0.0.1"),
				record(core.AllowNewSources, "232.0.0.1", "10.0.0.1", "10.0.0.2"),
			),
			want: []string{
				"\t\tIGMPv3ReportPacket:",
				"\t\t\tGroupRecord: MODE_IS_EXCLUDE, 239.0.0.1",
				"\t\t\tGroupRecord: ALLOW_NEW_SOURCES, 232.0.0.1 [10.0.0.1,10.0.0.2]",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := s.render(outputPacket("10.0.0.5", tt.igmp))
			for _, l := range lines {
				assert.False(t, strings.HasPrefix(l, "\t\tData:"), "payload disabled")
			}
			// header (6) + IGMP block (3), closing marker last
			require.Greater(t, len(lines), 9)
			assert.Equal(t, tt.want, lines[9:len(lines)-1])
			assert.Equal(t, "********", lines[len(lines)-1])
		})
	}
}

func TestConsoleRenderNonIGMP(t *testing.T) {
	s, err := NewConsoleSink(nil)
	require.NoError(t, err)

	pkt := outputPacket("10.0.0.5", nil)
	pkt.IP.Protocol = core.IPProtocolUDP
	lines := s.render(pkt)
	assert.Len(t, lines, 8)
	assert.Equal(t, "\t\tProtocol: Udp", lines[2])
}

func TestConsoleSend(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		s, err := NewConsoleSink(map[string]any{"format": format})
		require.NoError(t, err)
		assert.NoError(t, s.Send(context.Background(), outputPacket("10.0.0.5", v2Report("239.1.2.3"))))
		assert.Error(t, s.Send(context.Background(), nil))
		assert.Equal(t, uint64(1), s.sent.Load())
		assert.NoError(t, s.Close())
	}
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "", hexDump(nil, 0))
	assert.Equal(t, "0A-FF-00", hexDump([]byte{0x0a, 0xff, 0x00}, 0))
	assert.Equal(t, "0A-FF...", hexDump([]byte{0x0a, 0xff, 0x00}, 2))
	assert.Equal(t, "0A-FF-00", hexDump([]byte{0x0a, 0xff, 0x00}, 3))
}
