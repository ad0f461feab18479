package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/core/decoder"
	"firestige.xyz/igmpmon/internal/sink"
)

var decodeFormat string

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode one IPv4 datagram given as hex",
	Long: `Decode a single IPv4 datagram and print the IP header and IGMP message.

Whitespace, colons and a leading 0x are ignored in the input.

Examples:
  igmpmon decode 46c0002000004000010200000a000005ef0102039404000016000000ef010203
  igmpmon decode --format json "45 00 00 1c ..."`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecode(cmd.OutOrStdout(), strings.Join(args, ""), decodeFormat)
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeFormat, "format", "text", "output format: text | json | yaml")
}

func runDecode(out io.Writer, input, format string) error {
	data, err := parseHex(input)
	if err != nil {
		return err
	}

	dec := decoder.NewStandardDecoder(decoder.Config{MaxPayload: 65535})
	pkt, err := dec.Decode(core.RawPacket{
		Data:       data,
		Timestamp:  time.Now(),
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
	})
	if err != nil {
		return fmt.Errorf("decode failed: %w", err)
	}

	output := &core.OutputPacket{
		ID:        xid.New().String(),
		Timestamp: pkt.Timestamp,
		SrcIP:     pkt.IP.Source,
		DstIP:     pkt.IP.Destination,
		Protocol:  pkt.IP.Protocol,
		IP:        pkt.IP,
		IGMP:      pkt.IGMP,
		Labels:    core.LabelsFor(&pkt),
	}

	switch format {
	case "text":
		for _, line := range sink.Render(output) {
			fmt.Fprintln(out, line)
		}
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	case "yaml":
		enc := yaml.NewEncoder(out)
		if err := enc.Encode(output); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (must be text/json/yaml)", format)
	}
}

func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return data, nil
}
