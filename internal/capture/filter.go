package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"golang.org/x/net/bpf"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/utils"
)

const (
	ipv4ProtocolOffset = 9
	acceptAll          = 0x40000
)

// igmpProgram accepts IPv4 datagrams carrying IGMP. It runs on data that
// starts at the IPv4 header: SOCK_DGRAM packet sockets and stripped frames.
var igmpProgram = []bpf.Instruction{
	bpf.LoadAbsolute{Off: ipv4ProtocolOffset, Size: 1},
	bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: uint32(layers.IPProtocolIGMP), SkipTrue: 1},
	bpf.RetConstant{Val: acceptAll},
	bpf.RetConstant{Val: 0},
}

// pcapFilter returns the libpcap filter expression for a capture mode.
func pcapFilter(cfg config.CaptureConfig) string {
	if cfg.BPFFilter != "" {
		return cfg.BPFFilter
	}
	if cfg.Mode == config.ModeAll {
		return "ip"
	}
	return "ip proto 2"
}

// datagramFilter matches stripped IPv4 datagrams in user space.
type datagramFilter struct {
	vm *bpf.VM
}

// newDatagramFilter builds the user-space filter for a mode. A nil filter
// accepts everything. An explicit bpf_filter is compiled for the IPv4 link type (DLT_IPV4)
// since it runs after the link layer has been removed.
func newDatagramFilter(cfg config.CaptureConfig) (*datagramFilter, error) {
	var (
		vm  *bpf.VM
		err error
	)
	switch {
	case cfg.BPFFilter != "":
		var raw []bpf.RawInstruction
		raw, err = utils.CompileBpf(layers.LinkTypeIPv4, cfg.BPFFilter, cfg.SnapLen)
		if err != nil {
			return nil, err
		}
		insns, allDecoded := bpf.Disassemble(raw)
		if !allDecoded {
			return nil, fmt.Errorf("filter %q uses instructions the user-space VM cannot run", cfg.BPFFilter)
		}
		vm, err = bpf.NewVM(insns)
	case cfg.Mode == config.ModeAll:
		return nil, nil
	default:
		vm, err = bpf.NewVM(igmpProgram)
	}
	if err != nil {
		return nil, err
	}
	return &datagramFilter{vm: vm}, nil
}

func (f *datagramFilter) match(datagram []byte) bool {
	if f == nil {
		return true
	}
	n, err := f.vm.Run(datagram)
	return err == nil && n > 0
}
