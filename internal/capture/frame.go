package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var stripOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// stripToIPv4 returns the part of a captured frame that starts at the IPv4
// header. Any encapsulation gopacket can decode (Ethernet, 802.1Q, Linux SLL,
// loopback, raw IP) is skipped. ok is false when the frame holds no IPv4
// datagram.
func stripToIPv4(frame []byte, linkType layers.LinkType) (datagram []byte, ok bool) {
	if len(frame) == 0 {
		return nil, false
	}

	// Raw IP links need no decoding at all
	switch linkType {
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		if frame[0]>>4 != 4 {
			return nil, false
		}
		return frame, true
	}

	packet := gopacket.NewPacket(frame, linkType, stripOptions)
	offset := 0
	for _, layer := range packet.Layers() {
		if layer.LayerType() == layers.LayerTypeIPv4 {
			if offset >= len(frame) {
				return nil, false
			}
			return frame[offset:], true
		}
		offset += len(layer.LayerContents())
	}
	return nil, false
}
