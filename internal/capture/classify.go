package capture

import (
	"github.com/google/gopacket/layers"

	"firestige.xyz/pktstream/internal/core"
)

// protocolOffset is the position of the IPv4 protocol byte for each link
// type: the link header length plus 9.
var protocolOffset = map[layers.LinkType]int{
	layers.LinkTypeEthernet: 14 + 9,
	layers.LinkTypeLinuxSLL: 16 + 9,
	layers.LinkTypeNull:     4 + 9,
	layers.LinkTypeLoop:     4 + 9,
	layers.LinkTypeRaw:      9,
	layers.LinkTypeIPv4:     9,
}

// Classify tags a frame as TCP, UDP or OTHER from the IPv4 protocol byte at a
// fixed offset. Frames that are too short, of an unknown link type, or
// carrying any other protocol are OTHER. No header is validated.
func Classify(frame []byte, linkType layers.LinkType) core.Protocol {
	off, ok := protocolOffset[linkType]
	if !ok || len(frame) <= off {
		return core.ProtocolOther
	}
	switch layers.IPProtocol(frame[off]) {
	case layers.IPProtocolTCP:
		return core.ProtocolTCP
	case layers.IPProtocolUDP:
		return core.ProtocolUDP
	default:
		return core.ProtocolOther
	}
}
