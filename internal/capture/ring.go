package capture

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

const (
	tpacketAlignment = 16
	tpacketHdrLen    = 52
)

// ringLayout computes an AF_PACKET TPACKET_V3 ring close to bufferSizeMB.
// frameSize is aligned to TPACKET_ALIGNMENT and blockSize is a multiple of
// both the page size and frameSize.
func ringLayout(bufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if bufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("buffer size must be positive, got %d MB", bufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	// gopacket requires blockSize to be divisible by both.
	blockSize = lcm(pageSize, frameSize)

	numBlocks = max((bufferSizeMB*1024*1024)/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

// compileBPF compiles an Ethernet filter with libpcap and converts it for
// installation on a raw socket.
// filterProgram compiles the configured filter against the capture snap
// length. An empty filter yields no program.
func filterProgram(cfg Config) ([]bpf.RawInstruction, error) {
	if cfg.BPFFilter == "" {
		return nil, nil
	}
	return compileBPF(cfg.BPFFilter, cfg.SnapLen)
}

func compileBPF(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("compile bpf filter %q: %w", filter, err)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

func alignUp(n, align int) int {
	return ((n + align - 1) / align) * align
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
