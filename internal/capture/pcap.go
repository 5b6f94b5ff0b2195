package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/pktstream/internal/core"
)

type pcapHandle struct {
	h *pcap.Handle
}

func openPcap(cfg Config) (Handle, error) {
	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, err
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, fmt.Errorf("set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("set promisc: %w", err)
	}
	if err := inactive.SetTimeout(cfg.ReadTimeout); err != nil {
		return nil, fmt.Errorf("set timeout: %w", err)
	}
	if err := inactive.SetBufferSize(cfg.BufferSizeMB * 1024 * 1024); err != nil {
		return nil, fmt.Errorf("set buffer size: %w", err)
	}
	if err := inactive.SetImmediateMode(cfg.Immediate); err != nil {
		return nil, fmt.Errorf("set immediate mode: %w", err)
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	if cfg.BPFFilter != "" {
		if err := h.SetBPFFilter(cfg.BPFFilter); err != nil {
			h.Close()
			return nil, fmt.Errorf("set bpf filter %q: %w", cfg.BPFFilter, err)
		}
	}
	return &pcapHandle{h: h}, nil
}

func (p *pcapHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := p.h.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, core.ErrCaptureTimeout
	}
	return data, ci, err
}

func (p *pcapHandle) LinkType() layers.LinkType {
	return p.h.LinkType()
}

func (p *pcapHandle) Stats() (Stats, error) {
	st, err := p.h.Stats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Received:         uint64(st.PacketsReceived),
		KernelDropped:    uint64(st.PacketsDropped),
		InterfaceDropped: uint64(st.PacketsIfDropped),
	}, nil
}

func (p *pcapHandle) Close() {
	p.h.Close()
}
