//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pktstream/internal/core"
)

type afpacketHandle struct {
	tp *afpacket.TPacket
}

func openAFPacket(cfg Config) (Handle, error) {
	frameSize, blockSize, numBlocks, err := ringLayout(cfg.BufferSizeMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.ReadTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, fmt.Errorf("create tpacket: %w", err)
	}

	raw, err := filterProgram(cfg)
	if err != nil {
		tp.Close()
		return nil, err
	}
	if raw != nil {
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("set bpf: %w", err)
		}
	}
	if err := tp.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "interface", cfg.Interface, "error", err)
	}
	if cfg.Promiscuous {
		slog.Debug("afpacket does not toggle promiscuous mode, configure the interface directly",
			"interface", cfg.Interface)
	}

	slog.Debug("afpacket ring configured",
		"interface", cfg.Interface,
		"frame_size", frameSize,
		"block_size", blockSize,
		"num_blocks", numBlocks)

	return &afpacketHandle{tp: tp}, nil
}

func (a *afpacketHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := a.tp.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, core.ErrCaptureTimeout
	}
	return data, ci, err
}

func (a *afpacketHandle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (a *afpacketHandle) Stats() (Stats, error) {
	_, v3, err := a.tp.SocketStats()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Received:      uint64(v3.Packets()),
		KernelDropped: uint64(v3.Drops()),
	}, nil
}

func (a *afpacketHandle) Close() {
	a.tp.Close()
}
