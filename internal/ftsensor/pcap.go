package ftsensor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/security"
	"github.com/banshee-data/palpation/internal/wrench"
)

// ReplayConfig configures replay of a captured RDT stream.
type ReplayConfig struct {
	Path string
	// UDPPort selects datagrams by source or destination port; 0 means 49152.
	UDPPort         int
	CountsPerForce  float64
	CountsPerTorque float64
	// SpeedMultiplier scales the capture timing (2.0 replays twice as fast).
	// Zero replays as fast as the sink accepts samples.
	SpeedMultiplier float64
	// AllowedDirs, when non-empty, restricts Path to those directories.
	AllowedDirs []string
}

// Replay feeds RDT records from a pcap file into a sink.
type Replay struct {
	cfg  ReplayConfig
	sink Sink
	file *os.File
}

// ReplayStats summarises a finished replay.
type ReplayStats struct {
	Packets  int
	Records  int
	Rejected int
}

// NewReplay validates cfg and opens the capture.
func NewReplay(cfg ReplayConfig, sink Sink) (*Replay, error) {
	if cfg.UDPPort == 0 {
		cfg.UDPPort = RDTPort
	}
	if cfg.CountsPerForce <= 0 || cfg.CountsPerTorque <= 0 {
		return nil, fmt.Errorf("replay: counts per unit must be positive")
	}
	if len(cfg.AllowedDirs) > 0 {
		if err := security.NewSandbox(cfg.AllowedDirs...).Check(cfg.Path); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", cfg.Path, err)
	}
	if sink == nil {
		sink = SinkFunc(func(wrench.Wrench) {})
	}
	return &Replay{cfg: cfg, sink: sink, file: f}, nil
}

// Run implements Source. It returns nil at end of file.
func (r *Replay) Run(ctx context.Context) error {
	_, err := r.Replay(ctx)
	return err
}

// Replay reads the capture to the end, honouring the speed multiplier.
func (r *Replay) Replay(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats
	reader, err := pcapgo.NewReader(r.file)
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	src := gopacket.NewPacketSource(reader, reader.LinkType())
	port := layers.UDPPort(r.cfg.UDPPort)

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case packet, ok := <-src.Packets():
			if !ok || packet == nil {
				logf("pcap replay complete: %d packets, %d records, %d rejected",
					stats.Packets, stats.Records, stats.Rejected)
				return stats, nil
			}
			stats.Packets++

			if r.cfg.SpeedMultiplier > 0 {
				ts := packet.Metadata().Timestamp
				if !last.IsZero() {
					delay := time.Duration(float64(ts.Sub(last)) / r.cfg.SpeedMultiplier)
					if delay > 0 {
						select {
						case <-ctx.Done():
							return stats, ctx.Err()
						case <-time.After(delay):
						}
					}
				}
				last = ts
			}

			udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
			if !ok || (udp.SrcPort != port && udp.DstPort != port) {
				continue
			}
			if len(udp.Payload) == RDTRequestLength {
				// outbound start/stop requests share the port
				continue
			}
			rec, err := DecodeRDT(udp.Payload)
			if err != nil {
				stats.Rejected++
				monitoring.WrenchParseErrors.WithLabelValues("pcap").Inc()
				continue
			}
			stats.Records++
			r.sink.Ingest(rec.Scale(r.cfg.CountsPerForce, r.cfg.CountsPerTorque))
			monitoring.WrenchSamples.WithLabelValues("pcap").Inc()
		}
	}
}

// Close closes the capture file.
func (r *Replay) Close() error { return r.file.Close() }
