package ftsensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/wrench"
)

// Net F/T raw data transfer protocol constants.
const (
	RDTPort          = 49152
	RDTHeader        = 0x1234
	RDTRequestLength = 8
	RDTRecordLength  = 36

	RDTCommandStop           = 0x0000
	RDTCommandStartRealtime  = 0x0002
	RDTCommandStartBuffered  = 0x0003
	RDTCommandResetThreshold = 0x0041
	RDTCommandSetBias        = 0x0042
)

// ErrShortRecord is returned for datagrams shorter than one RDT record.
var ErrShortRecord = errors.New("rdt: short record")

// RDTRecord is one decoded RDT datagram.
type RDTRecord struct {
	Sequence   uint32
	FTSequence uint32
	Status     uint32
	Counts     [6]int32
}

// Scale converts raw counts into newtons and newton-metres.
func (r RDTRecord) Scale(countsPerForce, countsPerTorque float64) wrench.Wrench {
	c := r.Counts
	return wrench.Wrench{
		Force: r3.Vec{
			X: float64(c[0]) / countsPerForce,
			Y: float64(c[1]) / countsPerForce,
			Z: float64(c[2]) / countsPerForce,
		},
		Torque: r3.Vec{
			X: float64(c[3]) / countsPerTorque,
			Y: float64(c[4]) / countsPerTorque,
			Z: float64(c[5]) / countsPerTorque,
		},
	}
}

// EncodeRDTRequest builds the 8-byte request datagram. A count of zero asks
// for an unbounded stream.
func EncodeRDTRequest(command uint16, count uint32) []byte {
	b := make([]byte, RDTRequestLength)
	binary.BigEndian.PutUint16(b[0:2], RDTHeader)
	binary.BigEndian.PutUint16(b[2:4], command)
	binary.BigEndian.PutUint32(b[4:8], count)
	return b
}

// DecodeRDT parses one big-endian RDT record.
func DecodeRDT(b []byte) (RDTRecord, error) {
	if len(b) < RDTRecordLength {
		return RDTRecord{}, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(b))
	}
	r := RDTRecord{
		Sequence:   binary.BigEndian.Uint32(b[0:4]),
		FTSequence: binary.BigEndian.Uint32(b[4:8]),
		Status:     binary.BigEndian.Uint32(b[8:12]),
	}
	for i := range r.Counts {
		off := 12 + 4*i
		r.Counts[i] = int32(binary.BigEndian.Uint32(b[off : off+4]))
	}
	return r, nil
}

// EncodeRDT is the inverse of DecodeRDT. Used by fixtures and the simulator.
func EncodeRDT(r RDTRecord) []byte {
	b := make([]byte, RDTRecordLength)
	binary.BigEndian.PutUint32(b[0:4], r.Sequence)
	binary.BigEndian.PutUint32(b[4:8], r.FTSequence)
	binary.BigEndian.PutUint32(b[8:12], r.Status)
	for i, c := range r.Counts {
		off := 12 + 4*i
		binary.BigEndian.PutUint32(b[off:off+4], uint32(c))
	}
	return b
}

// RDTConfig configures an RDT client.
type RDTConfig struct {
	// Addr is host or host:port of the sensor; the port defaults to 49152.
	Addr            string
	CountsPerForce  float64
	CountsPerTorque float64
	// ReadTimeout bounds each read so cancellation is observed; 0 means 250ms.
	ReadTimeout time.Duration
}

// RDTClient streams samples from an ATI Net F/T box over UDP.
type RDTClient struct {
	cfg  RDTConfig
	sink Sink

	mu   sync.Mutex
	conn *net.UDPConn

	lastSeq  atomic.Uint32
	gaps     atomic.Uint64
	errorLog rate.Sometimes
}

// NewRDTClient validates cfg and returns an unconnected client.
func NewRDTClient(cfg RDTConfig, sink Sink) (*RDTClient, error) {
	if cfg.Addr == "" {
		return nil, errors.New("rdt: address required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, fmt.Sprint(RDTPort))
	}
	if cfg.CountsPerForce <= 0 || cfg.CountsPerTorque <= 0 {
		return nil, fmt.Errorf("rdt: counts per unit must be positive (force=%g torque=%g)",
			cfg.CountsPerForce, cfg.CountsPerTorque)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 250 * time.Millisecond
	}
	if sink == nil {
		sink = SinkFunc(func(wrench.Wrench) {})
	}
	return &RDTClient{cfg: cfg, sink: sink, errorLog: rate.Sometimes{Interval: time.Second}}, nil
}

// Gaps reports how many RDT sequence numbers were skipped.
func (c *RDTClient) Gaps() uint64 { return c.gaps.Load() }

// Run dials the sensor, requests an unbounded realtime stream and forwards
// every record to the sink until ctx is cancelled.
func (c *RDTClient) Run(ctx context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rdt: resolve %s: %w", c.cfg.Addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("rdt: dial %s: %w", c.cfg.Addr, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.Close()

	if _, err := conn.Write(EncodeRDTRequest(RDTCommandStartRealtime, 0)); err != nil {
		return fmt.Errorf("rdt: start stream: %w", err)
	}
	logf("RDT stream requested from %s", c.cfg.Addr)

	buf := make([]byte, 512)
	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("rdt: read: %w", err)
		}
		rec, err := DecodeRDT(buf[:n])
		if err != nil {
			monitoring.WrenchParseErrors.WithLabelValues("rdt").Inc()
			c.errorLog.Do(func() { logf("RDT decode: %v", err) })
			continue
		}
		if !first && rec.Sequence != c.lastSeq.Load()+1 {
			c.gaps.Add(1)
		}
		first = false
		c.lastSeq.Store(rec.Sequence)
		c.sink.Ingest(rec.Scale(c.cfg.CountsPerForce, c.cfg.CountsPerTorque))
		monitoring.WrenchSamples.WithLabelValues("rdt").Inc()
	}
}

// Close asks the sensor to stop streaming and releases the socket.
func (c *RDTClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.Write(EncodeRDTRequest(RDTCommandStop, 0))
	err := c.conn.Close()
	c.conn = nil
	return err
}
