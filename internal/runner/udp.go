package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/timeutil"
)

var (
	// ErrNoJointState is returned before the first valid datagram.
	ErrNoJointState = errors.New("no joint state received")
	// ErrStaleJointState is returned when the newest sample is older than
	// the configured maximum age.
	ErrStaleJointState = errors.New("joint state is stale")
)

// UDPJointConfig configures a UDPJointSource.
type UDPJointConfig struct {
	// Address to listen on, e.g. ":7400".
	Address string
	// Joints is the expected sample length.
	Joints int
	// MaxAge rejects samples older than this. Zero disables the check.
	MaxAge time.Duration
	// RcvBuf sets the socket receive buffer when positive.
	RcvBuf int
	Clock  timeutil.Clock
}

type jointSample struct {
	state kinematics.JointState
	at    time.Time
}

// UDPJointSource receives JSON joint samples, one per datagram:
//
//	{"position": [0.01, 0, -0.002], "velocity": [0, 0, -0.002]}
//
// Only the newest sample is kept.
type UDPJointSource struct {
	cfg    UDPJointConfig
	latest atomic.Pointer[jointSample]

	mu   sync.Mutex
	conn *net.UDPConn

	received atomic.Uint64
	invalid  atomic.Uint64
	badLog   rate.Sometimes
}

// NewUDPJointSource returns an unbound source.
func NewUDPJointSource(cfg UDPJointConfig) *UDPJointSource {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &UDPJointSource{cfg: cfg, badLog: rate.Sometimes{Interval: time.Second}}
}

// Listen binds the socket. Run calls it when needed.
func (s *UDPJointSource) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if s.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(s.cfg.RcvBuf); err != nil {
			logf("Warning: failed to set joint socket receive buffer to %d: %v", s.cfg.RcvBuf, err)
		}
	}
	s.conn = conn
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *UDPJointSource) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Run receives datagrams until ctx is cancelled.
func (s *UDPJointSource) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	defer s.Close()

	logf("joint state listener on %s expecting %d joints", conn.LocalAddr(), s.cfg.Joints)
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("joint state read: %w", err)
		}
		if err := s.handle(buf[:n]); err != nil {
			s.invalid.Add(1)
			monitoring.JointPackets.WithLabelValues("invalid").Inc()
			s.badLog.Do(func() { logf("dropping joint datagram from %v: %v", from, err) })
		}
	}
}

func (s *UDPJointSource) handle(b []byte) error {
	var js kinematics.JointState
	if err := json.Unmarshal(b, &js); err != nil {
		return err
	}
	if len(js.Positions) != s.cfg.Joints {
		return fmt.Errorf("%w: %d positions, want %d", kinematics.ErrJointCount, len(js.Positions), s.cfg.Joints)
	}
	switch len(js.Velocities) {
	case 0:
		js.Velocities = make([]float64, s.cfg.Joints)
	case s.cfg.Joints:
	default:
		return fmt.Errorf("%w: %d velocities, want %d", kinematics.ErrJointCount, len(js.Velocities), s.cfg.Joints)
	}
	for i := range js.Positions {
		if !finite(js.Positions[i]) || !finite(js.Velocities[i]) {
			return fmt.Errorf("%w: joint %d", kinematics.ErrNonFinite, i)
		}
	}
	s.latest.Store(&jointSample{state: js, at: s.cfg.Clock.Now()})
	s.received.Add(1)
	monitoring.JointPackets.WithLabelValues("ok").Inc()
	return nil
}

// Joints returns a copy of the newest sample.
func (s *UDPJointSource) Joints() (kinematics.JointState, error) {
	sample := s.latest.Load()
	if sample == nil {
		return kinematics.JointState{}, ErrNoJointState
	}
	if s.cfg.MaxAge > 0 {
		if age := s.cfg.Clock.Since(sample.at); age > s.cfg.MaxAge {
			return kinematics.JointState{}, fmt.Errorf("%w: %v old", ErrStaleJointState, age)
		}
	}
	return sample.state.Clone(), nil
}

// Wait blocks until the first valid sample arrives or ctx is done.
func (s *UDPJointSource) Wait(ctx context.Context) error {
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for s.latest.Load() == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
		}
	}
	return nil
}

// Counts returns the accepted and rejected datagram counts.
func (s *UDPJointSource) Counts() (received, invalid uint64) {
	return s.received.Load(), s.invalid.Load()
}

// Close closes the socket.
func (s *UDPJointSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
