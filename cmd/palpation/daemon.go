package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/palpation/internal/config"
	"github.com/banshee-data/palpation/internal/ftsensor"
	"github.com/banshee-data/palpation/internal/kinematics"
	"github.com/banshee-data/palpation/internal/monitoring"
	"github.com/banshee-data/palpation/internal/palpation"
	"github.com/banshee-data/palpation/internal/runner"
	"github.com/banshee-data/palpation/internal/security"
	"github.com/banshee-data/palpation/internal/sim"
	"github.com/banshee-data/palpation/internal/telemetry"
	"github.com/banshee-data/palpation/internal/timeutil"
	"github.com/banshee-data/palpation/internal/wrench"
)

// options is the parsed command line.
type options struct {
	ConfigPath string
	Simulate   bool

	FTSerial    string
	FTBaud      int
	FTInit      []string
	FTUDP       string
	FTPCAP      string
	FTPCAPSpeed float64

	JointsUDP    string
	JointsMaxAge time.Duration

	GRPCListen     string
	Listen         string
	ExitOnComplete bool

	// onHTTP is called with the bound debug address.
	onHTTP func(addr string)
}

func (o options) feeds() int {
	n := 0
	for _, s := range []string{o.FTSerial, o.FTUDP, o.FTPCAP} {
		if s != "" {
			n++
		}
	}
	return n
}

func (o options) validate() error {
	if o.ConfigPath == "" {
		return errors.New("-config is required")
	}
	if o.feeds() > 1 {
		return errors.New("at most one of -ft-serial, -ft-udp and -ft-pcap may be set")
	}
	if o.feeds() == 0 && !o.Simulate {
		return errors.New("a force/torque feed (-ft-serial, -ft-udp or -ft-pcap) is required without -sim")
	}
	if !o.Simulate && o.JointsUDP == "" {
		return errors.New("-joints-udp is required without -sim")
	}
	if o.FTPCAPSpeed < 0 {
		return fmt.Errorf("-ft-pcap-speed must not be negative, got %g", o.FTPCAPSpeed)
	}
	if o.JointsMaxAge < 0 {
		return fmt.Errorf("-joints-max-age must not be negative, got %v", o.JointsMaxAge)
	}
	return nil
}

// adminRoutes is implemented by feeds that expose debug routes.
type adminRoutes interface {
	AttachAdminRoutes(mux *http.ServeMux)
}

// newFeed opens the configured force/torque source. The second result is
// non-nil for feeds with their own debug routes.
func newFeed(o options, pc *config.PalpationConfig, sink ftsensor.Sink) (ftsensor.Source, adminRoutes, error) {
	switch {
	case o.FTSerial != "":
		m, err := ftsensor.OpenSerial(o.FTSerial, ftsensor.PortOptions{BaudRate: o.FTBaud}, sink)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open force/torque sensor: %w", err)
		}
		if err := m.Initialize(o.FTInit...); err != nil {
			m.Close()
			return nil, nil, fmt.Errorf("failed to initialise force/torque sensor: %w", err)
		}
		return m, m, nil
	case o.FTUDP != "":
		c, err := ftsensor.NewRDTClient(ftsensor.RDTConfig{
			Addr:            o.FTUDP,
			CountsPerForce:  pc.GetFTCountsPerForce(),
			CountsPerTorque: pc.GetFTCountsPerTorque(),
		}, sink)
		return c, nil, err
	case o.FTPCAP != "":
		sb, err := security.DefaultSandbox()
		if err != nil {
			return nil, nil, err
		}
		r, err := ftsensor.NewReplay(ftsensor.ReplayConfig{
			Path:            o.FTPCAP,
			CountsPerForce:  pc.GetFTCountsPerForce(),
			CountsPerTorque: pc.GetFTCountsPerTorque(),
			SpeedMultiplier: o.FTPCAPSpeed,
			AllowedDirs:     sb.Roots(),
		}, sink)
		return r, nil, err
	default:
		return ftsensor.NewDisabled(), nil, nil
	}
}

// simulatedRig builds a gantry rig homed on the estimator's zero pose with
// the default tissue depth below it.
func simulatedRig(est *kinematics.PoseEstimator, sink ftsensor.Sink) (*sim.Rig, error) {
	cfg := sim.DefaultRigConfig()
	home, err := sim.HomeFromEstimator(est, len(est.JointNames()))
	if err != nil {
		return nil, err
	}
	return sim.NewRig(cfg.WithHome(home), timeutil.RealClock{}, sink)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// controllerStatus is the controller part of the palpation-status route.
type controllerStatus struct {
	Runner   runner.Stats `json:"runner"`
	Phase    string       `json:"phase,omitempty"`
	Index    int          `json:"index"`
	Bias     wrench.Bias  `json:"bias"`
	Sampling bool         `json:"sampling"`
	Samples  uint64       `json:"wrench_samples"`
}

func run(parent context.Context, o options) error {
	pc, err := config.LoadPalpationConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := pc.Resolve()
	if err != nil {
		return err
	}
	est, err := pc.LoadEstimator()
	if err != nil {
		return fmt.Errorf("failed to load robot description: %w", err)
	}

	filter := wrench.NewFilter(cfg.BiasSamples)
	filter.OnSettle(func(b wrench.Bias) {
		monitoring.WrenchBias.Set(b.Value)
		log.Printf("force bias settled at %.4f N over %d samples", b.Value, b.Samples)
	})

	ctrl := palpation.NewController(filter)
	if err := ctrl.Configure(cfg, est); err != nil {
		return err
	}
	emitter := telemetry.NewEmitter(pc.GetTelemetryQueueSize(), pc.GetTelemetryHistory())

	feed, feedRoutes, err := newFeed(o, pc, filter)
	if err != nil {
		return err
	}
	defer feed.Close()

	commands := runner.MultiSink{emitter}
	var joints runner.JointSource
	var udpJoints *runner.UDPJointSource
	if o.Simulate {
		rig, err := simulatedRig(est, filter)
		if err != nil {
			return err
		}
		rig.Describe()
		joints = rig
		commands = append(commands, rig)
	} else {
		udpJoints = runner.NewUDPJointSource(runner.UDPJointConfig{
			Address: o.JointsUDP,
			Joints:  len(est.JointNames()),
			MaxAge:  o.JointsMaxAge,
			RcvBuf:  1 << 20,
		})
		if err := udpJoints.Listen(); err != nil {
			return err
		}
		defer udpJoints.Close()
		joints = udpJoints
	}

	r, err := runner.New(runner.Config{
		Controller:     ctrl,
		Joints:         joints,
		Commands:       commands,
		Records:        emitter,
		ExitOnComplete: o.ExitOnComplete,
	})
	if err != nil {
		return err
	}

	// All sockets are bound before the first goroutine starts.
	var grpcListener *telemetry.Listener
	if o.GRPCListen != "" {
		if grpcListener, err = telemetry.Listen(o.GRPCListen, emitter); err != nil {
			return err
		}
		defer grpcListener.Close()
	}

	var httpListener net.Listener
	var server *http.Server
	if o.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		emitter.AttachAdminRoutes(mux, func() any {
			st := controllerStatus{
				Runner:   r.Stats(),
				Bias:     filter.Bias(),
				Sampling: filter.Sampling(),
				Samples:  filter.Ingested(),
			}
			if out, ok := r.Last(); ok {
				st.Phase = out.Phase.String()
				st.Index = out.Record.Index
			}
			return st
		})
		if feedRoutes != nil {
			feedRoutes.AttachAdminRoutes(mux)
		}

		if httpListener, err = net.Listen("tcp", o.Listen); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", o.Listen, err)
		}
		server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if o.onHTTP != nil {
			o.onHTTP(httpListener.Addr().String())
		}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if udpJoints != nil {
		g.Go(func() error { return ignoreCanceled(udpJoints.Run(ctx)) })
	}

	g.Go(func() error {
		err := feed.Run(ctx)
		if err == nil && ctx.Err() == nil {
			log.Printf("force/torque feed finished")
		}
		return ignoreCanceled(err)
	})

	g.Go(func() error { return ignoreCanceled(emitter.Run(ctx)) })

	if grpcListener != nil {
		g.Go(func() error { return ignoreCanceled(grpcListener.Serve(ctx)) })
	}

	if server != nil {
		g.Go(func() error {
			log.Printf("debug HTTP server listening on %s", httpListener.Addr())
			if err := server.Serve(httpListener); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				return server.Close()
			}
			return nil
		})
	}

	g.Go(func() error {
		if udpJoints != nil {
			log.Printf("waiting for joint states on %s", udpJoints.Addr())
			if err := udpJoints.Wait(ctx); err != nil {
				return ignoreCanceled(err)
			}
		}
		err := r.Run(ctx)
		if err == nil {
			log.Printf("palpation raster complete, shutting down")
			cancel()
		}
		return ignoreCanceled(err)
	})

	return g.Wait()
}
