// Command palpation runs the palpation controller against a robot, or a
// simulated gantry, and serves telemetry over gRPC and a debug HTTP port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/palpation/internal/config"
	"github.com/banshee-data/palpation/internal/ftsensor"
	"github.com/banshee-data/palpation/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the palpation JSON config")
	simulate    = flag.Bool("sim", false, "Drive a simulated gantry instead of a robot")
	ftSerial    = flag.String("ft-serial", "", "Serial port of a line-protocol force/torque sensor")
	ftBaud      = flag.Int("ft-baud", ftsensor.DefaultBaudRate, "Baud rate for -ft-serial")
	ftInit      = flag.String("ft-init", "", "Comma-separated commands sent to the serial sensor on start")
	ftUDP       = flag.String("ft-udp", "", "Address of a Net F/T sensor streaming RDT over UDP")
	ftPCAP      = flag.String("ft-pcap", "", "Replay RDT force/torque packets from a PCAP file")
	ftPCAPSpeed = flag.Float64("ft-pcap-speed", 1.0, "Replay speed multiplier for -ft-pcap (0 = as fast as possible)")
	jointsUDP   = flag.String("joints-udp", ":7400", "UDP address receiving JSON joint states (ignored with -sim)")
	jointsAge   = flag.Duration("joints-max-age", 50*time.Millisecond, "Reject joint states older than this (0 disables)")
	grpcListen  = flag.String("grpc-listen", ":50051", "gRPC telemetry listen address (empty disables)")
	listen      = flag.String("listen", ":8080", "Debug HTTP listen address (empty disables)")
	exitOnDone  = flag.Bool("exit-on-complete", false, "Exit once the palpation raster is complete")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("palpation %s\n", version.String())
		return
	}

	opts := options{
		ConfigPath:     *configPath,
		Simulate:       *simulate,
		FTSerial:       *ftSerial,
		FTBaud:         *ftBaud,
		FTInit:         splitCommands(*ftInit),
		FTUDP:          *ftUDP,
		FTPCAP:         *ftPCAP,
		FTPCAPSpeed:    *ftPCAPSpeed,
		JointsUDP:      *jointsUDP,
		JointsMaxAge:   *jointsAge,
		GRPCListen:     *grpcListen,
		Listen:         *listen,
		ExitOnComplete: *exitOnDone,
	}
	if err := opts.validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("palpation %s starting", version.Version)
	if err := run(ctx, opts); err != nil {
		log.Printf("palpation stopped: %v", err)
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}

func splitCommands(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
