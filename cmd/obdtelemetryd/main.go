// Command obdtelemetryd reads live telemetry from a vehicle's OBD-II/UDS
// bus over SocketCAN or an ELM327 adapter, decodes it per the configured
// vehicle platform, and republishes it through the data broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/LoveWonYoung/obdtelemetry/internal/broker"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio/bench"
	"github.com/LoveWonYoung/obdtelemetry/internal/canio/elm327"
	"github.com/LoveWonYoung/obdtelemetry/internal/config"
	"github.com/LoveWonYoung/obdtelemetry/internal/decoders"
	"github.com/LoveWonYoung/obdtelemetry/internal/discovery"
	"github.com/LoveWonYoung/obdtelemetry/internal/isotp"
	"github.com/LoveWonYoung/obdtelemetry/internal/logging"
	"github.com/LoveWonYoung/obdtelemetry/internal/metrics"
	"github.com/LoveWonYoung/obdtelemetry/internal/orchestrator"
	"github.com/LoveWonYoung/obdtelemetry/internal/vehicle"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, showVersion, err := config.ParseFlags()
	if showVersion {
		fmt.Printf("obdtelemetryd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	level := parseLevel(cfg.LogLevel)
	logging.Set(logging.New(cfg.LogFormat, level, nil))
	l := logging.L()

	profile, err := config.LoadVehicleProfile(cfg.VehicleConfigPath)
	if err != nil {
		l.Error("vehicle_profile_load_failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broker.New()
	b.SetFastAverage(profile.FastAverage)

	decoder, err := buildDecoder(profile.Platform, b)
	if err != nil {
		l.Error("decoder_init_failed", "error", err)
		os.Exit(1)
	}

	backend, err := buildBackend(ctx, cfg, decoder.Bitrate500k())
	if err != nil {
		l.Error("backend_init_failed", "error", err)
		os.Exit(1)
	}
	if err := backend.Start(ctx); err != nil {
		l.Error("backend_start_failed", "error", err)
		os.Exit(1)
	}
	defer backend.Stop()

	tp := isotp.NewManager(backend, cfg.RequestTimeout)
	go tp.Run(ctx)

	vm := vehicle.NewManager(tp, decoder, b)
	l.Info("vehicle_ready", "platform", vm.Name(), "active_requests", vm.Len())

	if cfg.MetricsAddr != "" {
		srv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	}()

	orchestrator.Run(ctx, orchestrator.Config{
		EvalInterval:  cfg.EvalInterval,
		DrainInterval: cfg.DrainInterval,
	}, vm, b)
}

func buildDecoder(platform string, pub broker.Publisher) (vehicle.Decoder, error) {
	switch platform {
	case "nissan-leaf-ze1":
		return decoders.NewLeafZE1(pub), nil
	case "vw-meb-rwd":
		return decoders.NewVWMEBRWD(pub), nil
	case "vw-meb-awd":
		return decoders.NewVWMEBAWD(pub), nil
	default:
		return nil, fmt.Errorf("unknown vehicle platform %q", platform)
	}
}

// buildBackend constructs the configured canio.Backend. bitrate500k comes
// from the selected decoder's own CAN bus speed requirement (the original's
// per-vehicle can_is_500k field), not a fixed assumption, so a 250k platform
// is driven at the right speed over the ELM327 link.
func buildBackend(ctx context.Context, cfg *config.Config, bitrate500k bool) (canio.Backend, error) {
	switch cfg.Backend {
	case "socketcan":
		return canio.NewSocketCAN(cfg.CANIface), nil
	case "elm327-tcp":
		addr := cfg.TCPAddr
		if cfg.MDNSEnable {
			found, err := discovery.FindAdapter(ctx, cfg.MDNSName)
			if err != nil {
				return nil, fmt.Errorf("mdns discovery: %w", err)
			}
			addr = found
		}
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("elm327-tcp address %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("elm327-tcp address %q: invalid port: %w", addr, err)
		}
		link := elm327.NewTCPLink(host, port)
		return elm327.New(link, elm327.Config{RequestTimeout: cfg.RequestTimeout, Bitrate500k: bitrate500k}), nil
	case "elm327-usb":
		link := elm327.NewSerialLink(cfg.SerialDev, cfg.Baud)
		return elm327.New(link, elm327.Config{RequestTimeout: cfg.RequestTimeout, Bitrate500k: bitrate500k}), nil
	case "elm327-ble":
		return nil, fmt.Errorf("elm327-ble requires a platform-supplied notification channel, not available from the CLI")
	case "bench-pcan":
		return bench.New(0), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
