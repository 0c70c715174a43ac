// Package config parses the daemon's command-line flags and environment
// overrides, and loads the YAML vehicle profile file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the daemon's runtime configuration: which CAN transport to
// use and how to reach it, which vehicle platform to decode, and the
// ambient logging/metrics/discovery settings.
type Config struct {
	Backend    string // socketcan | elm327-tcp | elm327-usb | elm327-ble | bench-pcan
	CANIface   string // SocketCAN interface name, when Backend == socketcan
	SerialDev  string // serial device path, when Backend == elm327-usb
	Baud       int
	TCPAddr    string // adapter address, when Backend == elm327-tcp

	VehicleConfigPath string
	RequestTimeout    time.Duration
	EvalInterval      time.Duration
	DrainInterval     time.Duration

	LogFormat   string
	LogLevel    string
	MetricsAddr string

	MDNSEnable bool
	MDNSName   string
}

// ParseFlags parses os.Args, applies OBDTEL_* environment overrides for any
// flag not explicitly set on the command line, and validates the result.
func ParseFlags() (*Config, bool, error) {
	cfg := &Config{}

	backend := flag.String("backend", "socketcan", "CAN transport: socketcan|elm327-tcp|elm327-usb|elm327-ble|bench-pcan")
	canIface := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial-dev", "/dev/ttyUSB0", "Serial device path (when --backend=elm327-usb)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	tcpAddr := flag.String("tcp-addr", "192.168.0.10:35000", "ELM327 Wi-Fi adapter address (when --backend=elm327-tcp)")
	vehicleConfigPath := flag.String("vehicle-config", "/etc/obdtelemetryd/vehicle.yaml", "Path to the vehicle profile YAML file")
	requestTimeout := flag.Duration("request-timeout", 500*time.Millisecond, "UDS request timeout")
	evalInterval := flag.Duration("eval-interval", 100*time.Millisecond, "Vehicle evaluator tick interval")
	drainInterval := flag.Duration("drain-interval", 250*time.Millisecond, "Data broker drain tick interval")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g. :9100); empty disables")
	mdnsEnable := flag.Bool("mdns-enable", false, "Browse mDNS for an ELM327 Wi-Fi adapter instead of using --tcp-addr")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name to match; empty matches the first adapter found")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	set := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	cfg.Backend = *backend
	cfg.CANIface = *canIface
	cfg.SerialDev = *serialDev
	cfg.Baud = *baud
	cfg.TCPAddr = *tcpAddr
	cfg.VehicleConfigPath = *vehicleConfigPath
	cfg.RequestTimeout = *requestTimeout
	cfg.EvalInterval = *evalInterval
	cfg.DrainInterval = *drainInterval
	cfg.LogFormat = *logFormat
	cfg.LogLevel = *logLevel
	cfg.MetricsAddr = *metricsAddr
	cfg.MDNSEnable = *mdnsEnable
	cfg.MDNSName = *mdnsName

	if err := applyEnvOverrides(cfg, set); err != nil {
		return nil, *showVersion, err
	}
	if err := cfg.validate(); err != nil {
		return nil, *showVersion, err
	}
	return cfg, *showVersion, nil
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.Backend {
	case "socketcan", "elm327-tcp", "elm327-usb", "elm327-ble", "bench-pcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.Backend)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.LogLevel)
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.Baud)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request-timeout must be > 0")
	}
	if c.EvalInterval <= 0 {
		return errors.New("eval-interval must be > 0")
	}
	if c.DrainInterval <= 0 {
		return errors.New("drain-interval must be > 0")
	}
	return nil
}

// applyEnvOverrides maps OBDTEL_* environment variables onto cfg, skipping
// any field whose flag was explicitly set (flags win over environment).
func applyEnvOverrides(c *Config, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["backend"]; !ok {
		if v, ok := get("OBDTEL_BACKEND"); ok && v != "" {
			c.Backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("OBDTEL_CAN_IF"); ok && v != "" {
			c.CANIface = v
		}
	}
	if _, ok := set["serial-dev"]; !ok {
		if v, ok := get("OBDTEL_SERIAL_DEV"); ok && v != "" {
			c.SerialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("OBDTEL_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.Baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid OBDTEL_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["tcp-addr"]; !ok {
		if v, ok := get("OBDTEL_TCP_ADDR"); ok && v != "" {
			c.TCPAddr = v
		}
	}
	if _, ok := set["vehicle-config"]; !ok {
		if v, ok := get("OBDTEL_VEHICLE_CONFIG"); ok && v != "" {
			c.VehicleConfigPath = v
		}
	}
	if _, ok := set["request-timeout"]; !ok {
		if v, ok := get("OBDTEL_REQUEST_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.RequestTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid OBDTEL_REQUEST_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("OBDTEL_LOG_FORMAT"); ok && v != "" {
			c.LogFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("OBDTEL_LOG_LEVEL"); ok && v != "" {
			c.LogLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("OBDTEL_METRICS_ADDR"); ok {
			c.MetricsAddr = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("OBDTEL_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.MDNSEnable = true
			case "0", "false", "no", "off":
				c.MDNSEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("OBDTEL_MDNS_NAME"); ok && v != "" {
			c.MDNSName = v
		}
	}
	return firstErr
}
