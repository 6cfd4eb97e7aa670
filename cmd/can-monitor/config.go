package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	canif "github.com/kstaniek/go-canif"
)

type appConfig struct {
	backend         string // socketcan|slcan
	canIf           string
	serialDev       string
	baud            int
	bitrate         uint
	dbitrate        uint
	canFD           bool
	listenOnly      bool
	restartMs       int
	filters         string
	polled          bool
	hwTimestamp     bool
	quiet           bool
	send            string
	listenAddr      string
	maxClients      int
	hubBuffer       int
	hubPolicy       string
	metricsAddr     string
	mdnsEnable      bool
	mdnsName        string
	logFormat       string
	logLevel        string
	logMetricsEvery time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "socketcan", "Frame source: socketcan|slcan")
	canIf := flag.String("if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyACM0", "SLCAN serial device (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "SLCAN serial baud rate")
	bitrate := flag.Uint("bitrate", 0, "Nominal bit rate to configure; 0 leaves it as set externally")
	dbitrate := flag.Uint("dbitrate", 0, "CAN-FD data bit rate to configure; 0 leaves it as set externally")
	canFD := flag.Bool("fd", false, "Enable CAN-FD (64 byte payloads)")
	listenOnly := flag.Bool("listen-only", false, "Put the controller in listen-only mode")
	restartMs := flag.Int("restart-ms", -1, "Automatic bus-off recovery period in ms; -1 leaves it alone")
	filters := flag.String("filters", "", "Acceptance filters id:mask[,id:mask...] (hex); empty accepts everything")
	polled := flag.Bool("polled", false, "Do not start the driver goroutine; pump inline")
	hwTimestamp := flag.Bool("hw-timestamp", false, "Request raw hardware receive timestamps")
	quiet := flag.Bool("quiet", false, "Do not print frames to stdout")
	send := flag.String("send", "", "Send one frame (ID#HEXDATA) and exit")
	listen := flag.String("listen", "", "TCP stream listen address (e.g., :20001); empty disables")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous stream clients (0 = unlimited)")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client stream buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise the stream via mDNS")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default can-monitor-<hostname>)")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.bitrate = *bitrate
	cfg.dbitrate = *dbitrate
	cfg.canFD = *canFD
	cfg.listenOnly = *listenOnly
	cfg.restartMs = *restartMs
	cfg.filters = *filters
	cfg.polled = *polled
	cfg.hwTimestamp = *hwTimestamp
	cfg.quiet = *quiet
	cfg.send = *send
	cfg.listenAddr = *listen
	cfg.maxClients = *maxClients
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.metricsAddr = *metricsAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.backend {
	case "socketcan", "slcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if _, err := parseFilters(c.filters); err != nil {
		return err
	}
	if c.hwTimestamp && c.backend != "socketcan" {
		return errors.New("hw-timestamp requires --backend=socketcan")
	}
	return nil
}

// applyEnvOverrides maps CAN_MONITOR_* environment variables to config
// fields unless a corresponding flag was explicitly set (flag wins).
// Empty values are ignored.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) {
		v, ok := os.LookupEnv(k)
		return strings.TrimSpace(v), ok
	}
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else if firstErr == nil {
				firstErr = fmt.Errorf("%s: %v", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			} else if firstErr == nil {
				firstErr = fmt.Errorf("%s: %v", env, err)
			}
		}
	}
	str("backend", "CAN_MONITOR_BACKEND", &c.backend)
	str("if", "CAN_MONITOR_IF", &c.canIf)
	str("serial", "CAN_MONITOR_SERIAL", &c.serialDev)
	num("baud", "CAN_MONITOR_BAUD", &c.baud)
	str("filters", "CAN_MONITOR_FILTERS", &c.filters)
	str("listen", "CAN_MONITOR_LISTEN", &c.listenAddr)
	str("metrics-addr", "CAN_MONITOR_METRICS_ADDR", &c.metricsAddr)
	str("log-format", "CAN_MONITOR_LOG_FORMAT", &c.logFormat)
	str("log-level", "CAN_MONITOR_LOG_LEVEL", &c.logLevel)
	str("mdns-name", "CAN_MONITOR_MDNS_NAME", &c.mdnsName)
	boolean("mdns-enable", "CAN_MONITOR_MDNS_ENABLE", &c.mdnsEnable)
	boolean("fd", "CAN_MONITOR_FD", &c.canFD)
	num("hub-buffer", "CAN_MONITOR_HUB_BUFFER", &c.hubBuffer)
	str("hub-policy", "CAN_MONITOR_HUB_POLICY", &c.hubPolicy)
	return firstErr
}

// parseFilters parses "id:mask[,id:mask...]" in hex into kernel
// acceptance filters.
func parseFilters(s string) ([]canif.Filter, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]canif.Filter, 0, len(parts))
	for _, p := range parts {
		idStr, maskStr, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok {
			return nil, fmt.Errorf("filter %q: want id:mask", p)
		}
		id, err := strconv.ParseUint(idStr, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("filter id %q: %v", idStr, err)
		}
		mask, err := strconv.ParseUint(maskStr, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("filter mask %q: %v", maskStr, err)
		}
		out = append(out, canif.Filter{ID: uint32(id), Mask: uint32(mask)})
	}
	return out, nil
}

// canifConfig translates tool flags into the library configuration.
func (c *appConfig) canifConfig() canif.Config {
	cfg := canif.DefaultConfig()
	if c.bitrate > 0 {
		cfg.Bitrate = uint32(c.bitrate)
	}
	if c.dbitrate > 0 {
		cfg.DBitrate = uint32(c.dbitrate)
	}
	cfg.CanFdEnabled = c.canFD
	cfg.HWTimestamp = c.hwTimestamp
	if c.restartMs >= 0 {
		cfg.RestartMs = uint32(c.restartMs)
	}
	if c.listenOnly {
		cfg.CtrlMode = canif.CtrlMode{
			Mask:  canif.CtrlModeListenOnly,
			Flags: canif.CtrlModeListenOnly,
		}
	}
	cfg.PolledMode = c.polled
	return cfg
}
