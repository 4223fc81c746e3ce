package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type appConfig struct {
	configFile      string
	backend         string
	canIf           string
	listenAddr      string
	serialEnable    bool
	serialDev       string
	serialBaud      int
	tickPeriod      time.Duration
	txTimeout       time.Duration
	drainTimeout    time.Duration
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	maxClients      int
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string
}

// fileConfig is the optional YAML file shape. Every field is a pointer
// so absent keys leave the corresponding setting untouched.
type fileConfig struct {
	Backend         *string `yaml:"backend"`
	CANInterface    *string `yaml:"can_interface"`
	Listen          *string `yaml:"listen"`
	SerialEnable    *bool   `yaml:"serial_enable"`
	SerialDevice    *string `yaml:"serial_device"`
	SerialBaud      *int    `yaml:"serial_baud"`
	TickPeriod      *string `yaml:"tick_period"`
	TransmitTimeout *string `yaml:"transmit_timeout"`
	DrainTimeout    *string `yaml:"drain_timeout"`
	LogFormat       *string `yaml:"log_format"`
	LogLevel        *string `yaml:"log_level"`
	MetricsAddr     *string `yaml:"metrics_addr"`
	MaxClients      *int    `yaml:"max_clients"`
	MDNSEnable      *bool   `yaml:"mdns_enable"`
	MDNSName        *string `yaml:"mdns_name"`
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	configFile := flag.String("config", "", "Optional YAML config file")
	backend := flag.String("backend", "mock", "CAN backend: mock|socketcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	listen := flag.String("listen", ":3333", "Command TCP listen address")
	serialEnable := flag.Bool("serial-enable", false, "Serve the command protocol on a serial port")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate")
	tickPeriod := flag.Duration("tick-period", 100*time.Millisecond, "Transmit scheduler period")
	txTimeout := flag.Duration("tx-timeout", 1*time.Second, "Per-frame transmit timeout")
	drainTimeout := flag.Duration("drain-timeout", 1*time.Second, "Receive drain poll timeout")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics/WebSocket HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	clientReadTO := flag.Duration("client-read-timeout", 5*time.Minute, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the command port")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default cansim-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over
	// env and file settings.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.configFile = *configFile
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.listenAddr = *listen
	cfg.serialEnable = *serialEnable
	cfg.serialDev = *serialDev
	cfg.serialBaud = *serialBaud
	cfg.tickPeriod = *tickPeriod
	cfg.txTimeout = *txTimeout
	cfg.drainTimeout = *drainTimeout
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if cfg.configFile != "" {
		if err := applyFileConfig(cfg, setFlags, cfg.configFile); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	// Env overrides beat the file but lose to explicit flags.
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

// validate performs semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only value ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
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
	switch c.backend {
	case "mock", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	if c.serialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.serialBaud)
	}
	if c.tickPeriod <= 0 {
		return fmt.Errorf("tick-period must be > 0")
	}
	if c.txTimeout <= 0 {
		return fmt.Errorf("tx-timeout must be > 0")
	}
	if c.drainTimeout <= 0 {
		return fmt.Errorf("drain-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyFileConfig merges YAML file values into c for settings the user
// did not pin with an explicit flag.
func applyFileConfig(c *appConfig, set map[string]struct{}, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	unset := func(name string) bool { _, ok := set[name]; return !ok }
	if fc.Backend != nil && unset("backend") {
		c.backend = *fc.Backend
	}
	if fc.CANInterface != nil && unset("can-if") {
		c.canIf = *fc.CANInterface
	}
	if fc.Listen != nil && unset("listen") {
		c.listenAddr = *fc.Listen
	}
	if fc.SerialEnable != nil && unset("serial-enable") {
		c.serialEnable = *fc.SerialEnable
	}
	if fc.SerialDevice != nil && unset("serial") {
		c.serialDev = *fc.SerialDevice
	}
	if fc.SerialBaud != nil && unset("serial-baud") {
		c.serialBaud = *fc.SerialBaud
	}
	if fc.LogFormat != nil && unset("log-format") {
		c.logFormat = *fc.LogFormat
	}
	if fc.LogLevel != nil && unset("log-level") {
		c.logLevel = *fc.LogLevel
	}
	if fc.MetricsAddr != nil && unset("metrics-addr") {
		c.metricsAddr = *fc.MetricsAddr
	}
	if fc.MaxClients != nil && unset("max-clients") {
		c.maxClients = *fc.MaxClients
	}
	if fc.MDNSEnable != nil && unset("mdns-enable") {
		c.mdnsEnable = *fc.MDNSEnable
	}
	if fc.MDNSName != nil && unset("mdns-name") {
		c.mdnsName = *fc.MDNSName
	}
	durs := []struct {
		flagName string
		val      *string
		dst      *time.Duration
	}{
		{"tick-period", fc.TickPeriod, &c.tickPeriod},
		{"tx-timeout", fc.TransmitTimeout, &c.txTimeout},
		{"drain-timeout", fc.DrainTimeout, &c.drainTimeout},
	}
	for _, d := range durs {
		if d.val == nil || !unset(d.flagName) {
			continue
		}
		parsed, err := time.ParseDuration(*d.val)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.flagName, path, err)
		}
		*d.dst = parsed
	}
	return nil
}

// applyEnvOverrides maps CANSIM_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are
// ignored; durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	parseBool := func(v string) (bool, bool) {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off":
			return false, true
		}
		return false, false
	}
	if _, ok := set["backend"]; !ok {
		if v, ok := get("CANSIM_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("CANSIM_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["listen"]; !ok {
		if v, ok := get("CANSIM_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["serial-enable"]; !ok {
		if v, ok := get("CANSIM_SERIAL_ENABLE"); ok && v != "" {
			if b, valid := parseBool(v); valid {
				c.serialEnable = b
			}
		}
	}
	if _, ok := set["serial"]; !ok {
		if v, ok := get("CANSIM_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["serial-baud"]; !ok {
		if v, ok := get("CANSIM_SERIAL_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.serialBaud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSIM_SERIAL_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["tick-period"]; !ok {
		if v, ok := get("CANSIM_TICK_PERIOD"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.tickPeriod = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSIM_TICK_PERIOD: %w", err)
			}
		}
	}
	if _, ok := set["tx-timeout"]; !ok {
		if v, ok := get("CANSIM_TX_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.txTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSIM_TX_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["drain-timeout"]; !ok {
		if v, ok := get("CANSIM_DRAIN_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.drainTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSIM_DRAIN_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CANSIM_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CANSIM_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANSIM_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CANSIM_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSIM_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("CANSIM_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSIM_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["client-read-timeout"]; !ok {
		if v, ok := get("CANSIM_CLIENT_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.clientReadTO = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CANSIM_CLIENT_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANSIM_MDNS_ENABLE"); ok && v != "" {
			if b, valid := parseBool(v); valid {
				c.mdnsEnable = b
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CANSIM_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
