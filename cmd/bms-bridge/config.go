package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kstaniek/go-bms-bridge/internal/bms"
	"github.com/kstaniek/go-bms-bridge/internal/can"
	"github.com/kstaniek/go-bms-bridge/internal/slcan"
)

const envPrefix = "BMS_BRIDGE_"

type appConfig struct {
	configPath      string
	backend         string
	canIf           string
	serialDev       string
	baud            int
	canBitrate      int
	serialReadTO    time.Duration
	deviceID        uint32
	pollSpacing     time.Duration
	legacyInt16     bool
	strictConfig    bool
	listA           string
	listB           string
	canFilter       bool
	logFormat       string
	logLevel        string
	logSamples      bool
	metricsAddr     string
	logMetricsEvery time.Duration
	telemetryBuffer int
	telemetryPolicy string
	mqttBroker      string
	mqttPrefix      string
	mqttClientID    string
	mqttUsername    string
	mqttPassword    string
	mdnsEnable      bool
	mdnsName        string
	console         bool
	envFile         string
}

// canIDValue parses standard 11-bit identifiers in decimal or 0x hex.
type canIDValue struct{ p *uint32 }

func (v canIDValue) String() string {
	if v.p == nil {
		return ""
	}
	return fmt.Sprintf("0x%03X", *v.p)
}

func (v canIDValue) Set(s string) error {
	n, err := parseCANID(s)
	if err != nil {
		return err
	}
	*v.p = n
	return nil
}

func parseCANID(s string) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad CAN id %q: %w", s, err)
	}
	if n > can.CAN_SFF_MASK {
		return 0, fmt.Errorf("CAN id %q exceeds 11 bits", s)
	}
	return uint32(n), nil
}

// parseFlags parses args (without the program name), loads the env file and
// applies BMS_BRIDGE_* overrides for flags not given explicitly.
func parseFlags(args []string) (*appConfig, bool, error) {
	cfg := &appConfig{deviceID: bms.DefaultDeviceID}
	flags := flag.NewFlagSet("bms-bridge", flag.ContinueOnError)
	flags.StringVar(&cfg.configPath, "config", "", "Parameter file (YAML) with the poll list sections")
	flags.StringVar(&cfg.backend, "backend", "socketcan", "CAN backend: socketcan|slcan")
	flags.StringVar(&cfg.canIf, "can-if", "can0", "SocketCAN interface (when -backend=socketcan)")
	flags.StringVar(&cfg.serialDev, "serial", "/dev/ttyACM0", "SLCAN serial device (when -backend=slcan)")
	flags.IntVar(&cfg.baud, "baud", 115200, "Serial baud rate")
	flags.IntVar(&cfg.canBitrate, "can-bitrate", 500000, "CAN bus bitrate set on SLCAN adapters")
	flags.DurationVar(&cfg.serialReadTO, "serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	flags.Var(canIDValue{&cfg.deviceID}, "device-id", "CAN id poll requests are sent to")
	flags.DurationVar(&cfg.pollSpacing, "poll-spacing", bms.DefaultSpacing, "Minimum interval between poll requests")
	flags.BoolVar(&cfg.legacyInt16, "legacy-int16", false, "Decode every field as big-endian int16 regardless of len/is_signed")
	flags.BoolVar(&cfg.strictConfig, "strict-config", false, "Refuse to start on parameter field errors")
	flags.StringVar(&cfg.listA, "poll-list-a", "diagnostics1", "Config section feeding poll list A")
	flags.StringVar(&cfg.listB, "poll-list-b", "diagnostics2", "Config section feeding poll list B")
	flags.BoolVar(&cfg.canFilter, "can-filter", false, "Install kernel receive filters for configured ids (socketcan)")
	flags.StringVar(&cfg.logFormat, "log-format", "text", "Log format: text|json")
	flags.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flags.BoolVar(&cfg.logSamples, "log-samples", false, "Log every decoded sample at info level")
	flags.StringVar(&cfg.metricsAddr, "metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	flags.DurationVar(&cfg.logMetricsEvery, "log-metrics-interval", 0, "If >0, periodically log metrics counters")
	flags.IntVar(&cfg.telemetryBuffer, "telemetry-buffer", 256, "Per-sink telemetry queue (samples)")
	flags.StringVar(&cfg.telemetryPolicy, "telemetry-policy", "drop", "Backpressure policy for slow sinks: drop|kick")
	flags.StringVar(&cfg.mqttBroker, "mqtt-broker", "", "MQTT broker (host[:port] or URL); empty disables")
	flags.StringVar(&cfg.mqttPrefix, "mqtt-topic-prefix", "", "MQTT topic prefix (default: first entry of the config topics list, else bms)")
	flags.StringVar(&cfg.mqttClientID, "mqtt-client-id", "bms-bridge", "MQTT client id")
	flags.StringVar(&cfg.mqttUsername, "mqtt-username", "", "MQTT username")
	flags.StringVar(&cfg.mqttPassword, "mqtt-password", "", "MQTT password")
	flags.BoolVar(&cfg.mdnsEnable, "mdns-enable", false, "Advertise the metrics endpoint via mDNS")
	flags.StringVar(&cfg.mdnsName, "mdns-name", "", "mDNS instance name (default bms-bridge-<hostname>)")
	flags.BoolVar(&cfg.console, "console", false, "Start the interactive operator console")
	flags.StringVar(&cfg.envFile, "env-file", ".env", "Environment file loaded before applying BMS_BRIDGE_* overrides")
	showVersion := flags.Bool("version", false, "Print version and exit")
	if err := flags.Parse(args); err != nil {
		return nil, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flags.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	if err := godotenv.Load(cfg.envFile); err != nil {
		_, explicit := setFlags["env-file"]
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("env file %s: %w", cfg.envFile, err)
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		return nil, false, fmt.Errorf("environment override error: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, false, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, false, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or files, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.configPath == "" {
		return errors.New("config is required")
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
	case "slcan", "socketcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.telemetryPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid telemetry-policy: %s", c.telemetryPolicy)
	}
	if c.telemetryBuffer <= 0 {
		return fmt.Errorf("telemetry-buffer must be > 0 (got %d)", c.telemetryBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if _, err := slcan.BitrateCode(c.canBitrate); err != nil {
		return fmt.Errorf("can-bitrate: %w", err)
	}
	if c.serialReadTO <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.pollSpacing < 0 {
		return errors.New("poll-spacing must be >= 0")
	}
	if c.deviceID > can.CAN_SFF_MASK {
		return fmt.Errorf("device-id 0x%X exceeds 11 bits", c.deviceID)
	}
	if c.listA == "" || c.listB == "" {
		return errors.New("poll-list-a and poll-list-b must name config sections")
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	if c.mdnsEnable && c.metricsAddr == "" {
		return errors.New("mdns-enable requires metrics-addr")
	}
	return nil
}

// envKey maps a flag name to its environment variable: "poll-spacing" ->
// BMS_BRIDGE_POLL_SPACING.
func envKey(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides maps BMS_BRIDGE_* environment variables to config fields
// unless the corresponding flag was explicitly set. Empty values are ignored.
// The first parse error is returned; later variables are still applied.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	fail := func(name string, err error) {
		if firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", envKey(name), err)
		}
	}
	lookup := func(name string) (string, bool) {
		if _, ok := set[name]; ok {
			return "", false
		}
		v, ok := os.LookupEnv(envKey(name))
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				fail(name, err)
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			default:
				fail(name, fmt.Errorf("not a boolean: %q", v))
			}
		}
	}

	str("config", &c.configPath)
	str("backend", &c.backend)
	str("can-if", &c.canIf)
	str("serial", &c.serialDev)
	integer("baud", &c.baud)
	integer("can-bitrate", &c.canBitrate)
	duration("serial-read-timeout", &c.serialReadTO)
	if v, ok := lookup("device-id"); ok {
		if id, err := parseCANID(v); err != nil {
			fail("device-id", err)
		} else {
			c.deviceID = id
		}
	}
	duration("poll-spacing", &c.pollSpacing)
	boolean("legacy-int16", &c.legacyInt16)
	boolean("strict-config", &c.strictConfig)
	str("poll-list-a", &c.listA)
	str("poll-list-b", &c.listB)
	boolean("can-filter", &c.canFilter)
	str("log-format", &c.logFormat)
	str("log-level", &c.logLevel)
	boolean("log-samples", &c.logSamples)
	str("metrics-addr", &c.metricsAddr)
	duration("log-metrics-interval", &c.logMetricsEvery)
	integer("telemetry-buffer", &c.telemetryBuffer)
	str("telemetry-policy", &c.telemetryPolicy)
	str("mqtt-broker", &c.mqttBroker)
	str("mqtt-topic-prefix", &c.mqttPrefix)
	str("mqtt-client-id", &c.mqttClientID)
	str("mqtt-username", &c.mqttUsername)
	str("mqtt-password", &c.mqttPassword)
	boolean("mdns-enable", &c.mdnsEnable)
	str("mdns-name", &c.mdnsName)
	boolean("console", &c.console)
	return firstErr
}
