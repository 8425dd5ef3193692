package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransportKind selects which transport.Transport backs a diagnostic session.
type TransportKind string

const (
	TransportSimulator    TransportKind = "simulator"
	TransportAutel        TransportKind = "autel"
	TransportELM327Serial TransportKind = "elm327-serial"
)

// Config holds vcicore runtime settings, loaded from the environment.
type Config struct {
	// Transport selection.
	Transport  TransportKind
	SerialPort string // address cmd/vcidiag dials over TCP for TransportELM327Serial
	AutelPath  string // address cmd/vcidiag dials over TCP for TransportAutel

	// Simulator.
	SimProfile  string // "standard" | "sports" | "diesel"
	SimScenario string // "off" | "idle" | "city" | "highway" | "aggressive" | "cold_start" | "engine_problem" | "overheating"
	SimSeed     int64

	// Timeouts (spec.md §5): default command round-trip, PassThru connect
	// handshake, and the longer VIN/multi-frame read.
	DefaultTimeout time.Duration
	ConnectTimeout time.Duration
	VINTimeout     time.Duration

	// Module scanner.
	ScanMode        string // "quick" | "full"
	ScanConcurrency int

	// Reference dictionary (internal/moduledb). ":memory:" seeds an
	// ephemeral in-process dictionary from Go literals.
	ModuleDBPath string

	// Metrics.
	MetricsEnabled bool
	MetricsAddr    string

	// DeviceID identifies this vcicore instance in logs and as a constant
	// label on exported metrics. Defaults to a freshly generated UUID so
	// multiple instances scraped by one Prometheus don't collide.
	DeviceID string
}

// Load reads Config from the environment. Call LoadEnvFile(".env") first to
// source a .env file into the process environment.
func Load() *Config {
	c := &Config{
		Transport:       TransportKind(getEnv("VCICORE_TRANSPORT", string(TransportSimulator))),
		SerialPort:      getEnv("VCICORE_SERIAL_PORT", "/dev/ttyUSB0"),
		AutelPath:       os.Getenv("VCICORE_AUTEL_PATH"),
		SimProfile:      getEnv("VCICORE_SIM_PROFILE", "standard"),
		SimScenario:     getEnv("VCICORE_SIM_SCENARIO", "idle"),
		SimSeed:         getEnvInt64("VCICORE_SIM_SEED", 1),
		DefaultTimeout:  getEnvDuration("VCICORE_DEFAULT_TIMEOUT", 5*time.Second),
		ConnectTimeout:  getEnvDuration("VCICORE_CONNECT_TIMEOUT", 15*time.Second),
		VINTimeout:      getEnvDuration("VCICORE_VIN_TIMEOUT", 15*time.Second),
		ScanMode:        getEnv("VCICORE_SCAN_MODE", "quick"),
		ScanConcurrency: getEnvInt("VCICORE_SCAN_CONCURRENCY", 4),
		ModuleDBPath:    getEnv("VCICORE_MODULEDB_PATH", ":memory:"),
		MetricsEnabled:  getEnvBool("VCICORE_METRICS_ENABLED", false),
		MetricsAddr:     getEnv("VCICORE_METRICS_ADDR", ":9108"),
		DeviceID:        os.Getenv("VCICORE_DEVICE_ID"),
	}
	if c.ScanConcurrency <= 0 {
		c.ScanConcurrency = 4
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 15 * time.Second
	}
	if c.VINTimeout <= 0 {
		c.VINTimeout = 15 * time.Second
	}
	if c.DeviceID == "" {
		c.DeviceID = uuid.NewString()
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
