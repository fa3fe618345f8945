package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultConnectionString = "Host=localhost;Port=5432;Database=payment_gateway_db;Username=postgres;Password=postgres;Timeout=30;CommandTimeout=30"
const defaultHTTPAddr = ":8080"
const defaultChannelID = "GatewayApp"
const defaultChannelKey = "GatewayKey001"

type Config struct {
	DatabaseDSN     string
	MigrationsDir   string
	HTTPAddr        string
	ChannelID       string
	ChannelKey      string
	EngineLanes     int
	LaneCapacity    int
	MaxAttempts     int
	AdmissionRate   float64
	AdmissionBurst  int
	ShutdownTimeout time.Duration
}

func Load() (Config, error) {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	conn := strings.TrimSpace(os.Getenv("DATABASE_DSN"))
	if conn == "" {
		conn = defaultConnectionString
	}

	addr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if addr == "" {
		addr = defaultHTTPAddr
	}

	channelID := strings.TrimSpace(os.Getenv("CHANNEL_ID"))
	if channelID == "" {
		channelID = defaultChannelID
	}

	channelKey := strings.TrimSpace(os.Getenv("CHANNEL_KEY"))
	if channelKey == "" {
		channelKey = defaultChannelKey
	}

	return Config{
		DatabaseDSN:     normalizeConnectionString(conn),
		MigrationsDir:   filepath.Join("migrations"),
		HTTPAddr:        addr,
		ChannelID:       channelID,
		ChannelKey:      channelKey,
		EngineLanes:     intEnv("ENGINE_LANES", 5),
		LaneCapacity:    intEnv("ENGINE_LANE_CAPACITY", 1024),
		MaxAttempts:     intEnv("ENGINE_MAX_ATTEMPTS", 3),
		AdmissionRate:   floatEnv("ENGINE_ADMISSION_RATE", 0),
		AdmissionBurst:  intEnv("ENGINE_ADMISSION_BURST", 1),
		ShutdownTimeout: time.Duration(intEnv("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}, nil
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func normalizeConnectionString(raw string) string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	hasSSLMode := false

	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}

		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}

		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.TrimSpace(kv[1])

		switch key {
		case "host":
			out = append(out, "host="+val)
		case "port":
			out = append(out, "port="+val)
		case "database":
			out = append(out, "dbname="+val)
		case "username":
			out = append(out, "user="+val)
		case "password":
			out = append(out, "password="+val)
		case "timeout", "connect timeout":
			out = append(out, "connect_timeout="+val)
		case "commandtimeout", "command timeout":
			out = append(out, "statement_timeout="+val+"s")
		case "sslmode":
			hasSSLMode = true
			out = append(out, "sslmode="+val)
		default:
			out = append(out, key+"="+val)
		}
	}

	if len(out) == 0 {
		return raw
	}

	if !hasSSLMode {
		out = append(out, "sslmode=disable")
	}

	return strings.Join(out, " ")
}
