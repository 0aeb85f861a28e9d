package config

import (
	"os"
	"strconv"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Decoding
	FFmpegPath      string
	DecodeURL       string // remote decode service, empty to disable
	DecodeAPIKey    string
	ImportWorkers   int
	WatchDir        string // auto-import folder, empty to disable
	DecodeRetryWait time.Duration

	// Editing and playback
	TickInterval time.Duration // playhead update rate
	HistoryLimit int           // 0 keeps every snapshot
	MasterVolume float64

	// Output
	ExportFormat string
	OpusBitrate  int

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("KLIPPER_PORT", 8080),

		FFmpegPath:      envStr("KLIPPER_FFMPEG", "ffmpeg"),
		DecodeURL:       envStr("KLIPPER_DECODE_URL", ""),
		DecodeAPIKey:    envStr("KLIPPER_DECODE_API_KEY", ""),
		ImportWorkers:   envInt("KLIPPER_IMPORT_WORKERS", 4),
		WatchDir:        envStr("KLIPPER_WATCH_DIR", ""),
		DecodeRetryWait: envDuration("KLIPPER_DECODE_RETRY", 5*time.Second),

		TickInterval: envDuration("KLIPPER_TICK_INTERVAL", 16*time.Millisecond),
		HistoryLimit: envInt("KLIPPER_HISTORY_LIMIT", 0),
		MasterVolume: envFloat("KLIPPER_MASTER_VOLUME", 1.0),

		ExportFormat: envStr("KLIPPER_EXPORT_FORMAT", "wav"),
		OpusBitrate:  envInt("KLIPPER_OPUS_BITRATE", 128000),

		LogLevel: envStr("KLIPPER_LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration accepts Go durations ("250ms") or bare milliseconds ("250").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}
