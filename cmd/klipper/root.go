package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/satindergrewal/klipper/internal/config"
	"github.com/spf13/cobra"
)

// cfg holds the environment configuration with flag overrides applied,
// populated in PersistentPreRunE.
var cfg config.Config

// logs creates the scoped loggers every component writes through.
var logs *logging.DefaultLoggerFactory

var (
	flagLogLevel  string
	flagFFmpeg    string
	flagDecodeURL string
	flagWorkers   int
)

var rootCmd = &cobra.Command{
	Use:           "klipper",
	Short:         "Arrange audio clips on a timeline, play them and export the mix",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.LogLevel = flagLogLevel
		}
		if flags.Changed("ffmpeg") {
			cfg.FFmpegPath = flagFFmpeg
		}
		if flags.Changed("decode-url") {
			cfg.DecodeURL = flagDecodeURL
		}
		if flags.Changed("workers") {
			cfg.ImportWorkers = flagWorkers
		}

		level, err := parseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logs = logging.NewDefaultLoggerFactory()
		logs.DefaultLogLevel = level
		logs.Writer = os.Stderr
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: trace, debug, info, warn, error or disabled (KLIPPER_LOG_LEVEL)")
	pf.StringVar(&flagFFmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary for decoding and encoding (KLIPPER_FFMPEG)")
	pf.StringVar(&flagDecodeURL, "decode-url", "", "remote decode service tried after ffmpeg (KLIPPER_DECODE_URL)")
	pf.IntVar(&flagWorkers, "workers", 4, "concurrent decodes during import (KLIPPER_IMPORT_WORKERS)")

	rootCmd.AddCommand(editCmd, playCmd, exportCmd, serveCmd)
}

func parseLevel(s string) (logging.LogLevel, error) {
	switch strings.ToLower(s) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled, nil
	case "error":
		return logging.LogLevelError, nil
	case "warn", "warning":
		return logging.LogLevelWarn, nil
	case "info":
		return logging.LogLevelInfo, nil
	case "debug":
		return logging.LogLevelDebug, nil
	case "trace":
		return logging.LogLevelTrace, nil
	}
	return logging.LogLevelDisabled, fmt.Errorf("unknown log level %q", s)
}
