package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/codeinterfacex/core/internal/config"
)

var Log = slog.New(slog.NewTextHandler(os.Stderr, nil))

// parseLevel resolves a config-supplied level name, defaulting to Info for
// anything unset or unrecognized. The teacher's own Init defaulted an
// unrecognized level to Debug; this module's own config layer already
// defaults Config.LogLevel to "info" (internal/config.Config), so an
// invalid override should fall back to that same default rather than the
// noisier one.
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

// InitFromConfig builds the global logger from the merged Config layer
// (project → user → default, per internal/config's own layering)
// instead of a bare level string: cfg.LogLevel picks the slog.Level,
// cfg.LogFormat picks text vs. JSON output, and cfg.LogDir (defaulting to
// OPCODE_LOG_DIR per spec §6) is where logFileName is written alongside
// stdout when set.
func InitFromConfig(cfg *config.Config, logFileName string) error {
	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	multiWriter := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten time format
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(multiWriter, opts)
	} else {
		handler = slog.NewTextHandler(multiWriter, opts)
	}

	Log = slog.New(handler)
	slog.SetDefault(Log)

	return nil
}

// Debug logs at debug level
func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

// Info logs at info level
func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

// Warn logs at warn level
func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}

// Error logs at error level
func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}
