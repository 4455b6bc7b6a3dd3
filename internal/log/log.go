package log

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	Configure("info", "console")
}

// Configure sets the global log level and output format.
// Level is one of trace, debug, info, warn, error; format is "console" or "json".
func Configure(level, format string) {
	var lvl zerolog.Level
	switch strings.ToLower(level) {
	case "trace":
		lvl = zerolog.TraceLevel
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	if format == "json" {
		logger = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
		return
	}

	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Debug logs a debug message with alternating key/value pairs.
func Debug(msg string, kv ...any) { emit(logger.Debug(), msg, kv) }

// Info logs an informational message with alternating key/value pairs.
func Info(msg string, kv ...any) { emit(logger.Info(), msg, kv) }

// Warn logs a warning with alternating key/value pairs.
func Warn(msg string, kv ...any) { emit(logger.Warn(), msg, kv) }

// Error logs an error with alternating key/value pairs.
func Error(msg string, kv ...any) { emit(logger.Error(), msg, kv) }

func emit(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		switch v := kv[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
