package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component names attached to log lines as the "component" field.
const (
	APP      = "app"
	CITATION = "citation"
	CONFIG   = "config"
	HANDLER  = "handler"
	KB       = "kb"
	QUERY    = "query"
	REDIS    = "redis"
	RESOURCE = "resource"
	STREAM   = "stream"
)

func getLogLevel() zerolog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func newWriter(out io.Writer) io.Writer {
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

// Init configures the global zerolog logger from LOG_LEVEL and LOG_FORMAT.
func Init() {
	InitWithWriter(os.Stderr)
}

func InitWithWriter(out io.Writer) {
	zerolog.SetGlobalLevel(getLogLevel())
	log.Logger = zerolog.New(newWriter(out)).With().Timestamp().Logger()
}

// For returns a child of the global logger tagged with the component name.
func For(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
