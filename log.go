package graphicscore

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// componentLogger is a zerolog.Logger pinned to a "component" field. It replaces the
// teacher's three parallel *log.Logger file handles (core.go's info_log/error_log/warn_log)
// with a single structured sink per subsystem; spec.md §7's fatal paths ("log the site and
// abort") map onto componentLogger.Fatal, which os.Exit(1)s after writing the event.
type componentLogger struct {
	zerolog.Logger
}

// rootLogger is process-wide because Vulkan itself is process-wide: there is exactly one
// Device per process per spec.md §3, and every subsystem it owns shares one sink.
var rootLogger = func() zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger()
}()

func newComponentLogger(component string) *componentLogger {
	return &componentLogger{rootLogger.With().Str("component", component).Logger()}
}

// SetLogLevel adjusts the process-wide verbosity. No level is set by default, so Debug
// events are written until a higher level is set here.
func SetLogLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}
