// Package logger holds the process-wide zerolog instance shared by the
// server and the maintenance CLI.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Log is the shared logger. Entry points call SetLevel once at startup;
// everything else logs through this instance or the zerolog global.
var Log zerolog.Logger

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339

	Log = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// SetLevel applies a level name to both the shared instance and the zerolog
// globals. The server modes "debug" and "release" double as level names;
// "release" maps to info, as does any unknown name.
func SetLevel(name string) {
	if name == "release" {
		name = "info"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		Log.Warn().Str("level", name).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
}
