package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/monokrome/mkOS/internal/constants"
	"github.com/rs/zerolog"
)

// Log is the shared logger. Steps derive subloggers from it with the
// device/step context they operate on.
var Log zerolog.Logger

func init() {
	Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// SetLogger configures console + persistent file output and the log level.
// Debug is enabled by the --debug flag or the MKOS_DEBUG env var.
func SetLogger(debug bool) {
	level := zerolog.InfoLevel
	if debug || os.Getenv("MKOS_DEBUG") != "" {
		level = zerolog.DebugLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr}}
	if err := os.MkdirAll(constants.LogDir, os.ModeDir|os.ModePerm); err == nil {
		f, err := os.OpenFile(filepath.Join(constants.LogDir, "mkos.log"),
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			writers = append(writers, f)
		}
	}

	Log = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
}
