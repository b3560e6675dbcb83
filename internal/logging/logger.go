// Package logging provides the configured zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log lines go.
type Options struct {
	Service     string
	Development bool
	ToStdout    bool
	Folder      string // used when ToStdout is false
	Filename    string
}

func init() {
	// Error events carry a stack when .Stack() is used, even for std errors.
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
}

// New returns a logger for the service. Development mode writes human
// readable console output; otherwise JSON lines go to stdout or to a
// rotating file in opts.Folder.
func New(opts Options) zerolog.Logger {
	var out io.Writer = os.Stdout
	if opts.Development {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	if !opts.ToStdout && opts.Folder != "" {
		name := opts.Filename
		if name == "" {
			name = "supportbot.log"
		}
		file := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Folder, filepath.Base(name)),
			MaxSize:    1, // megabytes
			MaxBackups: 30,
		}
		out = zerolog.MultiLevelWriter(out, file)
	}

	return zerolog.New(out).With().
		Str("service", opts.Service).
		Timestamp().
		Logger()
}
