// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sets the global level and installs a logger writing to w. The text
// format uses the console writer, colored only when w is a terminal.
func Init(level, format string, w io.Writer) error {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		cw := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
			NoColor:    !isTerminal(w),
		}
		log.Logger = zerolog.New(cw).With().Timestamp().Logger()
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	default:
		return errors.Errorf("unknown log format %q", format)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
