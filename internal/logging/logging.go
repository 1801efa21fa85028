// Package logging configures the global zerolog logger for the daemon.
//
// Events fan out to the system log, to stderr when a console is attached, and
// optionally to a size-rotated file. The file sink matters once the daemon has
// pointed its standard streams at /dev/null.
package logging

import (
	"errors"
	"io"
	"log/syslog"
	"os"
	"strings"
	"time"

	"github.com/117503445/goutils/glog"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log sinks
type Options struct {
	Level     string
	Console   bool   // Write to stderr
	Syslog    bool   // Write to the system log
	SyslogTag string // Program name in syslog records
	File      string // Rotated log file, empty disables
	MaxSizeMB int
}

// Init replaces the global logger's output with the configured sinks.
// The returned closer releases the syslog connection and the log file.
func Init(opts Options) (io.Closer, error) {
	glog.InitZeroLog()

	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return nil, err
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var (
		writers []io.Writer
		closers closers
		warns   []error
	)

	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
			TimeFormat: time.RFC3339,
		})
	}

	if opts.Syslog {
		w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, opts.SyslogTag)
		if err != nil {
			// Containers and minimal images often run without a syslog daemon
			warns = append(warns, err)
		} else {
			writers = append(writers, zerolog.SyslogLevelWriter(w))
			closers = append(closers, w)
		}
	}

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: 3,
			MaxAge:     28,
		}
		writers = append(writers, lj)
		closers = append(closers, lj)
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	log.Logger = log.Logger.Output(out).Level(level)
	zerolog.DefaultContextLogger = &log.Logger

	for _, err := range warns {
		log.Warn().Err(err).Msg("system log unavailable")
	}

	return closers, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
