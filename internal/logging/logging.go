// Package logging configures the process-wide logrus logger: a
// text-formatted stream to stdout, optionally duplicated to a rotating
// file via lumberjack, with verbosity controlled by repeated -v flags.
package logging

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Setup.
type Options struct {
	// Verbosity maps to logrus levels: 0 = Info, 1 = Debug, 2+ = Trace.
	Verbosity int
	// LogFile, if non-empty, additionally writes rotated logs there.
	LogFile string
	// MaxSizeMB, MaxBackups, MaxAgeDays configure rotation when LogFile
	// is set; zero values take lumberjack's defaults except MaxSizeMB,
	// which lumberjack requires to be positive.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs formatter, level, and output according to opts and
// returns the writer actually in use, so callers (e.g. the supervisor's
// scratch-file code) can share it if needed.
func Setup(opts Options) io.Writer {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	switch {
	case opts.Verbosity >= 2:
		log.SetLevel(log.TraceLevel)
	case opts.Verbosity == 1:
		log.SetLevel(log.DebugLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	var out io.Writer = os.Stdout
	if opts.LogFile != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		out = io.MultiWriter(os.Stdout, rotator)
	}
	log.SetOutput(out)
	return out
}
