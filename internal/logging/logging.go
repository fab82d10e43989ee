// Package logging configures logrus for alloclog.
//
// The terminal belongs to the viewer, so log lines go to a file. A Ring
// keeps the most recent entries in memory for the diagnostics overlay.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Options control Setup.
type Options struct {
	// File receives log output. Empty writes to Stderr instead.
	File string
	// Level is a logrus level name. Empty means info.
	Level string
	// Verbose forces debug level.
	Verbose bool
	// Stderr is used when File is empty. Defaults to os.Stderr.
	Stderr   io.Writer
	RingSize int
}

// Logging owns the configured logger and its output file.
type Logging struct {
	Logger *log.Logger
	Ring   *Ring
	file   *os.File
}

// Setup builds a logger per opts.
func Setup(opts Options) (*Logging, error) {
	level := log.InfoLevel
	if name := strings.TrimSpace(opts.Level); name != "" {
		parsed, err := log.ParseLevel(name)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", name)
		}
		level = parsed
	}
	if opts.Verbose {
		level = log.DebugLevel
	}

	l := &Logging{Logger: log.New(), Ring: NewRing(opts.RingSize)}
	l.Logger.SetLevel(level)
	l.Logger.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
	})
	l.Logger.AddHook(NewHook(l.Ring, nil))

	if opts.File == "" {
		out := opts.Stderr
		if out == nil {
			out = os.Stderr
		}
		l.Logger.SetOutput(out)
		return l, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open log file")
	}
	l.file = f
	l.Logger.SetOutput(f)
	return l, nil
}

// Entry returns a logger tagged with component.
func (l *Logging) Entry(component string) *log.Entry {
	return l.Logger.WithField("component", component)
}

// Close releases the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Discard returns an entry that drops everything, for callers that do not
// care about logs.
func Discard() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}
