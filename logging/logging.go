// Package logging - Rank-aware logrus loggers.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options configures a logger.
type Options struct {
	// Path is an optional log file. Lines are appended to it and to Output.
	Path string
	// Level is the logrus level name for the coordinating rank.
	Level string
	// Rank is the process rank. Ranks other than 0 log warnings and above.
	Rank int
	// Output defaults to stdout.
	Output io.Writer
}

// Logger is a logrus entry tagged with the process rank.
type Logger struct {
	*logrus.Entry
	file *os.File
}

// New creates a logger.
//
// Arguments:
//   - opts: The logger options.
//
// Returns:
//   - *Logger: The logger. Close it to release the log file.
//   - error: The error if the level is unknown or the file cannot be opened.
func New(opts Options) (*Logger, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opts.Level); err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", opts.Level)
		}
	}
	if opts.Rank != 0 && level > logrus.WarnLevel {
		level = logrus.WarnLevel
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{}
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create log directory")
		}
		f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open log file")
		}
		l.file = f
		out = io.MultiWriter(out, f)
	}

	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(level)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	l.Entry = base.WithField("rank", opts.Rank)
	return l, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Entry {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return logrus.NewEntry(base)
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
