// Package clusterlog provides the structured logger shared by every binary
// in the repository: a thin wrapper around logrus configured with a text
// formatter and a standard set of per-component fields.
package clusterlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Entry pre-populated with component/node fields.
type Logger struct {
	*logrus.Entry
}

// Options configures a top-level logger.
type Options struct {
	Component string
	Node      string
	RunID     string
	Level     logrus.Level
	Output    io.Writer
}

// New builds a Logger for a given component (e.g. "master", "worker-3").
func New(opts Options) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if opts.Output != nil {
		base.SetOutput(opts.Output)
	} else {
		base.SetOutput(os.Stderr)
	}
	level := opts.Level
	if level == 0 {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	fields := logrus.Fields{"component": opts.Component}
	if opts.Node != "" {
		fields["node"] = opts.Node
	}
	if opts.RunID != "" {
		fields["run_id"] = opts.RunID
	}
	return &Logger{Entry: base.WithFields(fields)}
}

// With returns a child logger with additional fields, for a per-request or
// per-job scope (e.g. a job ID, a peer address).
func (l *Logger) With(fields logrus.Fields) *Logger {
	return &Logger{Entry: l.Entry.WithFields(fields)}
}
