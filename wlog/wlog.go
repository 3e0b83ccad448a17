// Package wlog is a thin structured-logging façade over logrus, used for
// the update state machine's transition trail. It mirrors the verbosity
// levels the tooling this core was bootstrapped from exposes, so callers
// embedding this core into a board package can dial logging the same way.
package wlog

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Verbosity levels, highest-to-lowest detail ordering inverted: Silent
// suppresses everything, Verbose emits per-sector transition detail.
const (
	LevelSilent = iota
	LevelQuiet
	LevelDefault
	LevelVerbose
)

var (
	logger    = log.New()
	verbosity = LevelDefault
)

func init() {
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
}

// SetVerbosity adjusts the minimum level that reaches the underlying
// logger. Messages logged below the configured verbosity are dropped.
func SetVerbosity(v int) {
	verbosity = v
	switch {
	case v <= LevelSilent:
		logger.SetLevel(log.PanicLevel)
	case v == LevelQuiet:
		logger.SetLevel(log.ErrorLevel)
	case v == LevelDefault:
		logger.SetLevel(log.InfoLevel)
	default:
		logger.SetLevel(log.DebugLevel)
	}
}

// Fields is a shorthand alias so callers don't need to import logrus
// directly just to attach structured context.
type Fields = log.Fields

// Verbose logs partition/sector transition detail, only surfaced when
// verbosity is at LevelVerbose.
func Verbose(msg string, fields Fields) {
	if verbosity < LevelVerbose {
		return
	}
	logger.WithFields(fields).Debug(msg)
}

// Info logs a default-verbosity status message (state-machine phase
// boundaries: update started, swap committed, rollback triggered).
func Info(msg string, fields Fields) {
	logger.WithFields(fields).Info(msg)
}

// Error logs a failure that the caller is about to return or escalate to
// a panic policy. It never itself alters control flow.
func Error(msg string, err error, fields Fields) {
	if fields == nil {
		fields = Fields{}
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logger.WithFields(fields).Error(msg)
}
