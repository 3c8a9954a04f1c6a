package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log  *Logger
	once sync.Once
)

// Fields is a set of structured log fields.
type Fields = logrus.Fields

type Logger struct {
	*logrus.Logger
}

// Entry is a log entry carrying structured fields. Warnings and errors go
// through the fail-fast check just like the top-level Logger methods.
type Entry struct {
	*logrus.Entry
}

func (l *Logger) Warn(args ...interface{}) {
	warnFatal(args...)
	l.Logger.Warn(args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	warnFatalf(format, args...)
	l.Logger.Warnf(format, args...)
}

func (l *Logger) Error(args ...interface{}) {
	warnFatal(args...)
	l.Logger.Error(args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	warnFatalf(format, args...)
	l.Logger.Errorf(format, args...)
}

func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{l.Logger.WithField(key, value)}
}

func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{l.Logger.WithFields(fields)}
}

func (l *Logger) WithError(err error) *Entry {
	return &Entry{l.Logger.WithError(err)}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return &Entry{e.Entry.WithField(key, value)}
}

func (e *Entry) WithFields(fields Fields) *Entry {
	return &Entry{e.Entry.WithFields(fields)}
}

func (e *Entry) WithError(err error) *Entry {
	return &Entry{e.Entry.WithError(err)}
}

func (e *Entry) Warn(args ...interface{}) {
	warnFatal(args...)
	e.Entry.Warn(args...)
}

func (e *Entry) Error(args ...interface{}) {
	warnFatal(args...)
	e.Entry.Error(args...)
}

func warnFatal(args ...interface{}) {
	if failFast != "" {
		log.Logger.Fatal(args...)
	}
}

func warnFatalf(format string, args ...interface{}) {
	if failFast != "" {
		log.Logger.Fatalf(format, args...)
	}
}

var failFast string

// ParseLevel maps the level names accepted by DEBUG_DEVRELAY and the
// log.level config key onto logrus levels. Unknown names mean debug.
func ParseLevel(name string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.DebugLevel
	}
}

// SetLevelName enables output at the named level. An empty name leaves the
// logger as the environment configured it.
func SetLevelName(name string) {
	if strings.TrimSpace(name) == "" {
		return
	}
	l := GetDevRelayLogger()
	l.SetOutput(os.Stdout)
	l.SetLevel(ParseLevel(name))
}

func InitializeDevRelayLogger() {
	once.Do(func() {
		log = &Logger{}
		log.Logger = logrus.New()
		// silent unless asked
		log.SetOutput(io.Discard)
		log.SetLevel(logrus.PanicLevel)
		if logLevel := os.Getenv("DEBUG_DEVRELAY"); logLevel != "" {
			failFast = os.Getenv("WARNFAIL_DEVRELAY")
			if failFast != "" {
				logLevel = "debug"
			}
			log.SetOutput(os.Stdout)
			log.SetLevel(ParseLevel(logLevel))
			log.WithField("level", log.GetLevel()).Debug("Logging enabled.")
		}
	})
}

// GetDevRelayLogger returns the initialized Logger
func GetDevRelayLogger() *Logger {
	if log == nil {
		InitializeDevRelayLogger()
	}
	return log
}

func init() {
	InitializeDevRelayLogger()
}
