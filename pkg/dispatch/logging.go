package dispatch

import "github.com/sirupsen/logrus"

// Logger is the capability set every component in this package logs
// through. Kept deliberately small so callers can adapt any logging
// library to it.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Useful as a default and in tests that
// don't care about log output.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// LogrusLogger adapts *logrus.Logger to Logger, pairing args as logrus
// fields (key, value, key, value, ...). An odd trailing arg is logged under
// the key "extra".
type LogrusLogger struct {
	entry *logrus.Logger
}

// NewLogrusLogger wraps l, or builds a sensible JSON-free text logger when
// l is nil.
func NewLogrusLogger(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.New()
	}
	return &LogrusLogger{entry: l}
}

func fields(args ...interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	if len(args)%2 == 1 {
		f["extra"] = args[len(args)-1]
	}
	return f
}

func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args...)).Debug(msg)
}
func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args...)).Info(msg)
}
func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args...)).Warn(msg)
}
func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.entry.WithFields(fields(args...)).Error(msg)
}
