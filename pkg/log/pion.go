package log

import (
	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// PionLoggerFactory routes pion's internal logging through logrus.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{entry: logrus.WithField("scope", scope)}
}

type pionLogger struct {
	entry *logrus.Entry
}

func (l *pionLogger) Trace(msg string)               { l.entry.Trace(msg) }
func (l *pionLogger) Tracef(format string, a ...any) { l.entry.Tracef(format, a...) }
func (l *pionLogger) Debug(msg string)               { l.entry.Debug(msg) }
func (l *pionLogger) Debugf(format string, a ...any) { l.entry.Debugf(format, a...) }
func (l *pionLogger) Info(msg string)                { l.entry.Info(msg) }
func (l *pionLogger) Infof(format string, a ...any)  { l.entry.Infof(format, a...) }
func (l *pionLogger) Warn(msg string)                { l.entry.Warn(msg) }
func (l *pionLogger) Warnf(format string, a ...any)  { l.entry.Warnf(format, a...) }
func (l *pionLogger) Error(msg string)               { l.entry.Error(msg) }
func (l *pionLogger) Errorf(format string, a ...any) { l.entry.Errorf(format, a...) }
