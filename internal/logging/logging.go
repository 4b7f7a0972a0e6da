// Package logging is the ambient logging package every stateful component in
// this module writes through. It reproduces the teacher's tagged-logger plus
// verbosity-gate idiom (see common/kademlia's kadlogger and bzz's
// glog.V(logger.Debug)) as a small internal package, rather than importing an
// external structured-logging library the example pack never references.
package logging

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Level is a logging verbosity, matching the teacher's logger.* constants.
type Level int32

const (
	Error Level = iota
	Warn
	Info
	Debug
	Trace
)

var threshold int32 = int32(Info)

// SetVerbosity raises or lowers the process-wide verbosity gate. The default
// threshold is Info; cmd/dhtnode does not change it.
func SetVerbosity(l Level) {
	atomic.StoreInt32(&threshold, int32(l))
}

func enabled(l Level) bool {
	return int32(l) <= atomic.LoadInt32(&threshold)
}

// Logger is a tagged logger, e.g. logging.New("protocol"), mirroring
// kadlogger := logger.NewLogger("KΛÐ") in the teacher.
type Logger struct {
	tag  string
	std  *log.Logger
}

// New returns a logger tagged with name, writing to stderr.
func New(name string) *Logger {
	return &Logger{
		tag: name,
		std: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) logf(level Level, tag, format string, args ...interface{}) {
	if !enabled(level) {
		return
	}
	l.std.Printf("[%s] %s: %s", l.tag, tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(Error, "ERROR", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(Warn, "WARN", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(Info, "INFO", format, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(Debug, "DEBUG", format, args...) }
func (l *Logger) Tracef(format string, args ...interface{}) { l.logf(Trace, "TRACE", format, args...) }

// V reports whether a log statement at level would actually be emitted,
// mirroring glog.V(level) used to guard expensive format calls.
func (l *Logger) V(level Level) bool {
	return enabled(level)
}
