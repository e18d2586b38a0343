// Package monitoring holds the process-wide diagnostic logger.
package monitoring

import (
	"fmt"
	"log"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Logger writes through Logf with a "[name] " prefix.
type Logger struct {
	prefix string
}

// Component returns a logger tagged with name, e.g. Component("scanner")
// produces lines like "[scanner] sweep started".
func Component(name string) Logger {
	return Logger{prefix: "[" + name + "] "}
}

// Logf formats a message and forwards it to the current package logger. The
// package logger is looked up on each call so SetLogger applies to loggers
// created earlier.
func (l Logger) Logf(format string, v ...interface{}) {
	Logf("%s%s", l.prefix, fmt.Sprintf(format, v...))
}

// Printf adapts the logger for libraries that want a Printf method.
func (l Logger) Printf(format string, v ...interface{}) {
	l.Logf(format, v...)
}
