// Package logging provides leveled, stage-correlated logging for the
// pipeline. Loggers are passed through stage contexts, never held in
// package globals.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger provides leveled logging with a correlation prefix.
type Logger struct {
	info  *log.Logger
	warn  *log.Logger
	error *log.Logger
	debug *log.Logger
	scope string
}

// New creates a logger for the given run id.
func New(runID string) *Logger {
	flags := log.LstdFlags | log.LUTC
	return &Logger{
		info:  log.New(os.Stdout, "[INFO] ", flags),
		warn:  log.New(os.Stdout, "[WARN] ", flags),
		error: log.New(os.Stderr, "[ERROR] ", flags),
		debug: log.New(os.Stdout, "[DEBUG] ", flags),
		scope: runID,
	}
}

// Stage returns a child logger whose lines carry the stage name and the
// run id, so per-stage output correlates across the run.
func (l *Logger) Stage(name string) *Logger {
	child := *l
	child.scope = fmt.Sprintf("%s %s", name, l.scope)
	return &child
}

func (l *Logger) prefix(format string) string {
	if l.scope == "" {
		return format
	}
	return "[" + l.scope + "] " + format
}

// Info logs an info message.
func (l *Logger) Info(format string, v ...interface{}) {
	l.info.Printf(l.prefix(format), v...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, v ...interface{}) {
	l.warn.Printf(l.prefix(format), v...)
}

// Error logs an error message.
func (l *Logger) Error(format string, v ...interface{}) {
	l.error.Printf(l.prefix(format), v...)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.debug.Printf(l.prefix(format), v...)
}
