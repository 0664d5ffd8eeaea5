// Package log writes leveled messages to stderr.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

var (
	stdLogFlags      = log.LstdFlags | log.LUTC
	stdDebugLogFlags = log.LstdFlags | log.Lshortfile | log.LUTC
	outputCallDepth  = 2

	DebugLogger = log.New(os.Stderr, "DEBUG: ", stdDebugLogFlags)
	InfoLogger  = log.New(os.Stderr, "INFO: ", stdLogFlags)
	WarnLogger  = log.New(os.Stderr, "WARN: ", stdLogFlags)
	ErrorLogger = log.New(os.Stderr, "ERROR: ", stdLogFlags)
	FatalLogger = log.New(os.Stderr, "FATAL: ", log.LstdFlags|log.Llongfile|log.LUTC)

	// AccessLogger receives one line per counter request while debug is on.
	AccessLogger = log.New(os.Stderr, "ACCESS: ", stdLogFlags)
)

// silenceable lists the loggers SuppressOutput acts on.
// FatalLogger always writes.
func silenceable() []*log.Logger {
	return []*log.Logger{DebugLogger, InfoLogger, WarnLogger, ErrorLogger, AccessLogger}
}

// Suppresses all output from logs if `suppress` is true
// used while testing
func SuppressOutput(suppress bool) {
	var w io.Writer = os.Stderr
	if suppress {
		w = io.Discard
	}
	for _, l := range silenceable() {
		l.SetOutput(w)
	}
}

var debug atomic.Bool

// SetDebug toggles debug and access output. Other levels get file:line
// prefixes while debug is on.
func SetDebug(val bool) {
	debug.Store(val)
	flags := stdLogFlags
	if val {
		flags = stdDebugLogFlags
	}
	InfoLogger.SetFlags(flags)
	WarnLogger.SetFlags(flags)
	ErrorLogger.SetFlags(flags)
}

func Debugf(format string, args ...interface{}) {
	if !debug.Load() {
		return
	}
	DebugLogger.Output(outputCallDepth, fmt.Sprintf(format, args...))
}

// Accessf logs a served request. It is a no-op unless debug is on.
func Accessf(format string, args ...interface{}) {
	if !debug.Load() {
		return
	}
	AccessLogger.Output(outputCallDepth, fmt.Sprintf(format, args...))
}

func Infof(format string, args ...interface{}) {
	InfoLogger.Output(outputCallDepth, fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...interface{}) {
	WarnLogger.Output(outputCallDepth, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	ErrorLogger.Output(outputCallDepth, fmt.Sprintf(format, args...))
}

func Fatalf(format string, args ...interface{}) {
	FatalLogger.Output(outputCallDepth, fmt.Sprintf(format, args...))
	os.Exit(1)
}
