// Package monitoring carries the diagnostic logging channel of the fitting
// chain. The numerical core stays quiet on the hot path; only per-fit
// summaries and tool-level progress go through Logf, and per-step
// diagnostics through Debugf when enabled.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf
// but may be replaced by SetLogger. Tests or batch tools can redirect or
// mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf is the per-step diagnostic logger, muted by default because it
// fires inside propagation loops. EnableDebug routes it to Logf.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// EnableDebug routes per-step diagnostics to the package logger; calling
// it with false mutes them again.
func EnableDebug(on bool) {
	if on {
		Debugf = func(format string, v ...interface{}) { Logf(format, v...) }
		return
	}
	Debugf = func(string, ...interface{}) {}
}
