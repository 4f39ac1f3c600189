// Package logging adds a verbosity switch on top of the standard logger.
package logging

import (
	"log"
	"sync/atomic"
)

var verbose atomic.Bool

// SetVerbose turns debug lines on or off.
func SetVerbose(v bool) {
	verbose.Store(v)
}

// Verbose reports whether debug lines are printed.
func Verbose() bool {
	return verbose.Load()
}

// Debugf logs through the standard logger when verbose is on.
func Debugf(format string, args ...interface{}) {
	if verbose.Load() {
		log.Printf("[DEBUG] "+format, args...)
	}
}

// Warnf always logs, tagged as a warning.
func Warnf(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}
