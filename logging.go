// logging.go - diagnostics sink
//
// Grounded on the teacher's direct log.Printf calls (audio_chip.go and
// others); wrapped in a one-method interface so a host embedding this
// core as a library can redirect it without a global logger.
//
// License: GPLv3 or later

package jit

import "log"

// Logger is the minimal sink the core writes diagnostics through.
type Logger interface {
	Printf(format string, args ...interface{})
}

// defaultLogger forwards to the standard library logger, matching the
// teacher's direct log.Printf usage when the host installs nothing else.
type defaultLogger struct{}

func (defaultLogger) Printf(format string, args ...interface{}) { log.Printf(format, args...) }
