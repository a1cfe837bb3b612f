// Package sysutil holds tiny process-level helpers shared by cmd binaries
// and middleware: global log level selection and loose string predicates
// for environment values.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// levels maps accepted LOG_LEVEL spellings to zerolog levels. "warning" is
// tolerated as an alias because several deploy templates still use it.
var levels = map[string]zerolog.Level{
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
	"fatal":   zerolog.FatalLevel,
	"panic":   zerolog.PanicLevel,
}

// SetLogLevel sets the global zerolog level from a config string. Unknown or
// empty values fall back to info rather than erroring, so a typo in an env
// var never takes the service down.
func SetLogLevel(lvl string) {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(lvl))]; ok {
		zerolog.SetGlobalLevel(l)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// IsTruthy reports whether an environment value reads as true.
// Accepted (case-insensitive): "1", "true", "yes", "y", "on".
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value whose trimmed form is non-empty,
// or "" when every candidate is blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
