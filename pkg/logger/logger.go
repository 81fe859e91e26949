// Package logger provides namespaced debug loggers controlled by the DEBUG
// environment variable, in the style of the npm debug package.
//
// Loggers are created with New("namespace") and write to stderr only when
// their namespace matches the DEBUG pattern list. Patterns are comma
// separated, support a trailing "*" wildcard, and a "-" prefix excludes:
//
//	DEBUG=*                      enable everything
//	DEBUG=workflow:*             enable one namespace tree
//	DEBUG=workflow:*,cli:*       enable several
//	DEBUG=*,-workflow:template   enable everything except one logger
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger writes debug messages for a single namespace.
type Logger struct {
	namespace string
	enabled   bool

	mu   sync.Mutex
	last time.Time
}

// New creates a logger for the given namespace. Enablement is decided once,
// at creation time, from the DEBUG environment variable.
func New(namespace string) *Logger {
	return &Logger{
		namespace: namespace,
		enabled:   matches(namespace, os.Getenv("DEBUG")),
	}
}

// Enabled reports whether this logger will emit output.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Print writes the arguments concatenated as fmt.Sprint, prefixed with the
// namespace and suffixed with the time elapsed since the previous message.
func (l *Logger) Print(args ...any) {
	if !l.enabled {
		return
	}
	l.emit(fmt.Sprint(args...))
}

// Printf writes a formatted message with the namespace prefix and elapsed
// time suffix.
func (l *Logger) Printf(format string, args ...any) {
	if !l.enabled {
		return
	}
	l.emit(fmt.Sprintf(format, args...))
}

func (l *Logger) emit(msg string) {
	l.mu.Lock()
	now := time.Now()
	var elapsed time.Duration
	if !l.last.IsZero() {
		elapsed = now.Sub(l.last)
	}
	l.last = now
	l.mu.Unlock()

	fmt.Fprintf(os.Stderr, "%s %s +%s\n", l.namespace, msg, elapsed)
}

// matches reports whether namespace is enabled by the DEBUG pattern list.
// Exclusion patterns win over inclusion patterns.
func matches(namespace, patterns string) bool {
	if patterns == "" {
		return false
	}

	enabled := false
	for _, raw := range strings.Split(patterns, ",") {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		negate := strings.HasPrefix(pattern, "-")
		if negate {
			pattern = pattern[1:]
		}
		if !matchPattern(namespace, pattern) {
			continue
		}
		if negate {
			return false
		}
		enabled = true
	}
	return enabled
}

func matchPattern(namespace, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(namespace, strings.TrimSuffix(pattern, "*"))
	}
	return namespace == pattern
}
