package logger

import (
	blog "github.com/bitmark-inc/logger"
)

// DefaultTag selects the level for tags without their own entry
const DefaultTag = blog.DefaultTag

// Configuration selects the log file, its rotation and the per-tag levels
type Configuration struct {
	Directory string            `gluamapper:"directory"`
	File      string            `gluamapper:"file"`
	Size      int               `gluamapper:"size"`  // rotate when the file exceeds this size
	Count     int               `gluamapper:"count"` // number of rotated files retained
	Console   bool              `gluamapper:"console"`
	Levels    map[string]string `gluamapper:"levels"`
}

// Initialise starts logging; it must be called before New
func Initialise(c Configuration) error {
	return blog.Initialise(blog.Configuration{
		Directory: c.Directory,
		File:      c.File,
		Size:      c.Size,
		Count:     c.Count,
		Console:   c.Console,
		Levels:    c.Levels,
	})
}

// Finalise flushes and closes the log file
func Finalise() {
	blog.Finalise()
}

// Logger is a tagged logging channel. A nil Logger discards everything,
// which keeps library code usable without logging set up.
type Logger struct {
	l *blog.L
}

// New creates a logger for a tag such as "miner" or "unit-3"
func New(tag string) *Logger {
	return &Logger{l: blog.New(tag)}
}

func (l *Logger) ok() bool {
	return l != nil && l.l != nil
}

// Debugf logs at debug level
func (l *Logger) Debugf(format string, args ...interface{}) {
	if l.ok() {
		l.l.Debugf(format, args...)
	}
}

// Info logs a message at info level
func (l *Logger) Info(message string) {
	if l.ok() {
		l.l.Info(message)
	}
}

// Infof logs at info level
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.ok() {
		l.l.Infof(format, args...)
	}
}

// Warnf logs at warn level
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l.ok() {
		l.l.Warnf(format, args...)
	}
}

// Errorf logs at error level
func (l *Logger) Errorf(format string, args ...interface{}) {
	if l.ok() {
		l.l.Errorf(format, args...)
	}
}

// Criticalf logs at critical level
func (l *Logger) Criticalf(format string, args ...interface{}) {
	if l.ok() {
		l.l.Criticalf(format, args...)
	}
}
