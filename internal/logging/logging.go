// Package logging provides the bracketed-component logger used throughout
// the pipeline, in the style of the voice server's "[component] message"
// log.Printf convention, with -v/-q verbosity filtering layered on top.
package logging

import (
	"io"
	"log"
)

// Level selects which severities are emitted. Debug < Info < Warn < Error.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

// ParseLevel maps -v/-q flag counts to a Level: quiet raises the floor,
// verbose lowers it. base is Info.
func ParseLevel(verbose, quiet int) Level {
	lvl := int(Info) - verbose + quiet
	if lvl < int(Debug) {
		lvl = int(Debug)
	}
	if lvl > int(Error) {
		lvl = int(Error)
	}
	return Level(lvl)
}

// Logger tags every line with "[component]" and drops lines below its level.
type Logger struct {
	component string
	level     Level
	out       *log.Logger
}

// New builds a Logger writing to w, tagged with component, filtering below
// level.
func New(w io.Writer, component string, level Level) *Logger {
	return &Logger{component: component, level: level, out: log.New(w, "", log.LstdFlags)}
}

// With returns a Logger for a different component sharing this one's
// destination and level.
func (l *Logger) With(component string) *Logger {
	return &Logger{component: component, level: l.level, out: l.out}
}

func (l *Logger) logf(lvl Level, tag, format string, args ...any) {
	if lvl < l.level {
		return
	}
	l.out.Printf("["+l.component+"] "+tag+format, args...)
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(Debug, "", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(Info, "", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(Warn, "WARN: ", format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(Error, "ERROR: ", format, args...) }
