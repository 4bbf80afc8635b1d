package logging

import (
	stdlog "log"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. It stays nil until Configure runs, and
// the helpers below are no-ops in that case.
var Logger *log.Logger

// Configure sets up rotating file logging at the given path.
func Configure(path, level string) {
	out := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   false,
	}

	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = log.InfoLevel
	}

	Logger = log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339Nano,
		Level:           lvl,
	})

	stdlog.SetOutput(out)
	stdlog.SetFlags(stdlog.LstdFlags | stdlog.Lmicroseconds)
}

func Debug(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Debug(msg, keyvals...)
	}
}

func Info(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Info(msg, keyvals...)
	}
}

func Warn(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Warn(msg, keyvals...)
	}
}

func Error(msg string, keyvals ...interface{}) {
	if Logger != nil {
		Logger.Error(msg, keyvals...)
	}
}

// SetLevel adjusts the level of the configured logger. Unknown levels are ignored.
func SetLevel(level string) {
	if Logger == nil {
		return
	}
	if lvl, err := log.ParseLevel(strings.TrimSpace(level)); err == nil {
		Logger.SetLevel(lvl)
	}
}
