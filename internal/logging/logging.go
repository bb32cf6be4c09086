// Package logging configures logrus for the cvsdk command and provides the
// helpers that tag every entry with the running job.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// programName tags every entry written through this package.
var programName = "cvsdk"

func entry() *log.Entry {
	return log.WithFields(log.Fields{"job": programName})
}

// LogInfo logs an informational message.
func LogInfo(msg string) {
	entry().Info(msg)
}

// LogDebug logs a debug message.
func LogDebug(msg string) {
	entry().Debug(msg)
}

// LogWarn logs a warning.
func LogWarn(msg string) {
	entry().Warn(msg)
}

// LogError logs a recoverable error.
func LogError(msg string) {
	entry().Error(msg)
}

// LogFields logs msg at info level with extra structured fields.
func LogFields(fields log.Fields, msg string) {
	entry().WithFields(fields).Info(msg)
}

// SetDebugLevel switches between debug and info output.
func SetDebugLevel(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}

// PrepareLogs writes JSON entries to stdout and to logName, creating the file
// and its directory when needed.
func PrepareLogs(logName string) error {
	if dir := filepath.Dir(logName); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	logFile, err := os.OpenFile(logName, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFormatter(&log.JSONFormatter{})
	return nil
}
