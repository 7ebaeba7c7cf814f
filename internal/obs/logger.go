// Package obs provides the orchestrator's shared logging setup.
package obs

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide default logger, used by components that are not
// handed a scoped logger explicitly.
var Log *logrus.Logger

func init() {
	Log = New("info", "stdout")
}

// New creates a configured logger. output is "stdout" or a file path.
func New(level, output string) *logrus.Logger {
	logger := logrus.New()

	switch level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if output == "stdout" || output == "" {
		logger.SetOutput(os.Stdout)
	} else {
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err == nil {
			logger.SetOutput(file)
		} else {
			logger.SetOutput(os.Stdout)
			logger.Warnf("failed to open log file %s, using stdout", output)
		}
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	return logger
}

// SetLevel changes the default logger's level at runtime.
func SetLevel(level string) {
	switch level {
	case "debug":
		Log.SetLevel(logrus.DebugLevel)
	case "info":
		Log.SetLevel(logrus.InfoLevel)
	case "warn":
		Log.SetLevel(logrus.WarnLevel)
	case "error":
		Log.SetLevel(logrus.ErrorLevel)
	}
}

// WithCamera scopes a logger to one camera id, the way every grab-loop and
// feature-write log line in this repo identifies its camera.
func WithCamera(logger *logrus.Logger, cameraID string) *logrus.Entry {
	return logger.WithField("camera_id", cameraID)
}
