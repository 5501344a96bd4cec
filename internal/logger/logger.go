package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger. Production gets JSON lines
// for log shippers, development gets human-readable text.
func Setup(level string, production bool) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if production {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
}

// With returns an entry tagged with the originating component.
func With(component string) *logrus.Entry {
	return logrus.WithField("component", component)
}
