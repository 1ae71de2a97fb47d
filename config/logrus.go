package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

// GetLogger returns the process logger built at startup. Services receive it
// by injection; this accessor exists for bootstrap code and cmd/ tools.
func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = NewLogger(os.Getenv("LOG_LEVEL"))
}

// NewLogger builds a JSON logger writing to stdout. Unknown levels fall back to info.
func NewLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil || strings.TrimSpace(level) == "" {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if logger == nil || err == nil {
		return
	}
	if data != nil {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
			"data":     data,
		}).Error(err.Error())
	} else {
		logger.WithFields(logrus.Fields{
			"module":   moduleName,
			"funcName": funcName,
			"context":  context,
		}).Error(err.Error())
	}
}
