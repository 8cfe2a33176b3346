package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logg.SetLevel(lvl)
	}
	logg.SetOutput(os.Stdout)
}

// LogError is kept nil-safe so helpers can be called before init in tests.
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

// LogInfo logs a lifecycle event with the same field layout as LogError.
func LogInfo(logger *logrus.Logger, moduleName string, funcName string, msg string, fields logrus.Fields) {
	if logger == nil {
		return
	}
	f := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
	}
	for k, v := range fields {
		f[k] = v
	}
	logger.WithFields(f).Info(msg)
}
