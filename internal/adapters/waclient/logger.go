package waclient

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"zapgate/platform/logger"
)

// engineLogger adapts the application logger to whatsmeow's logging
// interface.
type engineLogger struct {
	logger *logger.Logger
	module string
}

func newEngineLogger(log *logger.Logger) waLog.Logger {
	return &engineLogger{
		logger: log,
		module: "whatsmeow",
	}
}

func (l *engineLogger) Errorf(msg string, args ...interface{}) {
	l.logger.ErrorWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": l.module,
	})
}

func (l *engineLogger) Warnf(msg string, args ...interface{}) {
	l.logger.WarnWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": l.module,
	})
}

func (l *engineLogger) Infof(msg string, args ...interface{}) {
	l.logger.DebugWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": l.module,
	})
}

func (l *engineLogger) Debugf(msg string, args ...interface{}) {
	l.logger.DebugWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": l.module,
	})
}

func (l *engineLogger) Sub(module string) waLog.Logger {
	return &engineLogger{
		logger: l.logger,
		module: fmt.Sprintf("%s.%s", l.module, module),
	}
}
