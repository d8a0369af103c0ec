package stripe

import (
	"fmt"

	"github.com/jwalitptl/clinic-booking/pkg/logger"
)

// leveledLogger routes stripe-go client logs into the application logger.
type leveledLogger struct {
	log *logger.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(nil, fmt.Sprintf(format, v...), "component", "stripe")
}
