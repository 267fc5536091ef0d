package dispatch

import (
	"fmt"
	"log"
	"os"
)

// simpleLogger is the minimal logging surface the pool needs. Kept local so
// this package does not import the full core logger (avoids an import cycle
// for packages that wire both).
type simpleLogger interface {
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

type defaultSimpleLogger struct {
	errLogger  *log.Logger
	warnLogger *log.Logger
}

func newDefaultSimpleLogger() simpleLogger {
	return &defaultSimpleLogger{
		errLogger:  log.New(os.Stderr, "[ERROR] ", log.LstdFlags|log.Lshortfile),
		warnLogger: log.New(os.Stderr, "[WARN] ", log.LstdFlags|log.Lshortfile),
	}
}

func (l *defaultSimpleLogger) Errorf(format string, args ...interface{}) {
	l.errLogger.Output(3, fmt.Sprintf(format, args...))
}

func (l *defaultSimpleLogger) Warnf(format string, args ...interface{}) {
	l.warnLogger.Output(3, fmt.Sprintf(format, args...))
}
