package common

import (
	"fmt"
	"log"
	"os"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// DefaultLogger 默认日志实现，子系统前缀 + 级别
type DefaultLogger struct {
	prefix string
	debug  bool
	out    *log.Logger
	err    *log.Logger
}

// NewLogger 创建日志器，LOG_DEBUG=true 开启 debug 输出
func NewLogger(prefix string) Logger {
	return &DefaultLogger{
		prefix: prefix,
		debug:  os.Getenv("LOG_DEBUG") == "true",
		out:    log.New(os.Stdout, "", log.LstdFlags),
		err:    log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	if l.debug {
		l.log(l.out, "DEBUG", msg, args...)
	}
}

func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	l.log(l.out, "INFO", msg, args...)
}

func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	l.log(l.out, "WARN", msg, args...)
}

func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	l.log(l.err, "ERROR", msg, args...)
}

func (l *DefaultLogger) log(dst *log.Logger, level string, msg string, args ...interface{}) {
	formatted := fmt.Sprintf(msg, args...)
	dst.Printf("[%s] [%s] %s", l.prefix, level, formatted)
}
