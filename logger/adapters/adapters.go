// Package adapters bridges external logging sinks to the alert manager's
// logger.Interface, so a deployment embedding the dispatch core in a larger
// daemon can route its log output through whatever logger that daemon
// already uses.
package adapters

import (
	"context"
	"time"

	"github.com/esotel/zabbix/logger"
)

// AdapterBase carries the level gate shared by all adapters.
type AdapterBase struct {
	level logger.LogLevel
}

// NewAdapterBase creates a new adapter base at the given level.
func NewAdapterBase(level logger.LogLevel) *AdapterBase {
	return &AdapterBase{level: level}
}

// ShouldLog checks if a message at level passes the gate.
func (a *AdapterBase) ShouldLog(level logger.LogLevel) bool {
	return a.level >= level
}

// StdLogger is the subset of the standard library log.Logger the adapter
// needs.
type StdLogger interface {
	Print(v ...interface{})
	Printf(format string, v ...interface{})
}

// StdLogAdapter routes logger.Interface calls to a standard log.Logger.
type StdLogAdapter struct {
	*AdapterBase
	logger StdLogger
}

// NewStdLogAdapter creates a standard log adapter.
func NewStdLogAdapter(stdLogger StdLogger, level logger.LogLevel) logger.Interface {
	return &StdLogAdapter{
		AdapterBase: NewAdapterBase(level),
		logger:      stdLogger,
	}
}

func (s *StdLogAdapter) LogMode(level logger.LogLevel) logger.Interface {
	return &StdLogAdapter{
		AdapterBase: NewAdapterBase(level),
		logger:      s.logger,
	}
}

func (s *StdLogAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if s.ShouldLog(logger.Info) {
		s.logger.Printf("[INFO] "+msg, data...)
	}
}

func (s *StdLogAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if s.ShouldLog(logger.Warn) {
		s.logger.Printf("[WARN] "+msg, data...)
	}
}

func (s *StdLogAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if s.ShouldLog(logger.Error) {
		s.logger.Printf("[ERROR] "+msg, data...)
	}
}

func (s *StdLogAdapter) Debug(ctx context.Context, msg string, data ...interface{}) {
	if s.ShouldLog(logger.Debug) {
		s.logger.Printf("[DEBUG] "+msg, data...)
	}
}

func (s *StdLogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if s.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)

	if err != nil && s.ShouldLog(logger.Error) {
		operation, alerts := fc()
		s.logger.Printf("[ERROR] operation failed: %s, duration: %.3fms, alerts: %d, error: %v",
			operation, float64(elapsed.Nanoseconds())/1e6, alerts, err)
	} else if s.ShouldLog(logger.Info) {
		operation, alerts := fc()
		s.logger.Printf("[INFO] operation: %s, duration: %.3fms, alerts: %d",
			operation, float64(elapsed.Nanoseconds())/1e6, alerts)
	}
}

// LogFunc is a plain logging function an adapter can wrap: level name,
// message, then alternating key/value pairs.
type LogFunc func(level string, msg string, keyvals ...interface{})

// FuncAdapter adapts a bare function to logger.Interface. Used by tests to
// capture log output.
type FuncAdapter struct {
	*AdapterBase
	logFunc LogFunc
}

// NewFuncAdapter creates a function adapter.
func NewFuncAdapter(logFunc LogFunc, level logger.LogLevel) logger.Interface {
	return &FuncAdapter{
		AdapterBase: NewAdapterBase(level),
		logFunc:     logFunc,
	}
}

func (f *FuncAdapter) LogMode(level logger.LogLevel) logger.Interface {
	return &FuncAdapter{
		AdapterBase: NewAdapterBase(level),
		logFunc:     f.logFunc,
	}
}

func (f *FuncAdapter) Info(ctx context.Context, msg string, data ...interface{}) {
	if f.ShouldLog(logger.Info) {
		f.logFunc("info", msg, data...)
	}
}

func (f *FuncAdapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	if f.ShouldLog(logger.Warn) {
		f.logFunc("warn", msg, data...)
	}
}

func (f *FuncAdapter) Error(ctx context.Context, msg string, data ...interface{}) {
	if f.ShouldLog(logger.Error) {
		f.logFunc("error", msg, data...)
	}
}

func (f *FuncAdapter) Debug(ctx context.Context, msg string, data ...interface{}) {
	if f.ShouldLog(logger.Debug) {
		f.logFunc("debug", msg, data...)
	}
}

func (f *FuncAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if f.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)

	if err != nil && f.ShouldLog(logger.Error) {
		operation, alerts := fc()
		f.logFunc("error", "operation failed",
			"operation", operation,
			"duration_ms", float64(elapsed.Nanoseconds())/1e6,
			"alerts", alerts,
			"error", err.Error())
	} else if f.ShouldLog(logger.Info) {
		operation, alerts := fc()
		f.logFunc("info", "operation completed",
			"operation", operation,
			"duration_ms", float64(elapsed.Nanoseconds())/1e6,
			"alerts", alerts)
	}
}
