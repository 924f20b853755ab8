package logger

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// logger is the console implementation. Every line leads with its level
// tag and ends with the call site, so a busy manager log can be grepped
// by either. Trace lines carry the operation's duration and the number of
// alerts it touched.
type logger struct {
	Writer
	Config
	infoStr, warnStr, errStr, debugStr  string
	traceStr, traceWarnStr, traceErrStr string
}

// NewLogger creates a console logger writing through writer.
func NewLogger(writer Writer, config Config) Interface {
	var (
		infoStr      = "[info] %s (%s)"
		warnStr      = "[warn] %s (%s)"
		errStr       = "[error] %s (%s)"
		debugStr     = "[debug] %s (%s)"
		traceStr     = "[%.3fms] [alerts:%v] %s (%s)"
		traceWarnStr = "[%.3fms] [alerts:%v] %s; %s (%s)"
		traceErrStr  = "[%.3fms] [alerts:%v] %s: %v (%s)"
	)

	if config.Colorful {
		infoStr = Green + "[info] " + Reset + "%s " + White + "(%s)" + Reset
		warnStr = Yellow + "[warn] " + Reset + "%s " + White + "(%s)" + Reset
		errStr = Red + "[error] " + Reset + "%s " + White + "(%s)" + Reset
		debugStr = Blue + "[debug] " + Reset + "%s " + White + "(%s)" + Reset
		traceStr = Yellow + "[%.3fms] " + Cyan + "[alerts:%v] " + Reset + "%s " + White + "(%s)" + Reset
		traceWarnStr = Yellow + "[%.3fms] " + Cyan + "[alerts:%v] " + Reset + "%s; " + Magenta + "%s " + Reset + White + "(%s)" + Reset
		traceErrStr = RedBold + "[%.3fms] " + Cyan + "[alerts:%v] " + Reset + "%s: " + Red + "%v " + Reset + White + "(%s)" + Reset
	}

	return &logger{
		Writer:       writer,
		Config:       config,
		infoStr:      infoStr,
		warnStr:      warnStr,
		errStr:       errStr,
		debugStr:     debugStr,
		traceStr:     traceStr,
		traceWarnStr: traceWarnStr,
		traceErrStr:  traceErrStr,
	}
}

// New creates a new logger with the given writer and config. The package
// vars Default and Discard cover the common cases; New is for a caller
// that wants its own SlowThreshold/LogLevel/Colorful combination.
func New(writer Writer, config Config) Interface {
	return NewLogger(writer, config)
}

// LogMode returns a copy of the logger gated at level.
func (l *logger) LogMode(level LogLevel) Interface {
	newlogger := *l
	newlogger.LogLevel = level
	return &newlogger
}

func (l *logger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Info {
		l.Printf(l.infoStr, fmt.Sprintf(msg, data...), fileWithLineNum())
	}
}

func (l *logger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Warn {
		l.Printf(l.warnStr, fmt.Sprintf(msg, data...), fileWithLineNum())
	}
}

func (l *logger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Error {
		l.Printf(l.errStr, fmt.Sprintf(msg, data...), fileWithLineNum())
	}
}

func (l *logger) Debug(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= Debug {
		l.Printf(l.debugStr, fmt.Sprintf(msg, data...), fileWithLineNum())
	}
}

// Trace logs an operation (a db poll, a flush, a dispatch pass) with its
// duration and the number of alerts it touched. Operations that found no
// work mark themselves with ErrNoWork so they don't show up as errors.
func (l *logger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= Silent {
		return
	}

	elapsed := time.Since(begin)
	ms := float64(elapsed.Nanoseconds()) / 1e6
	switch {
	case err != nil && l.LogLevel >= Error && !errors.Is(err, ErrNoWork):
		op, alerts := fc()
		l.Printf(l.traceErrStr, ms, fmtAlerts(alerts), op, err, fileWithLineNum())
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold && l.LogLevel >= Warn:
		op, alerts := fc()
		slowLog := fmt.Sprintf("SLOW OPERATION >= %v", l.SlowThreshold)
		l.Printf(l.traceWarnStr, ms, fmtAlerts(alerts), op, slowLog, fileWithLineNum())
	case l.LogLevel >= Info:
		op, alerts := fc()
		l.Printf(l.traceStr, ms, fmtAlerts(alerts), op, fileWithLineNum())
	}
}

func fmtAlerts(n int64) interface{} {
	if n == -1 {
		return "-"
	}
	return n
}

// ErrNoWork marks a Trace call for an operation that found nothing to do
// (an empty poll, an empty flush) so Error-level logging can skip it.
var ErrNoWork = errors.New("no work")

// fileWithLineNum returns the first caller frame outside this package.
func fileWithLineNum() string {
	for i := 2; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.HasSuffix(file, "_test.go") || !strings.Contains(file, "/logger/") {
			return file + ":" + strconv.Itoa(line)
		}
	}
	return ""
}
