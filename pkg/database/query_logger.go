package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowgraph-go/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowQueryThreshold defines the threshold for slow queries
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// QueryLogger routes gorm logging to the service logger and reports slow queries.
type QueryLogger struct {
	logger    logger.Logger
	level     gormlogger.LogLevel
	threshold time.Duration
}

func NewQueryLogger(log logger.Logger, threshold time.Duration) *QueryLogger {
	if log == nil {
		log = logger.NewNop()
	}
	if threshold <= 0 {
		threshold = DefaultSlowQueryThreshold
	}
	return &QueryLogger{logger: log, level: gormlogger.Warn, threshold: threshold}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *QueryLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *QueryLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		query, rows := fc()
		l.logger.Error("query failed", "query", query, "rows", rows, "duration", elapsed, "error", err)
	case elapsed > l.threshold && l.level >= gormlogger.Warn:
		query, rows := fc()
		l.logger.Warn("slow query detected", "query", query, "rows", rows, "duration", elapsed, "threshold", l.threshold)
	case l.level >= gormlogger.Info:
		query, rows := fc()
		l.logger.Debug("query", "query", query, "rows", rows, "duration", elapsed)
	}
}
