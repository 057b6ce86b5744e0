package database

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/canvasflow/engine/pkg/logger"
)

// slowLogger forwards gorm's trace hook to the engine logger. Only
// errors and queries over the threshold are reported; routine traffic
// stays quiet.
type slowLogger struct {
	log       logger.Logger
	threshold time.Duration
}

func newSlowLogger(log logger.Logger, threshold time.Duration) gormlogger.Interface {
	if threshold <= 0 {
		threshold = 200 * time.Millisecond
	}
	return &slowLogger{log: log, threshold: threshold}
}

func (l *slowLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (l *slowLogger) Info(ctx context.Context, msg string, args ...interface{})  {}
func (l *slowLogger) Warn(ctx context.Context, msg string, args ...interface{})  {}
func (l *slowLogger) Error(ctx context.Context, msg string, args ...interface{}) {}

func (l *slowLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && err != gormlogger.ErrRecordNotFound:
		sql, rows := fc()
		l.log.Error("query failed", "sql", sql, "rows", rows, "error", err)
	case elapsed >= l.threshold:
		sql, rows := fc()
		l.log.Warn("slow query", "sql", sql, "rows", rows, "elapsedMs", elapsed.Milliseconds())
	}
}
